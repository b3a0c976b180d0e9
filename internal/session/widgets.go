/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package session

import (
	"fmt"

	"storylens/internal/macro"
)

// WidgetKind tells what a widget does when clicked.
type WidgetKind int

const (
	CommandEdit WidgetKind = iota + 1
	CommandRemove
	EvidenceEdit
)

func (k WidgetKind) String() string {
	switch k {
	case CommandEdit:
		return "edit"
	case CommandRemove:
		return "remove"
	case EvidenceEdit:
		return "evidence"
	}
	return fmt.Sprintf("WidgetKind(%d)", int(k))
}

// Widget is an affordance anchored at a buffer offset. Exactly one of Command
// and Evidence is set.
type Widget struct {
	Kind     WidgetKind
	Offset   int
	Command  *macro.Command
	Evidence *macro.EvidenceReference
}

// WidgetKey is the structural identity of a widget. Two widgets with equal
// keys are interchangeable.
type WidgetKey struct {
	Kind   WidgetKind
	Offset int
	Type   macro.CommandType
	Name   string
	Span   macro.Span
	Value  string
}

// Key returns the structural identity of w.
func (w Widget) Key() WidgetKey {
	k := WidgetKey{Kind: w.Kind, Offset: w.Offset}
	switch {
	case w.Command != nil:
		k.Type, k.Span, k.Value = w.Command.Type, w.Command.Span, w.Command.Value
	case w.Evidence != nil:
		k.Name, k.Span, k.Value = w.Evidence.Name, w.Evidence.Span, w.Evidence.Value
	}
	return k
}

// DesiredCommandWidgets returns one edit widget per indexed command, placed
// right after its closing bracket, and one remove widget next to the last
// command in index order.
func DesiredCommandWidgets(idx macro.CommandIndex) []Widget {
	cmds := idx.Commands()
	out := make([]Widget, 0, len(cmds)+1)
	for i := range cmds {
		c := cmds[i]
		out = append(out, Widget{Kind: CommandEdit, Offset: c.Span.End + 1, Command: &c})
	}
	if last, ok := idx.Last(); ok {
		out = append(out, Widget{Kind: CommandRemove, Offset: last.Span.End + 1, Command: &last})
	}
	return out
}

// DesiredEvidenceWidgets returns one widget per evidence reference, placed on
// its opening bracket.
func DesiredEvidenceWidgets(refs []macro.EvidenceReference) []Widget {
	out := make([]Widget, 0, len(refs))
	for i := range refs {
		r := refs[i]
		out = append(out, Widget{Kind: EvidenceEdit, Offset: r.Span.Start, Evidence: &r})
	}
	return out
}

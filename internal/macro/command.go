/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package macro

import (
	"fmt"
	"strings"
)

// CommandType names one of the custom macros the editor knows how to manage.
// The value is the macro name as written in passage text.
type CommandType string

const (
	Bot            CommandType = "$ada"
	Action         CommandType = "$action"
	Trigger        CommandType = "$trigger"
	ChatTrigger    CommandType = "$chatTrigger"
	ChatTriggerOff CommandType = "$chatTriggerOff"
)

// ManageableCommands lists the closed set of recognised command types in the
// order they are tested against a span.
var ManageableCommands = []CommandType{Bot, Action, Trigger, ChatTrigger, ChatTriggerOff}

// Prefix is the text a span must start with to be a command of this type.
func (t CommandType) Prefix() string { return "(" + string(t) + ":" }

// Valid reports whether t belongs to ManageableCommands.
func (t CommandType) Valid() bool {
	for _, c := range ManageableCommands {
		if c == t {
			return true
		}
	}
	return false
}

// ParseCommandType accepts either the macro name ("$action") or the bare
// name without the sigil ("action").
func ParseCommandType(s string) (CommandType, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "$") {
		s = "$" + s
	}
	for _, c := range ManageableCommands {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command type %q", s)
}

// Command is one recognised macro invocation.
type Command struct {
	Type  CommandType `json:"type"`
	Value string      `json:"value"`
	Span  Span        `json:"span"`
}

// classify returns the command type whose prefix starts candidate.
func classify(candidate string) (CommandType, bool) {
	for _, c := range ManageableCommands {
		if strings.HasPrefix(candidate, c.Prefix()) {
			return c, true
		}
	}
	return "", false
}

// ExtractManageableCommands walks outward from cursor, one bracket group at a
// time, and returns every recognised command enclosing it, innermost first.
// Groups that are balanced but not recognised are stepped over.
func ExtractManageableCommands(buf string, cursor int) []Command {
	var res []Command
	start, end := cursor, cursor
	for {
		sp, ok := FindWrappingBrackets(buf, start, end)
		if !ok {
			return res
		}
		candidate := sp.Text(buf)
		if t, ok := classify(candidate); ok {
			res = append(res, Command{Type: t, Value: candidate, Span: sp})
		}
		start, end = sp.Start-1, sp.End+1
	}
}

// ScanCommands returns every recognised command in buf regardless of the
// cursor, ordered by start offset. Commands nested in other commands are
// reported as well.
func ScanCommands(buf string) []Command {
	var res []Command
	for i := strings.IndexByte(buf, '('); i >= 0; {
		if t, ok := classify(buf[i:]); ok {
			if sp, ok := FindWrappingBrackets(buf, i+1, i+1); ok && sp.Start == i {
				res = append(res, Command{Type: t, Value: sp.Text(buf), Span: sp})
			}
		}
		next := strings.IndexByte(buf[i+1:], '(')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return res
}

// CommandIndex keeps at most one command per type. It preserves the order in
// which types were first added; adding a type again replaces its command but
// keeps its position.
type CommandIndex struct {
	order  []CommandType
	byType map[CommandType]Command
}

// NewCommandIndex collapses cmds into an index. Later entries win per type, so
// for classifier output the outermost command of each type is kept.
func NewCommandIndex(cmds []Command) CommandIndex {
	idx := CommandIndex{byType: make(map[CommandType]Command, len(cmds))}
	for _, c := range cmds {
		idx.set(c)
	}
	return idx
}

// IndexAt builds the command index for a cursor offset.
func IndexAt(buf string, cursor int) CommandIndex {
	return NewCommandIndex(ExtractManageableCommands(buf, cursor))
}

func (x *CommandIndex) set(c Command) {
	if _, ok := x.byType[c.Type]; !ok {
		x.order = append(x.order, c.Type)
	}
	x.byType[c.Type] = c
}

// Len returns the number of distinct command types held.
func (x CommandIndex) Len() int { return len(x.order) }

// Get returns the command stored for t.
func (x CommandIndex) Get(t CommandType) (Command, bool) {
	c, ok := x.byType[t]
	return c, ok
}

// Types returns the held types in index order.
func (x CommandIndex) Types() []CommandType {
	return append([]CommandType(nil), x.order...)
}

// Commands returns the held commands in index order.
func (x CommandIndex) Commands() []Command {
	out := make([]Command, 0, len(x.order))
	for _, t := range x.order {
		out = append(out, x.byType[t])
	}
	return out
}

// Last returns the command in the last index position.
func (x CommandIndex) Last() (Command, bool) {
	if len(x.order) == 0 {
		return Command{}, false
	}
	return x.byType[x.order[len(x.order)-1]], true
}

// Equal reports structural equality, order included.
func (x CommandIndex) Equal(y CommandIndex) bool {
	if len(x.order) != len(y.order) {
		return false
	}
	for i, t := range x.order {
		if y.order[i] != t || x.byType[t] != y.byType[t] {
			return false
		}
	}
	return true
}

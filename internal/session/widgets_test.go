/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package session

import (
	"sync/atomic"
	"testing"
	"time"

	"storylens/internal/macro"
)

type countingSurface struct {
	*MemorySurface
	ops []string
}

func (c *countingSurface) AttachWidget(offset int, w Widget) WidgetHandle {
	c.ops = append(c.ops, "attach")
	return c.MemorySurface.AttachWidget(offset, w)
}

func (c *countingSurface) DetachWidget(h WidgetHandle) {
	c.ops = append(c.ops, "detach")
	c.MemorySurface.DetachWidget(h)
}

func TestDesiredCommandWidgets(t *testing.T) {
	if got := DesiredCommandWidgets(macro.CommandIndex{}); len(got) != 0 {
		t.Fatalf("empty index must not produce widgets: %+v", got)
	}
	idx := macro.IndexAt(`($trigger: ($action: ($trigger: "a")))`, 33)
	got := DesiredCommandWidgets(idx)
	if len(got) != 3 {
		t.Fatalf("expected 3 widgets, got %d", len(got))
	}
	last := got[2]
	if last.Kind != CommandRemove || last.Command.Type != macro.Action || last.Offset != 37 {
		t.Fatalf("remove widget must follow the last indexed command: %+v", last)
	}
}

func TestReconcilerDetachesBeforeAttaching(t *testing.T) {
	surf := &countingSurface{MemorySurface: NewMemorySurface("")}
	var r Reconciler
	a := macro.EvidenceReference{Name: "A", Span: macro.Span{Start: 0, End: 5}}
	b := macro.EvidenceReference{Name: "B", Span: macro.Span{Start: 7, End: 9}}
	r.Apply(surf, DesiredEvidenceWidgets([]macro.EvidenceReference{a}))
	surf.ops = nil

	r.Apply(surf, DesiredEvidenceWidgets([]macro.EvidenceReference{b}))
	if len(surf.ops) != 2 || surf.ops[0] != "detach" || surf.ops[1] != "attach" {
		t.Fatalf("unexpected op order %v", surf.ops)
	}

	surf.ops = nil
	r.Apply(surf, DesiredEvidenceWidgets([]macro.EvidenceReference{b, b}))
	if len(surf.ops) != 0 || r.Len() != 1 {
		t.Fatalf("unchanged set must be a no-op, got %v len=%d", surf.ops, r.Len())
	}

	r.ReplaceAll = true
	surf.ops = nil
	r.Apply(surf, DesiredEvidenceWidgets([]macro.EvidenceReference{b}))
	if len(surf.ops) != 2 || surf.ops[0] != "detach" {
		t.Fatalf("replace-all must recreate widgets, got %v", surf.ops)
	}

	r.Clear(surf)
	r.Clear(surf)
	if r.Len() != 0 || len(surf.Widgets()) != 0 {
		t.Fatalf("clear left widgets behind")
	}
}

func TestThrottleMergesTriggers(t *testing.T) {
	var runs atomic.Int32
	th := NewThrottle(30*time.Millisecond, func() { runs.Add(1) })
	for i := 0; i < 10; i++ {
		th.Trigger()
	}
	if !th.Pending() {
		t.Fatalf("expected a pending run")
	}
	time.Sleep(120 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Fatalf("expected one merged run, got %d", n)
	}
	th.Trigger()
	th.Stop()
	time.Sleep(60 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Fatalf("stopped throttle ran again: %d", n)
	}
	th.Trigger()
	if th.Pending() {
		t.Fatalf("stopped throttle accepted a trigger")
	}
}

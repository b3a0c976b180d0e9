/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storylens/internal/domain"
	"storylens/internal/macro"
	"storylens/internal/messaging"
)

const workedExample = `($trigger: ($action: "go") )`

type fixture struct {
	surf    *MemorySurface
	docs    *MemoryDocuments
	sess    *Session
	story   *domain.Story
	passage domain.Passage
	out     chan messaging.Message
}

func newFixture(t *testing.T, text string, withSystem bool) *fixture {
	t.Helper()
	st := domain.NewStory("Test")
	p := domain.NewPassage("Hall", text)
	st.Passages = append(st.Passages, p,
		domain.NewPassage(domain.StartupPassage, "startup"),
		domain.NewPassage(domain.FooterPassage, "footer"),
		domain.NewPassage("Cellar", "dark"))
	if withSystem {
		st.Passages = append(st.Passages,
			domain.NewPassage(domain.ImagesPassage, "old images"),
			domain.NewPassage(domain.MappersPassage, "old mappers"))
	}
	editor, service := messaging.Pipe()
	t.Cleanup(func() { _ = editor.Close(); _ = service.Close() })
	out := make(chan messaging.Message, 16)
	service.Subscribe(func(m messaging.Message) { out <- m })

	f := &fixture{
		surf:    NewMemorySurface(text),
		docs:    NewMemoryDocuments(&st),
		story:   &st,
		passage: p,
		out:     out,
	}
	cfg := Config{PassageID: p.ID, EvidenceInterval: 20 * time.Millisecond, InitialScanDelay: 10 * time.Millisecond}
	f.sess = New(cfg, f.surf, f.docs, editor)
	f.sess.Start()
	t.Cleanup(func() { _ = f.sess.Close() })
	return f
}

func (f *fixture) next(t *testing.T) messaging.Message {
	t.Helper()
	select {
	case m := <-f.out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no outbound message")
	}
	return nil
}

func (f *fixture) passageText(name string) string {
	st, _ := f.docs.ActiveStory()
	p, _ := st.PassageByName(name)
	return p.Text
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func widgetsOf(s *MemorySurface, kind WidgetKind) []AttachedWidget {
	var out []AttachedWidget
	for _, w := range s.Widgets() {
		if w.Widget.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

func TestCursorActivityPlacesCommandWidgets(t *testing.T) {
	f := newFixture(t, workedExample, false)
	f.surf.SetCursor(22)

	edits := widgetsOf(f.surf, CommandEdit)
	if len(edits) != 2 || edits[0].Offset != 26 || edits[1].Offset != 28 {
		t.Fatalf("unexpected edit widgets: %+v", edits)
	}
	removes := widgetsOf(f.surf, CommandRemove)
	if len(removes) != 1 || removes[0].Widget.Command.Type != macro.Trigger || removes[0].Offset != 28 {
		t.Fatalf("unexpected remove widgets: %+v", removes)
	}

	// Moving within the same command keeps the same widgets attached.
	before := f.surf.Widgets()
	f.surf.SetCursor(23)
	after := f.surf.Widgets()
	if len(before) != len(after) || before[0].Handle != after[0].Handle {
		t.Fatalf("widgets were recreated without a change")
	}

	f.surf.SetCursor(0)
	// Offset 0 sits on the outer bracket: only the trigger encloses it.
	if got := f.sess.Commands().Types(); len(got) != 1 || got[0] != macro.Trigger {
		t.Fatalf("unexpected commands at 0: %v", got)
	}
}

func TestCursorOutsideCommandsClearsWidgets(t *testing.T) {
	f := newFixture(t, "text "+workedExample, false)
	f.surf.SetCursor(27)
	if len(widgetsOf(f.surf, CommandEdit)) != 2 {
		t.Fatalf("expected command widgets")
	}
	f.surf.SetCursor(1)
	if n := len(widgetsOf(f.surf, CommandEdit)) + len(widgetsOf(f.surf, CommandRemove)); n != 0 {
		t.Fatalf("expected no command widgets, got %d", n)
	}
}

func TestClickEditSendsHalfOpenRange(t *testing.T) {
	f := newFixture(t, workedExample, false)
	f.surf.SetCursor(22)
	edit := widgetsOf(f.surf, CommandEdit)[0]
	if err := f.sess.Click(context.Background(), edit.Widget); err != nil {
		t.Fatalf("click: %v", err)
	}
	req, ok := f.next(t).(messaging.CommandEditRequest)
	if !ok {
		t.Fatalf("expected command edit request")
	}
	if req.Command != macro.Action || req.Start != 11 || req.End != 26 || req.PassageName != "Hall" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.InitialValue == nil || *req.InitialValue != `($action: "go")` {
		t.Fatalf("unexpected initial value %v", req.InitialValue)
	}
}

func TestCommandEditResponseRoundTrip(t *testing.T) {
	f := newFixture(t, workedExample, true)
	f.surf.SetCursor(22)
	images, mappers := "new images", "new mappers"
	err := f.sess.HandleCommandEditResponse(messaging.CommandEditResponse{
		Value: `($action: "run")`, Start: 11, End: 26,
		ImagesPassageContent: &images, MappersPassageContent: &mappers,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := `($trigger: ($action: "run") )`
	if got := f.surf.Text(); got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
	c, ok := macro.IndexAt(f.surf.Text(), 22).Get(macro.Action)
	if !ok || c.Value != `($action: "run")` {
		t.Fatalf("classifier did not see the new value: %+v", c)
	}
	if got := f.passageText("Hall"); got != want {
		t.Fatalf("passage not synced: %q", got)
	}
	if f.passageText(domain.ImagesPassage) != images || f.passageText(domain.MappersPassage) != mappers {
		t.Fatalf("system passages not updated")
	}

	if err := f.sess.UndoReplacement(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got := f.surf.Text(); got != workedExample {
		t.Fatalf("undo text = %q", got)
	}
	if err := f.sess.UndoReplacement(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestSystemPassagesNeedBothPassages(t *testing.T) {
	f := newFixture(t, workedExample, false)
	images := "x"
	err := f.sess.HandleCommandEditResponse(messaging.CommandEditResponse{Value: "", Start: 0, End: 0, ImagesPassageContent: &images})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := f.story.PassageByName(domain.ImagesPassage); ok {
		t.Fatalf("images passage must not be created")
	}
}

func TestCommandEditResponseOutOfRange(t *testing.T) {
	f := newFixture(t, "short", false)
	err := f.sess.HandleCommandEditResponse(messaging.CommandEditResponse{Value: "x", Start: 2, End: 99})
	if !errors.Is(err, ErrRangeOutOfBounds) {
		t.Fatalf("expected ErrRangeOutOfBounds, got %v", err)
	}
	if f.surf.Text() != "short" {
		t.Fatalf("buffer changed")
	}
}

func TestClickRemove(t *testing.T) {
	f := newFixture(t, workedExample, false)
	f.surf.SetCursor(22)
	action, _ := f.sess.Commands().Get(macro.Action)
	if err := f.sess.ClickRemove(action); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := f.surf.Text(); got != `($trigger:  )` {
		t.Fatalf("text = %q", got)
	}
	// The widget is stale now.
	if err := f.sess.ClickRemove(action); !errors.Is(err, ErrStaleCommand) {
		t.Fatalf("expected ErrStaleCommand, got %v", err)
	}
	select {
	case m := <-f.out:
		t.Fatalf("remove must not send anything, got %+v", m)
	default:
	}
}

func TestEvidenceWidgetsFollowBuffer(t *testing.T) {
	f := newFixture(t, `before ($evidence: "Knife") after`, false)
	eventually(t, func() bool { return len(widgetsOf(f.surf, EvidenceEdit)) == 1 })
	w := widgetsOf(f.surf, EvidenceEdit)[0]
	if w.Offset != 7 || w.Widget.Evidence.Name != "Knife" {
		t.Fatalf("unexpected evidence widget %+v", w)
	}

	f.surf.SetCursor(len(f.surf.Text()))
	if err := f.surf.Insert(` ($evidence: "Rope")`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	eventually(t, func() bool { return len(widgetsOf(f.surf, EvidenceEdit)) == 2 })

	if err := f.sess.Click(context.Background(), w.Widget); err != nil {
		t.Fatalf("click: %v", err)
	}
	req, ok := f.next(t).(messaging.EditEvidenceRequest)
	if !ok || req.EvidenceName != "Knife" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestCreateCommand(t *testing.T) {
	f := newFixture(t, "intro "+workedExample, false)
	f.surf.SetCursor(10)
	if err := f.sess.CreateCommand(context.Background(), macro.ChatTrigger); !errors.Is(err, ErrCommandUnderCursor) {
		t.Fatalf("expected ErrCommandUnderCursor, got %v", err)
	}
	f.surf.SetCursor(3)
	if err := f.sess.CreateCommand(context.Background(), macro.ChatTrigger); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := f.next(t).(messaging.CommandEditRequest)
	if req.Command != macro.ChatTrigger || req.InitialValue != nil || req.Start != 3 || req.End != 3 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestGenerateSkipsSystemPassages(t *testing.T) {
	f := newFixture(t, "hall text", true)
	if err := f.surf.Insert("> "); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := f.sess.Generate(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := f.next(t).(messaging.GeneratePassageRequest)
	if req.CurrentPassageID != f.passage.ID {
		t.Fatalf("unexpected current passage %q", req.CurrentPassageID)
	}
	var names []string
	for _, p := range req.Passages {
		names = append(names, p.Name)
		if p.Name == "Hall" && p.Content != "> hall text" {
			t.Fatalf("buffer not flushed before generate: %q", p.Content)
		}
	}
	if len(names) != 2 || names[0] != "Hall" || names[1] != "Cellar" {
		t.Fatalf("unexpected passages %v", names)
	}
}

func TestGenerateResponse(t *testing.T) {
	f := newFixture(t, "hall text", true)
	mappers := "m2"
	err := f.sess.HandleGeneratePassageResponse(messaging.GeneratePassageResponse{
		Content: "generated", CurrentPassageID: f.passage.ID, MappersPassageContent: &mappers,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.surf.Text() != "generated" || f.passageText("Hall") != "generated" || f.passageText(domain.MappersPassage) != "m2" {
		t.Fatalf("generate response not applied")
	}
}

func TestNoActivePassage(t *testing.T) {
	f := newFixture(t, workedExample, false)
	f.docs.Replace(nil)
	f.surf.SetCursor(22)
	c, _ := f.sess.Commands().Get(macro.Action)
	if err := f.sess.ClickEdit(context.Background(), c); !errors.Is(err, ErrNoActivePassage) {
		t.Fatalf("expected ErrNoActivePassage, got %v", err)
	}
	if err := f.sess.Generate(context.Background()); !errors.Is(err, ErrNoActivePassage) {
		t.Fatalf("expected ErrNoActivePassage, got %v", err)
	}
}

func TestCloseDetachesEverything(t *testing.T) {
	f := newFixture(t, `($action: ($evidence: "Knife"))`, false)
	eventually(t, func() bool { return len(widgetsOf(f.surf, EvidenceEdit)) == 1 })
	f.surf.SetCursor(5)
	if len(f.surf.Widgets()) == 1 {
		t.Fatalf("expected command widgets too")
	}
	if err := f.sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if n := len(f.surf.Widgets()); n != 0 {
		t.Fatalf("expected no widgets after close, got %d", n)
	}
	f.surf.SetCursor(6)
	if n := len(f.surf.Widgets()); n != 0 {
		t.Fatalf("closed session reacted to cursor activity")
	}
	if err := f.sess.ClickRemove(macro.Command{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSessionsDoNotShareState(t *testing.T) {
	a := newFixture(t, workedExample, false)
	b := newFixture(t, workedExample, false)
	a.surf.SetCursor(22)
	if b.sess.Commands().Len() != 0 || len(widgetsOf(b.surf, CommandEdit)) != 0 {
		t.Fatalf("second session picked up state of the first")
	}
}

// pausingSurface blocks the first Text call until release is closed, returning
// the text it saw before blocking.
type pausingSurface struct {
	*MemorySurface
	once    sync.Once
	parked  chan struct{}
	release chan struct{}
}

func (p *pausingSurface) Text() string {
	text := p.MemorySurface.Text()
	p.once.Do(func() {
		close(p.parked)
		<-p.release
	})
	return text
}

func TestRecomputeCommandsAppliesInObservedOrder(t *testing.T) {
	mem := NewMemorySurface(workedExample)
	mem.SetCursor(2)
	surf := &pausingSurface{MemorySurface: mem, parked: make(chan struct{}), release: make(chan struct{})}
	editor, service := messaging.Pipe()
	t.Cleanup(func() { _ = editor.Close(); _ = service.Close() })
	sess := New(Config{PassageID: "p"}, surf, NewMemoryDocuments(nil), editor)
	t.Cleanup(func() { _ = sess.Close() })

	first := make(chan struct{})
	go func() { sess.RecomputeCommands(); close(first) }()
	<-surf.parked

	if err := mem.ReplaceRange(0, len(workedExample), "plain"); err != nil {
		t.Fatal(err)
	}
	second := make(chan struct{})
	go func() { sess.RecomputeCommands(); close(second) }()
	time.Sleep(20 * time.Millisecond)
	close(surf.release)
	<-first
	<-second

	if n := sess.Commands().Len(); n != 0 {
		t.Fatalf("commands = %d after the buffer became %q", n, mem.Text())
	}
	if ws := mem.Widgets(); len(ws) != 0 {
		t.Fatalf("stale widgets attached: %+v", ws)
	}
}

func TestMemorySurfaceStateIsConsistent(t *testing.T) {
	surf := NewMemorySurface("")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			_ = surf.Insert("abc")
			text := surf.Text()
			_ = surf.ReplaceRange(0, len(text), "")
		}
	}()
	for {
		select {
		case <-done:
			return
		default:
		}
		text, c := surf.State()
		if c < 0 || c > len(text) {
			t.Fatalf("cursor %d outside %q", c, text)
		}
	}
}

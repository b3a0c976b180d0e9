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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storylens/internal/domain"
	applog "storylens/internal/log"
	"storylens/internal/macro"
	"storylens/internal/messaging"
	"storylens/internal/telemetry"
	"storylens/internal/undo"
)

var (
	// ErrNoActivePassage is returned when a click needs a story and passage
	// but none is open.
	ErrNoActivePassage = errors.New("no active story passage")
	// ErrCommandUnderCursor refuses creating a command inside another one.
	ErrCommandUnderCursor = errors.New("cursor is inside a manageable command")
	// ErrStaleCommand is returned when a widget no longer matches the buffer.
	ErrStaleCommand = errors.New("command no longer matches the buffer")
	// ErrRangeOutOfBounds rejects replacements outside the buffer.
	ErrRangeOutOfBounds = errors.New("replacement range out of bounds")
	// ErrNothingToUndo is returned when the passage has no recorded change.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Config configures one session.
type Config struct {
	// PassageID is the passage whose text the surface edits.
	PassageID string
	// EvidenceInterval is the trailing delay of the evidence rescan.
	EvidenceInterval time.Duration
	// InitialScanDelay is the delay of the first evidence scan after Start.
	InitialScanDelay time.Duration
	// SendTimeout bounds outbound sends when the caller's context has no deadline.
	SendTimeout time.Duration
}

// DefaultConfig returns the editor defaults.
func DefaultConfig(passageID string) Config {
	return Config{
		PassageID:        passageID,
		EvidenceInterval: 500 * time.Millisecond,
		InitialScanDelay: 200 * time.Millisecond,
		SendTimeout:      5 * time.Second,
	}
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// WithHistory shares an undo history between sessions.
func WithHistory(h *undo.Manager) Option { return func(s *Session) { s.history = h } }

// Session is the widget and request controller of one editing surface.
// All state is per session.
type Session struct {
	cfg     Config
	surf    Surface
	docs    Documents
	ch      messaging.Channel
	log     *slog.Logger
	history *undo.Manager

	throttle *Throttle

	mu       sync.Mutex
	commands macro.CommandIndex
	evidence []macro.EvidenceReference
	cmdW     Reconciler
	evW      Reconciler
	cancels  []func()
	started  bool
	closed   bool
}

// New creates a session. Nothing is observed until Start.
func New(cfg Config, surf Surface, docs Documents, ch messaging.Channel, opts ...Option) *Session {
	def := DefaultConfig(cfg.PassageID)
	if cfg.EvidenceInterval <= 0 {
		cfg.EvidenceInterval = def.EvidenceInterval
	}
	if cfg.InitialScanDelay <= 0 {
		cfg.InitialScanDelay = def.InitialScanDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	s := &Session{
		cfg:  cfg,
		surf: surf,
		docs: docs,
		ch:   ch,
		evW:  Reconciler{ReplaceAll: true},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = applog.WithComponent("session").With(slog.String("passage", cfg.PassageID))
	}
	if s.history == nil {
		s.history = undo.NewManager(undo.Config{MaxPerPassage: 50})
	}
	s.throttle = NewThrottle(cfg.EvidenceInterval, s.RescanEvidence)
	return s
}

// Start subscribes to the surface and schedules the first evidence scan.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	c1 := s.surf.OnCursorActivity(s.RecomputeCommands)
	c2 := s.surf.OnChange(s.throttle.Trigger)

	s.mu.Lock()
	s.cancels = append(s.cancels, c1, c2)
	s.mu.Unlock()
	s.throttle.Schedule(s.cfg.InitialScanDelay)
	s.log.Debug("session started")
}

// Close unsubscribes, stops timers and detaches every widget. It is idempotent.
func (s *Session) Close() error {
	s.throttle.Stop()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.cmdW.Clear(s.surf)
	s.evW.Clear(s.surf)
	s.commands = macro.CommandIndex{}
	s.evidence = nil
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	s.log.Debug("session closed")
	return nil
}

// PassageID returns the passage bound to this session.
func (s *Session) PassageID() string { return s.cfg.PassageID }

// Commands returns the commands around the cursor as of the last recomputation.
func (s *Session) Commands() macro.CommandIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

// Evidence returns the evidence references as of the last rescan.
func (s *Session) Evidence() []macro.EvidenceReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]macro.EvidenceReference(nil), s.evidence...)
}

// RecomputeCommands rebuilds the command index at the cursor and reconciles
// the command widgets. It runs on every cursor move.
//
// The surface is read under the session lock so that concurrent callers
// apply their results in the order they observed the buffer.
func (s *Session) RecomputeCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	idx := macro.IndexAt(s.surf.Text(), s.surf.CursorOffset())
	s.commands = idx
	s.cmdW.Apply(s.surf, DesiredCommandWidgets(idx))
}

// RescanEvidence scans the whole buffer for evidence references and replaces
// the evidence widgets.
func (s *Session) RescanEvidence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	refs := macro.ExtractEvidenceReferences(s.surf.Text())
	s.evidence = refs
	s.evW.Apply(s.surf, DesiredEvidenceWidgets(refs))
}

// Click performs the action of an attached widget.
func (s *Session) Click(ctx context.Context, w Widget) error {
	switch w.Kind {
	case CommandEdit:
		return s.ClickEdit(ctx, *w.Command)
	case CommandRemove:
		return s.ClickRemove(*w.Command)
	case EvidenceEdit:
		return s.ClickEvidence(ctx, *w.Evidence)
	}
	return fmt.Errorf("unknown widget kind %v", w.Kind)
}

// ClickEdit asks the authoring service to edit cmd.
func (s *Session) ClickEdit(ctx context.Context, cmd macro.Command) error {
	p, err := s.activePassage()
	if err != nil {
		return err
	}
	value := cmd.Value
	req := messaging.CommandEditRequest{
		Command:      cmd.Type,
		InitialValue: &value,
		Start:        cmd.Span.Start,
		End:          cmd.Span.End + 1,
		PassageName:  p.Name,
	}
	telemetry.Event("command_edit_requested", telemetry.Props{"command": string(cmd.Type)})
	return s.send(ctx, req)
}

// ClickRemove deletes cmd from the buffer. No request is sent.
func (s *Session) ClickRemove(cmd macro.Command) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	text := s.surf.Text()
	if cmd.Span.Start < 0 || cmd.Span.End >= len(text) || cmd.Span.Text(text) != cmd.Value {
		return ErrStaleCommand
	}
	return s.replace(text, cmd.Span.Start, cmd.Span.End+1, "")
}

// ClickEvidence asks the authoring service to open the referenced evidence.
func (s *Session) ClickEvidence(ctx context.Context, ref macro.EvidenceReference) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.send(ctx, messaging.EditEvidenceRequest{EvidenceName: ref.Name})
}

// CreateCommand asks the service for a new command of type t at the cursor.
// It is refused while the cursor sits inside a manageable command.
func (s *Session) CreateCommand(ctx context.Context, t macro.CommandType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown command type %q", t)
	}
	p, err := s.activePassage()
	if err != nil {
		return err
	}
	text, cursor := s.surf.Text(), s.surf.CursorOffset()
	if macro.IndexAt(text, cursor).Len() > 0 {
		return ErrCommandUnderCursor
	}
	telemetry.Event("command_create_requested", telemetry.Props{"command": string(t)})
	return s.send(ctx, messaging.CommandEditRequest{
		Command:     t,
		Start:       cursor,
		End:         cursor,
		PassageName: p.Name,
	})
}

// Generate asks the service to write the text of this session's passage.
// Every passage except the generated system passages is sent along.
func (s *Session) Generate(ctx context.Context) error {
	if _, err := s.activePassage(); err != nil {
		return err
	}
	if err := s.syncBuffer(); err != nil {
		return err
	}
	st, err := s.docs.ActiveStory()
	if err != nil || st == nil {
		return ErrNoActivePassage
	}
	req := messaging.GeneratePassageRequest{CurrentPassageID: s.cfg.PassageID}
	for _, p := range st.Passages {
		if domain.IsSystemPassage(p.Name) {
			continue
		}
		req.Passages = append(req.Passages, messaging.PassageContent{ID: p.ID, Name: p.Name, Content: p.Text})
	}
	telemetry.Event("generate_requested", telemetry.Props{"passages": len(req.Passages)})
	return s.send(ctx, req)
}

// HandleCommandEditResponse replaces [Start, End) with the answered value and
// then updates the Images and Mappers passages.
func (s *Session) HandleCommandEditResponse(resp messaging.CommandEditResponse) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	text := s.surf.Text()
	if resp.Start < 0 || resp.End < resp.Start || resp.End > len(text) {
		return fmt.Errorf("%w: [%d, %d) in %d bytes", ErrRangeOutOfBounds, resp.Start, resp.End, len(text))
	}
	if err := s.replace(text, resp.Start, resp.End, resp.Value); err != nil {
		return err
	}
	if err := s.syncBuffer(); err != nil {
		return err
	}
	return s.updateSystemPassages(resp.ImagesPassageContent, resp.MappersPassageContent)
}

// HandleGeneratePassageResponse rewrites the generated passage and, when
// given, the Mappers passage. The surface follows when it shows that passage.
func (s *Session) HandleGeneratePassageResponse(resp messaging.GeneratePassageResponse) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	st, err := s.docs.ActiveStory()
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	if resp.CurrentPassageID == s.cfg.PassageID {
		text := s.surf.Text()
		if text != resp.Content {
			if err := s.replace(text, 0, len(text), resp.Content); err != nil {
				return err
			}
		}
	}
	var updates []domain.PassageUpdate
	for _, p := range st.Passages {
		switch {
		case p.ID == resp.CurrentPassageID:
			updates = append(updates, domain.PassageUpdate{ID: p.ID, Text: resp.Content})
		case p.Name == domain.MappersPassage && resp.MappersPassageContent != nil:
			updates = append(updates, domain.PassageUpdate{ID: p.ID, Text: *resp.MappersPassageContent})
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.docs.UpdatePassages(updates)
}

// UndoReplacement restores the buffer as it was before the last replacement
// this session applied.
func (s *Session) UndoReplacement() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	text := s.surf.Text()
	e, ok := s.history.Undo(s.cfg.PassageID, text)
	if !ok {
		return ErrNothingToUndo
	}
	if err := s.surf.ReplaceRange(0, len(text), e.Text); err != nil {
		return err
	}
	s.RecomputeCommands()
	return s.syncBuffer()
}

// updateSystemPassages writes the optional contents into the Images and
// Mappers passages. Stories lacking either passage are left alone.
func (s *Session) updateSystemPassages(images, mappers *string) error {
	if images == nil && mappers == nil {
		return nil
	}
	st, err := s.docs.ActiveStory()
	if err != nil || st == nil {
		return err
	}
	img, okImg := st.PassageByName(domain.ImagesPassage)
	mp, okMp := st.PassageByName(domain.MappersPassage)
	if !okImg || !okMp {
		return nil
	}
	var updates []domain.PassageUpdate
	if mappers != nil {
		updates = append(updates, domain.PassageUpdate{ID: mp.ID, Text: *mappers})
	}
	if images != nil {
		updates = append(updates, domain.PassageUpdate{ID: img.ID, Text: *images})
	}
	return s.docs.UpdatePassages(updates)
}

// replace records the current text and applies one replacement. The lock is
// not held: the surface may call back into the session synchronously.
func (s *Session) replace(before string, start, end int, value string) error {
	s.history.Record(undo.Entry{PassageID: s.cfg.PassageID, Text: before, TS: time.Now()})
	if err := s.surf.ReplaceRange(start, end, value); err != nil {
		return fmt.Errorf("replace [%d, %d): %w", start, end, err)
	}
	s.RecomputeCommands()
	return nil
}

// syncBuffer writes the surface text back to the bound passage.
func (s *Session) syncBuffer() error {
	if s.cfg.PassageID == "" {
		return nil
	}
	return s.docs.UpdatePassages([]domain.PassageUpdate{{ID: s.cfg.PassageID, Text: s.surf.Text()}})
}

func (s *Session) activePassage() (*domain.Passage, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st, err := s.docs.ActiveStory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoActivePassage, err)
	}
	if st == nil || s.cfg.PassageID == "" {
		return nil, ErrNoActivePassage
	}
	p, ok := st.PassageByID(s.cfg.PassageID)
	if !ok {
		return nil, ErrNoActivePassage
	}
	return p, nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) send(ctx context.Context, m messaging.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}
	if err := s.ch.Send(ctx, m); err != nil {
		s.log.Warn("send failed", slog.String("kind", string(m.Kind())), slog.Any("err", err))
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	s.log.Debug("sent", slog.String("kind", string(m.Kind())))
	return nil
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package host wires the authoring service channel to the story store and the
// editing session of the passage that is currently open.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storylens/internal/datamap"
	"storylens/internal/domain"
	applog "storylens/internal/log"
	"storylens/internal/messaging"
	"storylens/internal/session"
	"storylens/internal/twee"
)

var (
	// ErrNotInitiated is returned for requests that need a story before the
	// service has sent initiate.
	ErrNotInitiated = errors.New("workspace not initiated")
	// ErrNoSession is returned when a response arrives while no passage is open.
	ErrNoSession = errors.New("no editing session open")
)

// DefaultStoryName names stories created from evidence only.
const DefaultStoryName = "Untitled Story"

// Store is the story model the workspace owns.
type Store interface {
	session.Documents
	Replace(st *domain.Story) error
}

// ImportError collects the problems found in an imported twee source.
type ImportError struct {
	Problems []twee.Error
}

func (e *ImportError) Error() string {
	if len(e.Problems) == 1 {
		return "import twee: " + e.Problems[0].Message
	}
	return fmt.Sprintf("import twee: %d problems, first: %s", len(e.Problems), e.Problems[0].Message)
}

// Option customises a Workspace.
type Option func(*Workspace)

// WithLogger sets the workspace logger.
func WithLogger(l *slog.Logger) Option { return func(w *Workspace) { w.log = l } }

// WithSendTimeout bounds outbound sends.
func WithSendTimeout(d time.Duration) Option { return func(w *Workspace) { w.sendTimeout = d } }

// Workspace holds the initiated state and the active session. It implements
// messaging.InboundHandler.
type Workspace struct {
	docs        Store
	ch          messaging.Channel
	log         *slog.Logger
	sendTimeout time.Duration

	mu        sync.Mutex
	initiated bool
	theme     string
	active    *session.Session
}

var _ messaging.InboundHandler = (*Workspace)(nil)

// New creates a workspace around docs talking over ch.
func New(docs Store, ch messaging.Channel, opts ...Option) *Workspace {
	w := &Workspace{docs: docs, ch: ch, sendTimeout: 5 * time.Second}
	for _, o := range opts {
		o(w)
	}
	if w.log == nil {
		w.log = applog.WithComponent("host")
	}
	return w
}

// Listen dispatches inbound messages from the channel to the workspace.
// Handler errors are logged.
func (w *Workspace) Listen() (cancel func()) {
	return w.ch.Subscribe(messaging.HandlerFunc(w, func(m messaging.Message, err error) {
		w.log.Warn("inbound message failed", slog.String("kind", string(m.Kind())), slog.Any("err", err))
	}))
}

// Mount announces readiness to the service.
func (w *Workspace) Mount(ctx context.Context) error {
	return w.send(ctx, messaging.MountDone{})
}

// Initiated reports whether an initiate message has been applied.
func (w *Workspace) Initiated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initiated
}

// Resume marks the workspace initiated with the story the store already
// holds and confirms it to the service. A later initiate still resets it.
func (w *Workspace) Resume(ctx context.Context) error {
	st, err := w.docs.ActiveStory()
	if err != nil {
		return err
	}
	if st == nil {
		return ErrNotInitiated
	}
	w.mu.Lock()
	w.initiated = true
	w.mu.Unlock()
	return w.send(ctx, messaging.InitiationDone{})
}

// Theme returns the last theme preference received.
func (w *Workspace) Theme() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.theme
}

// Active returns the open session, or nil.
func (w *Workspace) Active() *session.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// OpenPassage closes the current session and starts a new one bound to the
// passage named name.
func (w *Workspace) OpenPassage(name string, surf session.Surface, cfg session.Config, opts ...session.Option) (*session.Session, error) {
	if !w.Initiated() {
		return nil, ErrNotInitiated
	}
	st, err := w.docs.ActiveStory()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotInitiated
	}
	p, ok := st.PassageByName(name)
	if !ok {
		return nil, fmt.Errorf("passage %q not found", name)
	}
	cfg.PassageID = p.ID
	s := session.New(cfg, surf, w.docs, w.ch, opts...)
	w.setActive(s)
	s.Start()
	w.log.Info("passage opened", slog.String("passage", name))
	return s, nil
}

// ClosePassage closes the active session, if any.
func (w *Workspace) ClosePassage() error {
	w.setActive(nil)
	return nil
}

func (w *Workspace) setActive(s *session.Session) {
	w.mu.Lock()
	prev := w.active
	w.active = s
	w.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// HandleInitiate resets the workspace and loads a story: the twee source when
// given, otherwise a fresh story built around the evidence.
func (w *Workspace) HandleInitiate(m messaging.Initiate) error {
	w.setActive(nil)
	w.mu.Lock()
	w.initiated = false
	if m.Theme != "" {
		w.theme = m.Theme
	}
	w.mu.Unlock()

	var st domain.Story
	if m.Source != nil {
		parsed, problems := twee.Parse(*m.Source)
		if len(problems) > 0 {
			return &ImportError{Problems: problems}
		}
		st = parsed
	} else {
		var ev datamap.Evidence
		if m.Evidence != nil {
			ev = *m.Evidence
		}
		st = NewEvidenceStory(DefaultStoryName, ev)
	}
	if err := w.docs.Replace(&st); err != nil {
		return fmt.Errorf("store story: %w", err)
	}
	w.mu.Lock()
	w.initiated = true
	w.mu.Unlock()
	w.log.Info("initiated", slog.String("story", st.Name), slog.Int("passages", len(st.Passages)))
	return w.send(context.Background(), messaging.InitiationDone{})
}

// NewEvidenceStory builds a story holding a start passage that shows the
// evidence data on the first visit, and the evidence data passage itself.
func NewEvidenceStory(name string, ev datamap.Evidence) domain.Story {
	st := domain.NewStory(name)
	start, _ := st.AddPassage("Start", datamap.EntryText, nil, domain.PlaceOptions{CenterX: 100, CenterY: 100, DefaultSize: true})
	st.StartPassage = start.ID
	_, _ = st.AddPassage(domain.EvidencePassage, datamap.EvidenceData(ev), nil, domain.PlaceOptions{CenterX: 350, CenterY: 100, DefaultSize: true})
	return st
}

// HandleExport answers with the story as twee source.
func (w *Workspace) HandleExport(messaging.Export) error {
	st, err := w.story()
	if err != nil {
		return err
	}
	return w.send(context.Background(), messaging.ExportResponse{Source: twee.Format(*st)})
}

// HandleUpdateData rewrites the evidence data passage, creating it when the
// story lacks one. A Startup passage, when present, is regenerated too.
func (w *Workspace) HandleUpdateData(m messaging.UpdateData) error {
	st, err := w.story()
	if err != nil {
		return err
	}
	text := datamap.EvidenceData(m.Evidence)
	var updates []domain.PassageUpdate
	if p, ok := st.PassageByName(domain.StartupPassage); ok {
		updates = append(updates, domain.PassageUpdate{ID: p.ID, Text: datamap.Startup(m.Evidence)})
	}
	p, ok := st.PassageByName(domain.EvidencePassage)
	if ok {
		updates = append(updates, domain.PassageUpdate{ID: p.ID, Text: text})
		return w.docs.UpdatePassages(updates)
	}
	st.ApplyUpdates(updates)
	if _, err := st.AddPassage(domain.EvidencePassage, text, nil, domain.PlaceOptions{CenterX: 350, CenterY: 100, DefaultSize: true}); err != nil {
		return err
	}
	return w.docs.Replace(st)
}

// HandleUpdatePrefs stores the theme preference.
func (w *Workspace) HandleUpdatePrefs(m messaging.UpdatePrefs) error {
	w.mu.Lock()
	w.theme = m.Theme
	w.mu.Unlock()
	return nil
}

// HandleCommandEditResponse forwards the answer to the active session.
func (w *Workspace) HandleCommandEditResponse(m messaging.CommandEditResponse) error {
	s := w.Active()
	if s == nil {
		return ErrNoSession
	}
	return s.HandleCommandEditResponse(m)
}

// HandleGeneratePassageResponse forwards the answer to the active session.
func (w *Workspace) HandleGeneratePassageResponse(m messaging.GeneratePassageResponse) error {
	s := w.Active()
	if s == nil {
		return ErrNoSession
	}
	return s.HandleGeneratePassageResponse(m)
}

func (w *Workspace) story() (*domain.Story, error) {
	if !w.Initiated() {
		return nil, ErrNotInitiated
	}
	st, err := w.docs.ActiveStory()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotInitiated
	}
	return st, nil
}

func (w *Workspace) send(ctx context.Context, m messaging.Message) error {
	ctx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()
	if err := w.ch.Send(ctx, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	return nil
}

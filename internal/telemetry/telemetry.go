/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
// Package telemetry provides an opt-in, anonymous usage event sender and
// optional crash uploads. Events are queued, batched, and posted in the
// background; nothing here ever blocks an editing session.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	applog "storylens/internal/log"
	"storylens/internal/version"
)

// Config holds runtime configuration for telemetry and crash uploads.
// All telemetry is strictly opt-in and disabled by default.
//
// Environment variables (read by FromEnv):
//   - SLS_TELEMETRY_OPT_IN: "1", "true", "yes" to enable events
//   - SLS_TELEMETRY_URL: URL events are POSTed to as a JSON batch
//   - SLS_CRASH_UPLOAD_URL: URL to POST crash reports to
//   - SLS_TELEMETRY_TIMEOUT_MS: request timeout, default 1500ms
//   - SLS_TELEMETRY_DEBUG: if set, logs send attempts
//
// If no URL is set, events are dropped even when opted in.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	BatchSize    int
	BatchWait    time.Duration
	DebugLogging bool
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("SLS_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("SLS_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("SLS_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("SLS_TELEMETRY_DEBUG") != "",
	}
	if ms, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SLS_TELEMETRY_TIMEOUT_MS"))); err == nil && ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Props are event properties. Only scalar values survive; strings are cut at
// maxPropLen so passage text can never leak into an event.
type Props map[string]any

const maxPropLen = 64

func (p Props) sanitize() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch x := v.(type) {
		case string:
			if len(x) > maxPropLen {
				x = x[:maxPropLen]
			}
			out[k] = x
		case bool, int, int64, float64:
			out[k] = x
		}
	}
	return out
}

// event is one queued record.
type event struct {
	Name    string         `json:"name"`
	TS      string         `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

// Client is an async batching sender; it drops events silently on errors and
// when its bounded queue is full.
type Client struct {
	cfg     Config
	log     *slog.Logger
	cli     *http.Client
	q       chan event
	pending sync.WaitGroup
	once    sync.Once
	closed  chan struct{}
	stopped chan struct{}
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

func getDefault() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// SetDefault installs c as the package-level client and closes the previous one.
func SetDefault(c *Client) {
	defaultMu.Lock()
	old := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if old != nil && old != c {
		old.Close()
	}
}

// New constructs a client and starts its sender goroutine.
func New(cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 250 * time.Millisecond
	}
	c := &Client{
		cfg:     cfg,
		log:     applog.WithComponent("telemetry"),
		cli:     &http.Client{Timeout: cfg.Timeout},
		q:       make(chan event, 64),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether telemetry is opted in and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Enabled reports the state of the default client.
func Enabled() bool { return getDefault().Enabled() }

// Event queues a named event if enabled. Safe to call from anywhere.
func (c *Client) Event(name string, props Props) {
	if !c.Enabled() || name == "" {
		return
	}
	ev := event{
		Name:    name,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Props:   props.sanitize(),
	}
	c.pending.Add(1)
	select {
	case c.q <- ev:
	default:
		c.pending.Done()
	}
}

// Event queues on the default client.
func Event(name string, props Props) { getDefault().Event(name, props) }

// Flush waits until every queued event was posted or ctx ends.
func (c *Client) Flush(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close stops the sender goroutine; queued events are dropped.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		<-c.stopped
	})
}

func (c *Client) loop() {
	defer close(c.stopped)
	var batch []event
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.post(batch)
		for range batch {
			c.pending.Done()
		}
		batch = batch[:0]
	}
	for {
		select {
		case <-c.closed:
			for range batch {
				c.pending.Done()
			}
			for {
				select {
				case <-c.q:
					c.pending.Done()
				default:
					return
				}
			}
		case ev := <-c.q:
			batch = append(batch, ev)
			if len(batch) == 1 {
				timer.Reset(c.cfg.BatchWait)
			}
			if len(batch) >= c.cfg.BatchSize {
				timer.Stop()
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

func (c *Client) post(batch []event) {
	buf, err := json.Marshal(map[string]any{"events": batch})
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.EventsURL, bytes.NewReader(buf))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.Any("err", err), slog.Int("events", len(batch)))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry batch sent", slog.Int("events", len(batch)), slog.Int("status", resp.StatusCode))
	}
}

// UploadCrash posts an already-serialized crash report to the crash URL if opted in.
// It waits for the upload up to the client timeout.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.CrashURL, bytes.NewReader(report))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("crash upload failed", slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
}

// UploadCrash uses the default client.
func UploadCrash(report []byte) { getDefault().UploadCrash(report) }

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
// Package crash turns panics into a crash report and an autosave of the open story.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "storylens/internal/log"
	"storylens/internal/storage"
	"storylens/internal/telemetry"
	"storylens/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Recover captures a panic, logs it with its stack, writes a report file and
// autosaves the story held by h (if any), then exits with code 2.
//
// Usage: defer crash.Recover(h)
func Recover(h *storage.StoryHandle) {
	r := recover()
	if r == nil {
		return
	}
	Report(h, r, debug.Stack())
	exitFn(2)
}

// RecoverWith is Recover for callers whose story is opened after the defer
// statement runs; get is called only when a panic is being handled.
//
// Usage: defer crash.RecoverWith(func() *storage.StoryHandle { return current })
func RecoverWith(get func() *storage.StoryHandle) {
	r := recover()
	if r == nil {
		return
	}
	var h *storage.StoryHandle
	if get != nil {
		h = get()
	}
	Report(h, r, debug.Stack())
	exitFn(2)
}

// Report handles a recovered panic value without exiting and returns the
// report path. Goroutines that must keep running use it directly.
func Report(h *storage.StoryHandle, panicVal any, stack []byte) string {
	l := applog.WithComponent("crash")
	l.Error("panic recovered", slog.Any("panic", panicVal), slog.String("stack", string(stack)))

	reportPath, err := writeReport(h, panicVal, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if h != nil {
		if path, err := storage.AutosaveCrashSnapshot(h); err != nil {
			l.Error("autosave crash snapshot failed", slog.Any("err", err))
		} else {
			l.Info("autosave crash snapshot written", slog.String("path", path))
		}
	}
	_, _ = fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath)
	_, _ = fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH)
	return reportPath
}

func writeReport(h *storage.StoryHandle, panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if h != nil && h.Root != "" {
		dir = filepath.Join(h.Root, storage.BackupsDirName)
		_ = os.MkdirAll(dir, 0o755)
	}
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", time.Now().Format("20060102-150405")))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "StoryLens Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if h != nil {
		st := h.Snapshot()
		_, _ = fmt.Fprintf(&buf, "StoryRoot: %s\n", h.Root)
		_, _ = fmt.Fprintf(&buf, "Story: %s (%d passages)\n", st.Name, len(st.Passages))
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}
	// opt-in upload; the report carries no passage text
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}

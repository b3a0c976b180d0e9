/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"storylens/internal/config"
	"storylens/internal/host"
	applog "storylens/internal/log"
	"storylens/internal/macro"
	"storylens/internal/messaging"
	"storylens/internal/session"
	"storylens/internal/storage"
	"storylens/internal/undo"
)

const attachHelp = `commands:
  show                  print the passage with the cursor marked as |
  cursor <offset>       move the cursor
  type <text>           insert text at the cursor (\n for newlines)
  commands              list the commands under the cursor
  evidence              list the evidence references of the passage
  edit <type>           edit the command of <type> under the cursor, or create one
  remove [<type>]       remove the last command listed by commands
  open <name>           ask the service to open an evidence item
  generate              ask the service to write the passage
  undo                  undo the last replacement
  quit                  leave`

// maxSnapshots is how many saved texts attach keeps per passage.
const maxSnapshots = 20

// cmdAttach runs a line driven editing session for one passage, connected to
// the authoring service. Edits are written back to the story as they happen.
func cmdAttach(ctx context.Context, cfg config.AppConfig, dir, passage string, in io.Reader, out io.Writer) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	h.AutoSave = true
	l := applog.WithComponent("attach").With(slog.String("passage", passage))
	ctx = applog.ContextWithPassage(applog.ContextWithStory(ctx, h.Root), passage)

	token, err := config.Token()
	if err != nil && !errors.Is(err, config.ErrNoToken) {
		return err
	}
	dctx, cancel := context.WithTimeout(ctx, cfg.Authoring.Timeout())
	ch, err := messaging.Dial(dctx, cfg.Authoring.URL, token)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Authoring.URL, err)
	}
	defer ch.Close()

	ws := host.New(h, ch, host.WithSendTimeout(cfg.Authoring.Timeout()))
	defer ws.Listen()()
	if err := ws.Mount(ctx); err != nil {
		return err
	}
	if err := ws.Resume(ctx); err != nil {
		return err
	}

	st := h.Snapshot()
	p, ok := st.PassageByName(passage)
	if !ok {
		return fmt.Errorf("passage %q not found", passage)
	}
	surf := session.NewMemorySurface(p.Text)
	history := undo.NewManager(undo.Config{
		MaxBytes:      cfg.Editor.UndoMaxBytes,
		MaxPerPassage: cfg.Editor.UndoMaxPerPassage,
	})
	scfg := session.Config{
		EvidenceInterval: cfg.Editor.EvidenceInterval(),
		InitialScanDelay: cfg.Editor.InitialScanDelay(),
		SendTimeout:      cfg.Authoring.Timeout(),
	}
	sess, err := ws.OpenPassage(passage, surf, scfg, session.WithHistory(history), session.WithLogger(l))
	if err != nil {
		return err
	}
	if err := storage.SaveSnapshot(ctx, h, p.ID, p.Text, time.Now()); err != nil {
		l.Warn("snapshot failed", slog.Any("err", err))
	}
	defer func() {
		_ = ws.ClosePassage()
		text := surf.Text()
		if text == p.Text {
			return
		}
		if err := storage.SaveSnapshot(context.Background(), h, p.ID, text, time.Now()); err != nil {
			l.Warn("snapshot failed", slog.Any("err", err))
		}
		if _, err := storage.PruneOldSnapshots(context.Background(), h, p.ID, maxSnapshots); err != nil {
			l.Warn("prune snapshots failed", slog.Any("err", err))
		}
	}()
	l.InfoContext(ctx, "attached", slog.String("url", cfg.Authoring.URL))

	fmt.Fprintln(out, attachHelp)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ch.Done():
			return fmt.Errorf("connection closed: %w", ch.Err())
		default:
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		verb, arg, _ := strings.Cut(line, " ")
		if verb == "quit" || verb == "exit" {
			return nil
		}
		if err := attachStep(ctx, sess, surf, verb, arg, out); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func attachStep(ctx context.Context, sess *session.Session, surf *session.MemorySurface, verb, arg string, out io.Writer) error {
	switch verb {
	case "show":
		text, c := surf.State()
		fmt.Fprintln(out, text[:c]+"|"+text[c:])
	case "cursor":
		off, err := strconv.Atoi(arg)
		if err != nil || off < 0 || off > len(surf.Text()) {
			return fmt.Errorf("offset must be within 0..%d", len(surf.Text()))
		}
		surf.SetCursor(off)
	case "type":
		return surf.Insert(strings.ReplaceAll(arg, `\n`, "\n"))
	case "commands":
		for _, c := range sess.Commands().Commands() {
			fmt.Fprintf(out, "%-16s [%d, %d] %s\n", c.Type, c.Span.Start, c.Span.End, c.Value)
		}
	case "evidence":
		sess.RescanEvidence()
		for _, r := range sess.Evidence() {
			fmt.Fprintf(out, "%q [%d, %d]\n", r.Name, r.Span.Start, r.Span.End)
		}
	case "edit":
		t, err := macro.ParseCommandType(arg)
		if err != nil {
			return err
		}
		sess.RecomputeCommands()
		if cmd, found := sess.Commands().Get(t); found {
			return sess.ClickEdit(ctx, cmd)
		}
		return sess.CreateCommand(ctx, t)
	case "remove":
		// Only the last command in index order carries a remove widget.
		sess.RecomputeCommands()
		cmd, found := sess.Commands().Last()
		if !found {
			return errors.New("no command under the cursor")
		}
		if arg != "" {
			t, err := macro.ParseCommandType(arg)
			if err != nil {
				return err
			}
			if t != cmd.Type {
				return fmt.Errorf("only the %s command can be removed here", cmd.Type)
			}
		}
		return sess.ClickRemove(cmd)
	case "open":
		sess.RescanEvidence()
		for _, r := range sess.Evidence() {
			if strings.EqualFold(r.Name, arg) {
				return sess.ClickEvidence(ctx, r)
			}
		}
		return fmt.Errorf("no evidence named %q in the passage", arg)
	case "generate":
		return sess.Generate(ctx)
	case "undo":
		return sess.UndoReplacement()
	default:
		fmt.Fprintln(out, attachHelp)
	}
	return nil
}

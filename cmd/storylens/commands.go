/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storylens/internal/backend"
	"storylens/internal/config"
	"storylens/internal/datamap"
	"storylens/internal/domain"
	"storylens/internal/export"
	"storylens/internal/host"
	applog "storylens/internal/log"
	"storylens/internal/macro"
	"storylens/internal/storage"
	"storylens/internal/twee"
)

func cmdInit(dir, name string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	applog.WithComponent("cli").Info("init story", slog.String("root", abs), slog.String("name", name))
	h, err := storage.InitStory(abs, host.NewEvidenceStory(name, datamap.Evidence{}))
	if err != nil {
		return err
	}
	current = h
	if err := storage.BuildIndexIfEmpty(context.Background(), h.Root, h.Snapshot()); err != nil {
		return err
	}
	fmt.Println("Created story at", abs)
	return nil
}

func cmdOpen(ctx context.Context, dir string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	st := h.Snapshot()
	rebuilt, err := storage.DetectAndRebuildIndex(ctx, h.Root, st)
	if err != nil {
		return err
	}
	fmt.Printf("Opened story: %s\n", st.Name)
	fmt.Printf("IFID: %s\n", st.IFID)
	fmt.Printf("Passages: %d\n", len(st.Passages))
	if p, ok := st.PassageByID(st.StartPassage); ok {
		fmt.Printf("Start: %s\n", p.Name)
	}
	fmt.Println("Root:", h.Root)
	if rebuilt {
		fmt.Println("Index rebuilt.")
	}
	return nil
}

func cmdScan(dir, passage string, offset int) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	st := h.Snapshot()
	p, ok := st.PassageByName(passage)
	if !ok {
		return fmt.Errorf("passage %q not found", passage)
	}
	if offset < 0 || offset > len(p.Text) {
		return fmt.Errorf("offset %d outside passage (%d bytes)", offset, len(p.Text))
	}
	idx := macro.IndexAt(p.Text, offset)
	if idx.Len() == 0 {
		fmt.Println("No manageable command at cursor.")
	}
	for _, c := range idx.Commands() {
		fmt.Printf("command %-16s [%d, %d]  %s\n", c.Type, c.Span.Start, c.Span.End, c.Value)
	}
	for _, r := range macro.ExtractEvidenceReferences(p.Text) {
		mark := " "
		if r.Span.Contains(offset) {
			mark = "*"
		}
		fmt.Printf("%s evidence %-20q [%d, %d]\n", mark, r.Name, r.Span.Start, r.Span.End)
	}
	return nil
}

func cmdEvidence(ctx context.Context, dir string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	if err := storage.BuildIndexIfEmpty(ctx, h.Root, h.Snapshot()); err != nil {
		return err
	}
	names, err := storage.EvidenceNames(ctx, h.Root)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func cmdWhereUsed(ctx context.Context, dir, name string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	if err := storage.BuildIndexIfEmpty(ctx, h.Root, h.Snapshot()); err != nil {
		return err
	}
	var uses []storage.Usage
	if strings.HasPrefix(name, "$") {
		t, perr := macro.ParseCommandType(name)
		if perr != nil {
			return perr
		}
		uses, err = storage.CommandUsage(ctx, h.Root, t)
	} else {
		uses, err = storage.WhereUsed(ctx, h.Root, name)
	}
	if err != nil {
		return err
	}
	if len(uses) == 0 {
		fmt.Printf("%q is not referenced.\n", name)
	}
	for _, u := range uses {
		fmt.Printf("%s [%d, %d]\n", u.PassageName, u.Start, u.End)
	}
	return nil
}

func cmdSearch(ctx context.Context, dir, text string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	if err := storage.BuildIndexIfEmpty(ctx, h.Root, h.Snapshot()); err != nil {
		return err
	}
	res, err := storage.Search(ctx, h.Root, storage.SearchQuery{Text: text, Limit: 50})
	if err != nil {
		return err
	}
	for _, r := range res {
		fmt.Printf("%s: %s\n", r.Name, oneLine(r.Snippet))
	}
	return nil
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }

func cmdImport(dir, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	st, problems := twee.Parse(string(b))
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Printf("%s:%d:%d: %s\n", file, p.Line, p.Column, p.Message)
		}
		return fmt.Errorf("import %s: %d problems", file, len(problems))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(filepath.Join(abs, storage.ManifestFileName))
	var h *storage.StoryHandle
	switch {
	case errors.Is(statErr, fs.ErrNotExist):
		if h, err = storage.InitStory(abs, st); err != nil {
			return err
		}
	case statErr != nil:
		return statErr
	default:
		if h, err = storage.Open(abs); err != nil {
			return err
		}
		h.AutoSave = true
		if err := h.Replace(&st); err != nil {
			return err
		}
	}
	current = h
	if err := storage.RebuildIndex(context.Background(), h.Root, h.Snapshot()); err != nil {
		return err
	}
	fmt.Printf("Imported %d passages into %s\n", len(st.Passages), abs)
	return nil
}

func cmdExportTwee(dir, out string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	path, err := export.Twee(h, out)
	if err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	return nil
}

func cmdExportPDF(dir, out string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	path, err := export.ProofPDF(h, out, export.PDFOptions{})
	if err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	return nil
}

// cmdStartup regenerates the generated passages from an evidence file,
// creating the ones the story lacks.
func cmdStartup(dir, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	ev, err := datamap.ParseEvidence(b)
	if err != nil {
		return err
	}
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	generated := []struct{ name, text string }{
		{domain.StartupPassage, datamap.Startup(ev)},
		{domain.FooterPassage, datamap.Footer()},
		{domain.EvidencePassage, datamap.EvidenceData(ev)},
	}
	err = h.Mutate(func(st *domain.Story) error {
		for i, g := range generated {
			if p, ok := st.PassageByName(g.name); ok {
				p.Text = g.text
				continue
			}
			x := float64(domain.DefaultPassageWidth+domain.PassageGap) * float64(i)
			opt := domain.PlaceOptions{CenterX: x + domain.SmallPassageSize/2, CenterY: -domain.SmallPassageSize}
			if _, err := st.AddPassage(g.name, g.text, nil, opt); err != nil {
				return err
			}
		}
		st.LastUpdate = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	if err := storage.Save(h); err != nil {
		return err
	}
	if err := storage.UpdateIndex(context.Background(), h.Root, h.Snapshot()); err != nil {
		return err
	}
	fmt.Printf("Regenerated %d passages from %d evidence items\n", len(generated), ev.Len())
	return nil
}

func cmdSaveAs(dir, newDir string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(newDir)
	if err != nil {
		return err
	}
	if err := storage.SaveAs(h, abs); err != nil {
		return err
	}
	if err := storage.RebuildIndex(context.Background(), h.Root, h.Snapshot()); err != nil {
		return err
	}
	fmt.Println("Saved story to", h.Root)
	return nil
}

func passageID(h *storage.StoryHandle, name string) (string, error) {
	st := h.Snapshot()
	p, ok := st.PassageByName(name)
	if !ok {
		return "", fmt.Errorf("passage %q not found", name)
	}
	return p.ID, nil
}

func cmdSnapshots(ctx context.Context, dir, passage string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	id, err := passageID(h, passage)
	if err != nil {
		return err
	}
	snaps, err := storage.ListSnapshots(ctx, h, id, 20)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		fmt.Printf("%s  %d bytes  %s\n", s.TS.Local().Format(time.DateTime), len(s.Text), oneLine(s.Text))
	}
	return nil
}

// cmdRestore puts the latest snapshot back, first saving the current text so
// the restore itself can be undone.
func cmdRestore(ctx context.Context, dir, passage string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	id, err := passageID(h, passage)
	if err != nil {
		return err
	}
	snap, ok, err := storage.LatestSnapshot(ctx, h, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no snapshot for %q", passage)
	}
	st := h.Snapshot()
	p, _ := st.PassageByID(id)
	if err := storage.SaveSnapshot(ctx, h, id, p.Text, time.Now()); err != nil {
		return err
	}
	h.AutoSave = true
	if err := h.UpdatePassages([]domain.PassageUpdate{{ID: id, Text: snap.Text}}); err != nil {
		return err
	}
	fmt.Printf("Restored %s from %s\n", passage, snap.TS.Local().Format(time.DateTime))
	return nil
}

func backendClient(cfg config.AppConfig) *backend.Client {
	return backend.NewClient(cfg.Backend.BaseURL, os.Getenv("SLS_BACKEND_TOKEN"))
}

// cmdPush uploads the story under its ID, guarded by the server's current version.
func cmdPush(ctx context.Context, cfg config.AppConfig, dir string) error {
	h, err := openStory(dir)
	if err != nil {
		return err
	}
	st := h.Snapshot()
	c := backendClient(cfg)
	var version int64
	_, v, err := c.GetTwee(ctx, st.ID)
	var se *backend.StatusError
	switch {
	case err == nil:
		version = v
	case errors.As(err, &se) && se.Code == 404:
	default:
		return err
	}
	info, err := c.PutTwee(ctx, st.ID, twee.Format(st), version)
	if err != nil {
		return err
	}
	fmt.Printf("Pushed %s (version %d, %d passages)\n", info.StableID, info.Version, info.PassageCount)
	return nil
}

func cmdPull(ctx context.Context, cfg config.AppConfig, dir, id string) error {
	src, _, err := backendClient(cfg).GetTwee(ctx, id)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp("", "storylens-*.twee")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(src); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return cmdImport(dir, f.Name())
}

func cmdBackend(ctx context.Context, cfg config.AppConfig) error {
	bc := backend.ConfigFromEnv(backend.Config{DBURL: cfg.Backend.DatabaseURL, Addr: cfg.Backend.Addr})
	return backend.Start(ctx, bc)
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"storylens/internal/domain"
	"storylens/internal/storage"
	"storylens/internal/twee"
)

func testStory(t *testing.T) *storage.StoryHandle {
	t.Helper()
	st := domain.NewStory("Manor – Proof")
	start := domain.NewPassage("Start", "(set: $entry to (passage:)'s name)\n($trigger: ($action: \"look\") )\nSee ($evidence: \"Knife\").")
	hall := domain.NewPassage("Hall", "Café ($evidence: \"Rope\")")
	hall.Tags = []string{"scene"}
	st.Passages = []domain.Passage{hall, start, domain.NewPassage(domain.FooterPassage, "x")}
	st.StartPassage = start.ID
	h, err := storage.InitStory(t.TempDir(), st)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestProofPDFCreatesFile(t *testing.T) {
	h := testStory(t)
	out, err := ProofPDF(h, "proof.pdf", PDFOptions{})
	if err != nil {
		t.Fatalf("ProofPDF: %v", err)
	}
	if out != filepath.Join(h.Root, storage.ExportsDirName, "proof.pdf") {
		t.Fatalf("out = %s", out)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-")) || len(b) < 1000 {
		t.Fatalf("not a pdf (%d bytes)", len(b))
	}
}

func TestProofPDFRejectsNilHandle(t *testing.T) {
	if _, err := ProofPDF(nil, "x.pdf", PDFOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOrderedPassages(t *testing.T) {
	st := testStory(t).Snapshot()
	names := func(ps []domain.Passage) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}
	if diff := cmp.Diff([]string{"Start", "Hall"}, names(orderedPassages(st, false))); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if got := len(orderedPassages(st, true)); got != 3 {
		t.Fatalf("with system passages = %d", got)
	}
}

func TestTweeExportRoundTrip(t *testing.T) {
	h := testStory(t)
	abs := filepath.Join(t.TempDir(), "out", "story.twee")
	out, err := Twee(h, abs)
	if err != nil {
		t.Fatalf("Twee: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	st, errs := twee.Parse(string(b))
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	if st.Name != "Manor – Proof" || len(st.Passages) != 3 {
		t.Fatalf("round trip mismatch: %+v", st)
	}
	if p, ok := st.PassageByName("Hall"); !ok || p.Text != "Café ($evidence: \"Rope\")" {
		t.Fatalf("Hall = %+v", p)
	}
}

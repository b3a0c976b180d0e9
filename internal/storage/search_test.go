/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"storylens/internal/domain"
	"storylens/internal/macro"
)

func TestSearch(t *testing.T) {
	root := t.TempDir()
	st := sampleStory()
	if err := UpdateIndex(ctxT(t), root, st); err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	names := func(rs []SearchResult) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.Name)
		}
		return out
	}
	cases := []struct {
		name string
		q    SearchQuery
		want []string
	}{
		{"all", SearchQuery{}, []string{"Evidence data", "Hall", "Start"}},
		{"text", SearchQuery{Text: "lies"}, []string{"Hall"}},
		{"tag", SearchQuery{Tags: []string{"night"}}, []string{"Hall"}},
		{"partial tag does not match", SearchQuery{Tags: []string{"nig"}}, nil},
		{"command", SearchQuery{Command: macro.Trigger}, []string{"Start"}},
		{"evidence any case", SearchQuery{Evidence: "KNIFE"}, []string{"Hall", "Start"}},
		{"text and evidence", SearchQuery{Text: "knife", Evidence: "Rope"}, []string{"Hall"}},
		{"paged", SearchQuery{Limit: 1, Offset: 1}, []string{"Hall"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Search(ctxT(t), root, c.q)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if diff := cmp.Diff(c.want, names(got)); diff != "" {
				t.Fatalf("results mismatch (-want +got):\n%s", diff)
			}
		})
	}
	got, err := Search(ctxT(t), root, SearchQuery{Text: "lies"})
	if err != nil || len(got) != 1 || got[0].Snippet == "" {
		t.Fatalf("expected highlighted snippet, got %+v, %v", got, err)
	}
}

func TestWhereUsed(t *testing.T) {
	root := t.TempDir()
	st := sampleStory()
	if err := UpdateIndex(ctxT(t), root, st); err != nil {
		t.Fatal(err)
	}
	got, err := WhereUsed(ctxT(t), root, "knife")
	if err != nil {
		t.Fatal(err)
	}
	want := []Usage{
		{PassageID: st.Passages[1].ID, PassageName: "Hall", Kind: "knife", Start: 35, End: 54},
		{PassageID: st.Passages[0].ID, PassageName: "Start", Kind: "Knife", Start: 35, End: 54},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("where-used mismatch (-want +got):\n%s", diff)
	}
	if _, err := WhereUsed(ctxT(t), root, " "); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestSearchTagIsMatchedLiterally(t *testing.T) {
	root := t.TempDir()
	st := domain.NewStory("Tags")
	st.Passages = []domain.Passage{
		domain.NewPassage("Underscore", "one"),
		domain.NewPassage("Wildcard", "two"),
		domain.NewPassage("Percent", "three"),
	}
	st.Passages[0].Tags = []string{"a_b"}
	st.Passages[1].Tags = []string{"axb"}
	st.Passages[2].Tags = []string{"100%"}
	if err := UpdateIndex(ctxT(t), root, st); err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	for _, c := range []struct {
		tag  string
		want string
	}{{"a_b", "Underscore"}, {"axb", "Wildcard"}, {"100%", "Percent"}} {
		got, err := Search(ctxT(t), root, SearchQuery{Tags: []string{c.tag}})
		if err != nil {
			t.Fatalf("Search(%q): %v", c.tag, err)
		}
		if len(got) != 1 || got[0].Name != c.want {
			t.Fatalf("Search(%q) = %+v, want only %s", c.tag, got, c.want)
		}
	}
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package macro

import "testing"

func TestFindWrappingBrackets(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		cursor int
		want   Span
		wantOK bool
	}{
		{name: "simple", text: "(a b)", cursor: 2, want: Span{0, 4}, wantOK: true},
		{name: "innermost", text: "(a (b) c)", cursor: 4, want: Span{3, 5}, wantOK: true},
		{name: "skips nested sibling", text: "(a (b) c)", cursor: 7, want: Span{0, 8}, wantOK: true},
		{name: "quoted close bracket", text: `(say: "a ) b")`, cursor: 1, want: Span{0, 13}, wantOK: true},
		{name: "escaped close bracket", text: `(a \) b)`, cursor: 2, want: Span{0, 7}, wantOK: true},
		{name: "escaped quote keeps string open", text: `(a "x\"y)" b)`, cursor: 2, want: Span{0, 12}, wantOK: true},
		{name: "escaped open bracket", text: `(a \( b)`, cursor: 5, want: Span{0, 7}, wantOK: true},
		{name: "unbalanced brackets inside string", text: `(cmd: "a) weird (string")`, cursor: 3, want: Span{0, 24}, wantOK: true},
		{name: "cursor inside string", text: `($trigger: ($action: "go") )`, cursor: 22, want: Span{11, 25}, wantOK: true},
		{name: "unbalanced", text: "(a b", cursor: 2},
		{name: "no brackets", text: "plain text", cursor: 3},
		{name: "empty buffer", text: "", cursor: 0},
		{name: "cursor past end", text: "(a)", cursor: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindWrappingBrackets(tt.text, tt.cursor, tt.cursor)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (span %+v)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Fatalf("span = %+v, want %+v", got, tt.want)
			}
			if ok {
				if tt.text[got.Start] != '(' || tt.text[got.End] != ')' {
					t.Fatalf("span %+v does not sit on brackets in %q", got, tt.text)
				}
			}
		})
	}
}

func TestFindEnclosingSpanQuoteAssumption(t *testing.T) {
	buf := `($trigger: ($action: "go") )`
	if _, ok := FindEnclosingSpan(buf, 22, 22, false); ok {
		t.Fatalf("expected outside-quotes pass to fail for a cursor inside a string")
	}
	sp, ok := FindEnclosingSpan(buf, 22, 22, true)
	if !ok || sp != (Span{11, 25}) {
		t.Fatalf("inside-quotes pass: got %+v ok=%v", sp, ok)
	}
}

func TestFindEnclosingSpanRejectsInvertedWindow(t *testing.T) {
	if _, ok := FindEnclosingSpan("(abc)", 3, 1, false); ok {
		t.Fatalf("expected inverted window to fail")
	}
}

func TestStepHoldsOnCandidateBrackets(t *testing.T) {
	buf := "(x)"
	o := origin{start: 0, end: 2}
	st := step(buf, o, newScan(o, false))
	if st.left != 0 || st.right != 2 {
		t.Fatalf("expected both sides to hold, got left=%d right=%d", st.left, st.right)
	}
	if !st.done(buf) {
		t.Fatalf("expected converged state")
	}
}

func TestSpanTextAndContains(t *testing.T) {
	sp := Span{Start: 2, End: 6}
	if got := sp.Text("ab(cde)fg"); got != "(cde)" {
		t.Fatalf("Text = %q", got)
	}
	if !sp.Contains(2) || !sp.Contains(6) || sp.Contains(7) || sp.Contains(1) {
		t.Fatalf("Contains mismatch for %+v", sp)
	}
}

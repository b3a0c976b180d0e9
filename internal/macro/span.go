/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package macro locates parenthesised macro invocations in passage text.
// It does not parse the macro language: it only resolves bracket spans around
// an offset and classifies spans by their leading token.
//
// Offsets are byte offsets into the buffer. Every structural character the
// scanner looks at ('(' ')' '"' '\') is ASCII, so byte scanning is exact on
// UTF-8 text.
package macro

// Span is an inclusive byte range over a balanced "(...)" group; Start is the
// offset of the opening bracket and End the offset of the closing one.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Text returns the bracketed source text covered by the span.
func (s Span) Text(buf string) string { return buf[s.Start : s.End+1] }

// Contains reports whether off lies within the span (brackets included).
func (s Span) Contains(off int) bool { return off >= s.Start && off <= s.End }

// scanState is the full state of one outward scan. Both sides keep their own
// quote parity because the scanner does not know whether the origin itself
// sits inside a string literal.
type scanState struct {
	left, right int

	// leftClosed counts ')' seen on the left that belong to nested groups
	// still waiting for their '('; rightOpened is the mirror on the right.
	leftClosed  int
	rightOpened int

	leftInQuotes  bool
	rightInQuotes bool
}

// origin is the window the scan started from; brackets exactly at these
// offsets are the pivot and never count as nested siblings.
type origin struct {
	start, end int
}

func escaped(buf string, i int) bool { return i > 0 && buf[i-1] == '\\' }

func newScan(o origin, inQuotes bool) scanState {
	return scanState{
		left:          o.start,
		right:         o.end,
		leftInQuotes:  inQuotes,
		rightInQuotes: inQuotes,
	}
}

// outOfRange reports whether either cursor left the buffer.
func (st scanState) outOfRange(buf string) bool {
	return st.right >= len(buf) || st.left < 0
}

// done reports convergence: both cursors rest on structural brackets,
// neither side is in a string, and no nested group is left open.
func (st scanState) done(buf string) bool {
	if st.outOfRange(buf) {
		return false
	}
	if st.leftInQuotes || st.rightInQuotes {
		return false
	}
	if st.leftClosed > 0 || st.rightOpened > 0 {
		return false
	}
	return buf[st.right] == ')' && !escaped(buf, st.right) &&
		buf[st.left] == '(' && !escaped(buf, st.left)
}

// step advances the scan by one iteration. The caller guarantees that both
// cursors are in range. A side that sits on its candidate bracket with no
// pending nested group holds still until the other side catches up.
func step(buf string, o origin, st scanState) scanState {
	l, r := st.left, st.right

	if buf[l] == '"' && !escaped(buf, l) {
		st.leftInQuotes = !st.leftInQuotes
	}
	if buf[r] == '"' && !escaped(buf, r) {
		st.rightInQuotes = !st.rightInQuotes
	}

	if buf[r] == '(' && r != o.end && !st.rightInQuotes && !escaped(buf, r) {
		st.rightOpened++
	}
	if buf[l] == ')' && l != o.start && !st.leftInQuotes && !escaped(buf, l) {
		st.leftClosed++
	}

	switch {
	case buf[r] != ')' || st.rightInQuotes || escaped(buf, r):
		st.right++
	case st.rightOpened > 0:
		st.rightOpened--
		st.right++
	}

	switch {
	case buf[l] != '(' || st.leftInQuotes || escaped(buf, l):
		st.left--
	case st.leftClosed > 0:
		st.leftClosed--
		st.left--
	}
	return st
}

// FindEnclosingSpan expands [start, end] outward until it finds the smallest
// balanced "(...)" group around it. inQuotes is the assumed string state at
// the origin. ok is false when either side runs off the buffer first.
func FindEnclosingSpan(buf string, start, end int, inQuotes bool) (Span, bool) {
	if start > end {
		return Span{}, false
	}
	o := origin{start: start, end: end}
	st := newScan(o, inQuotes)
	for {
		if st.outOfRange(buf) {
			return Span{}, false
		}
		st = step(buf, o, st)
		if st.done(buf) {
			return Span{Start: st.left, End: st.right}, true
		}
	}
}

// FindWrappingBrackets resolves the group around [start, end] assuming first
// that the origin is outside a string literal and, if that fails, that it is
// inside one. The first assumption that converges wins.
//
// This is a heuristic, not a lexer: with an odd number of unescaped quotes
// before the origin it can resolve a different group than a real parser would.
func FindWrappingBrackets(buf string, start, end int) (Span, bool) {
	if sp, ok := FindEnclosingSpan(buf, start, end, false); ok {
		return sp, true
	}
	return FindEnclosingSpan(buf, start, end, true)
}

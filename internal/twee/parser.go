/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package twee

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"storylens/internal/domain"
)

var (
	reHeader = regexp.MustCompile(`^::\s*(.*)$`)
	reTags   = regexp.MustCompile(`^(.*?)\s*\[([^\]]*)\]\s*$`)
)

// Parse reads Twee 3 source into a story. Passages get fresh IDs; the start
// passage is resolved by name from StoryData, falling back to a passage named
// "Start". Problems are collected rather than aborting the parse.
func Parse(input string) (domain.Story, []Error) {
	st := domain.NewStory("")
	var errs []Error

	type raw struct {
		header string
		lineNo int
		body   []string
	}
	var passages []raw
	var cur *raw

	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := reHeader.FindStringSubmatch(line); m != nil {
			passages = append(passages, raw{header: m[1], lineNo: lineNo})
			cur = &passages[len(passages)-1]
			continue
		}
		if cur == nil {
			if strings.TrimSpace(line) != "" {
				errs = append(errs, Error{Line: lineNo, Column: 1, Message: "text before first passage header"})
			}
			continue
		}
		if strings.HasPrefix(line, `\::`) {
			line = line[1:]
		}
		cur.body = append(cur.body, line)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, Error{Line: lineNo, Column: 1, Message: err.Error()})
	}

	var data storyData
	for _, r := range passages {
		name, tags, meta, err := parseHeader(r.header)
		if err != nil {
			errs = append(errs, Error{Line: r.lineNo, Column: 3, Message: err.Error()})
		}
		text := strings.TrimRight(strings.Join(r.body, "\n"), "\n")
		switch name {
		case titlePassage:
			st.Name = strings.TrimSpace(text)
			continue
		case dataPassage:
			if err := json.Unmarshal([]byte(text), &data); err != nil {
				errs = append(errs, Error{Line: r.lineNo + 1, Column: 1, Message: fmt.Sprintf("invalid StoryData: %v", err)})
			}
			continue
		}
		if name == "" {
			errs = append(errs, Error{Line: r.lineNo, Column: 3, Message: "passage without a name"})
			continue
		}
		if _, dup := st.PassageByName(name); dup {
			errs = append(errs, Error{Line: r.lineNo, Column: 3, Message: fmt.Sprintf("duplicate passage %q", name)})
			continue
		}
		p := domain.NewPassage(name, text)
		p.Tags = tags
		p.Width, p.Height = domain.SmallPassageSize, domain.SmallPassageSize
		if x, y, ok := pair(meta.Position); ok {
			p.Left, p.Top = x, y
		}
		if w, h, ok := pair(meta.Size); ok {
			p.Width, p.Height = w, h
		}
		st.Passages = append(st.Passages, p)
	}

	if data.IFID != "" {
		st.IFID = data.IFID
	}
	st.Format, st.FormatVersion = data.Format, data.FormatVersion
	st.TagColors = data.TagColors
	if data.Zoom > 0 {
		st.Zoom = data.Zoom
	}
	start := data.Start
	if start == "" {
		start = "Start"
	}
	if p, ok := st.PassageByName(start); ok {
		st.StartPassage = p.ID
	} else if data.Start != "" {
		errs = append(errs, Error{Line: 1, Column: 1, Message: fmt.Sprintf("start passage %q not found", data.Start)})
	}
	if st.Name == "" {
		st.Name = "Untitled Story"
	}
	return st, errs
}

// parseHeader splits `Name [tags] {meta}` into its parts. Backslash escapes in
// the name are removed.
func parseHeader(h string) (string, []string, passageMeta, error) {
	var meta passageMeta
	var err error
	h = strings.TrimSpace(h)
	if i := unescapedIndex(h, '{'); i >= 0 && strings.HasSuffix(h, "}") {
		if jerr := json.Unmarshal([]byte(h[i:]), &meta); jerr != nil {
			err = fmt.Errorf("invalid passage metadata: %w", jerr)
		}
		h = strings.TrimSpace(h[:i])
	}
	var tags []string
	if i := unescapedIndex(h, '['); i >= 0 {
		if m := reTags.FindStringSubmatch(h[i:]); m != nil {
			tags = strings.Fields(m[2])
			h = strings.TrimSpace(h[:i])
		}
	}
	return unescape(h), tags, meta, err
}

func unescapedIndex(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == c {
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func pair(s string) (float64, float64, bool) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, false
	}
	x, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return x, y, true
}

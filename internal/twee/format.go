/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package twee

import (
	"encoding/json"
	"strconv"
	"strings"

	"storylens/internal/domain"
)

var nameEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`)

// Format renders a story as Twee 3 source. Passages keep their order.
func Format(st domain.Story) string {
	var b strings.Builder
	b.WriteString(":: " + titlePassage + "\n")
	b.WriteString(st.Name + "\n\n")

	data := storyData{
		IFID:          st.IFID,
		Format:        st.Format,
		FormatVersion: st.FormatVersion,
		TagColors:     st.TagColors,
		Zoom:          st.Zoom,
	}
	if p, ok := st.PassageByID(st.StartPassage); ok {
		data.Start = p.Name
	}
	js, _ := json.MarshalIndent(data, "", "  ")
	b.WriteString(":: " + dataPassage + "\n")
	b.Write(js)
	b.WriteString("\n\n")

	for _, p := range st.Passages {
		b.WriteString(":: ")
		b.WriteString(nameEscaper.Replace(p.Name))
		if len(p.Tags) > 0 {
			b.WriteString(" [" + strings.Join(p.Tags, " ") + "]")
		}
		meta, _ := json.Marshal(passageMeta{
			Position: num(p.Left) + "," + num(p.Top),
			Size:     num(p.Width) + "," + num(p.Height),
		})
		b.WriteString(" ")
		b.Write(meta)
		b.WriteString("\n")
		for _, line := range strings.Split(p.Text, "\n") {
			if strings.HasPrefix(line, "::") {
				b.WriteString(`\`)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package macro

import "strings"

// EvidenceMarker opens every evidence reference, e.g. ($evidence: "Knife").
const EvidenceMarker = "($evidence:"

// EvidenceReference is one evidence macro found in a buffer.
type EvidenceReference struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Span  Span   `json:"span"`
}

// ExtractEvidenceReferences scans the whole buffer for evidence macros.
// Occurrences whose brackets do not balance are skipped.
func ExtractEvidenceReferences(buf string) []EvidenceReference {
	var res []EvidenceReference
	for pos := strings.Index(buf, EvidenceMarker); pos >= 0; {
		if sp, ok := FindWrappingBrackets(buf, pos+1, pos+1); ok {
			candidate := sp.Text(buf)
			if strings.HasPrefix(candidate, EvidenceMarker) {
				res = append(res, EvidenceReference{
					Name:  evidenceName(candidate),
					Value: candidate,
					Span:  sp,
				})
			}
		}
		next := strings.Index(buf[pos+1:], EvidenceMarker)
		if next < 0 {
			break
		}
		pos += next + 1
	}
	return res
}

// evidenceName cuts the quoted argument out of `($evidence: "Name")`: the
// first line break is dropped, then the marker plus ` "` and the trailing `")`.
func evidenceName(candidate string) string {
	s := strings.Replace(candidate, "\n", "", 1)
	from, to := len(EvidenceMarker)+2, len(s)-2
	if from >= to {
		return ""
	}
	return strings.TrimSpace(s[from:to])
}

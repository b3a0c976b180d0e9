/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package datamap

import "strings"

const adaMacro = `(set: $ada to (macro: str-type _message, [
  (output-data: "ADA: " + _message)
]))`

const evidenceMacro = `(set: $evidence to (macro: str-type _uid, [
  (set: $ev to (find: _e where _e's uid is _uid, ...$evidence_list)'s 1st)
  (output-data: "(Evidence) " + $ev's name)
]))`

const actionMacro = `(set: $action to (macro: str-type _type, str-type _target, [
  (output-data: _type + ": " + _target)
]))`

const passageMacro = `(set: $passage to (macro: str-type _passage, [
  (output-data: "[" + "[" + _passage + "]" + "]")
]))`

const triggerMacro = `(set: $trigger to (macro: str-type _type, str-type _target, ...str-type _actions, [
  (set: _res to _type + ": " + _target + " >>> ")
  (for: each _action, ..._actions)[
    (set: _res to _res + "\n* " + _action)
  ]
  (output-data: _res)
]))`

const chatTriggerMacro = `(set: $chatTrigger to (macro: str-type _uid, str-type _type, str-type _text, ...str-type _actions, [
  (if: _type is 'EXACT')[(set: $chats's _uid to _text)]
  (if: _type is 'EXACT')[(set: $prefix to "BUTTON")]
  (else-if: _type is 'AI-PROMPT')[(set: $prefix to "PROMPT")]
  (else: )[(error: "Unknown chat trigger type. Available types: [EXACT, AI-PROMPT]")]
  (set: _res to $prefix + ": " + _text + " >>> ")
  (for: each _action, ..._actions)[
    (set: _res to _res + "\n* " + _action)
  ]
  (output-data: _res)
]))`

const chatTriggerOffMacro = `(set: $chatTriggerOff to (macro: str-type _uid, [
  (set: _button to $chats's _uid)
  (move: $chats's _uid into _var)
  (output-data: "BUTTON DISABLED: " + _button)
]))`

const chatsVariable = "(set: $chats to (dm:))"

const footer = `(set: _index to 16)
(for: each _item, ...(dm-values: $chats))[
  (css: "display:none;")[
  (set: _index to _index - 1)
  (set: $val to "")
  (for: each _i, ...(range: 1, 16))[
    (if: _index is _i)[
      (set: $val to (joined: "", $val, "Y"))
    ](else:)[
      (set: $val to (joined: "", $val, "="))
    ]
  ]
  ]
  (float-box: "=XXX=",$val)[_item]
]`

// EntryText is the text of the start passage of a freshly created story: it
// remembers the entry passage and shows the evidence data on the first visit.
const EntryText = "(set: $entry to (passage:)'s name)\n(if:visits is 1)[(redirect: \"Evidence data\")]"

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string { return `"` + quoteEscaper.Replace(s) + `"` }

// datamap renders one record as a (dm: "k","v",...) literal.
func datamap(r Record) string {
	parts := make([]string, 0, 2*len(r))
	for _, f := range r {
		parts = append(parts, quote(f.Key), quote(f.Value))
	}
	return "(dm:" + strings.Join(parts, ",") + ")"
}

func assignments(e Evidence) []string {
	cats := e.Categories()
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		items := make([]string, 0, len(c.Items))
		for _, r := range c.Items {
			items = append(items, datamap(r))
		}
		out = append(out, "(set: "+c.Variable+" to (a:"+strings.Join(items, ",")+"))")
	}
	return out
}

func evidenceList(e Evidence) string {
	cats := e.Categories()
	spread := make([]string, 0, len(cats))
	for _, c := range cats {
		spread = append(spread, "  ..."+c.Variable)
	}
	return "(set: $evidence_list to (a:\n" + strings.Join(spread, ",\n") + "\n))"
}

// EvidenceData renders the text of the "Evidence data" passage: the evidence
// lists followed by a redirect back to the entry passage.
func EvidenceData(e Evidence) string {
	parts := append(assignments(e), "(redirect: $entry)")
	return strings.Join(parts, "\n\n")
}

// Startup renders the hidden "Startup" passage: the chat state, the custom
// macro definitions and the evidence lists.
func Startup(e Evidence) string {
	parts := []string{
		chatsVariable,
		adaMacro,
		evidenceMacro,
		actionMacro,
		passageMacro,
		triggerMacro,
		chatTriggerMacro,
		chatTriggerOffMacro,
	}
	parts = append(parts, assignments(e)...)
	parts = append(parts, evidenceList(e))
	return "(css: \"display:none;\")[\n" + strings.Join(parts, "\n\n") + "\n]"
}

// Footer renders the "Footer" passage listing the active chat buttons.
func Footer() string { return footer }

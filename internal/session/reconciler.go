/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package session

// Reconciler tracks the widgets one session attached to a surface and moves
// them towards a desired set. Detaching always happens before attaching.
type Reconciler struct {
	// ReplaceAll detaches every attached widget on each Apply instead of
	// keeping the ones that are still desired.
	ReplaceAll bool

	attached map[WidgetKey]WidgetHandle
	order    []WidgetKey
}

// Plan computes the handles to detach and the widgets to attach to reach desired.
// Duplicate desired widgets collapse into one.
func (r *Reconciler) Plan(desired []Widget) (detach []WidgetHandle, attach []Widget) {
	want := make(map[WidgetKey]struct{}, len(desired))
	for _, w := range desired {
		want[w.Key()] = struct{}{}
	}
	for _, k := range r.order {
		if _, keep := want[k]; keep && !r.ReplaceAll {
			continue
		}
		detach = append(detach, r.attached[k])
	}
	seen := make(map[WidgetKey]struct{}, len(desired))
	for _, w := range desired {
		k := w.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, have := r.attached[k]; have && !r.ReplaceAll {
			continue
		}
		attach = append(attach, w)
	}
	return detach, attach
}

// Apply executes the plan against surf.
func (r *Reconciler) Apply(surf Surface, desired []Widget) {
	detach, attach := r.Plan(desired)
	if len(detach) > 0 {
		gone := make(map[WidgetHandle]struct{}, len(detach))
		for _, h := range detach {
			surf.DetachWidget(h)
			gone[h] = struct{}{}
		}
		kept := r.order[:0]
		for _, k := range r.order {
			if _, ok := gone[r.attached[k]]; ok {
				delete(r.attached, k)
				continue
			}
			kept = append(kept, k)
		}
		r.order = kept
	}
	if r.attached == nil {
		r.attached = make(map[WidgetKey]WidgetHandle, len(attach))
	}
	for _, w := range attach {
		k := w.Key()
		r.attached[k] = surf.AttachWidget(w.Offset, w)
		r.order = append(r.order, k)
	}
}

// Clear detaches everything. Calling it twice is harmless.
func (r *Reconciler) Clear(surf Surface) {
	for _, k := range r.order {
		surf.DetachWidget(r.attached[k])
	}
	r.attached = nil
	r.order = nil
}

// Len returns the number of attached widgets.
func (r *Reconciler) Len() int { return len(r.order) }

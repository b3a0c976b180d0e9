/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package messaging

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send after the channel was closed.
var ErrClosed = errors.New("messaging channel closed")

// Channel is an ordered, asynchronous message link to one peer.
// Subscribers are called from a single delivery goroutine in arrival order;
// they may call Send.
type Channel interface {
	Send(ctx context.Context, m Message) error
	Subscribe(fn func(Message)) (cancel func())
	Close() error
}

// subscribers is the fan-out list shared by the channel implementations.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Message)
	ids  []int
}

func (s *subscribers) add(fn func(Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Message))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	s.ids = append(s.ids, id)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
			for i, v := range s.ids {
				if v == id {
					s.ids = append(s.ids[:i], s.ids[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *subscribers) deliver(m Message) {
	s.mu.Lock()
	fns := make([]func(Message), 0, len(s.ids))
	for _, id := range s.ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

// HandlerFunc adapts an InboundHandler to a subscriber. Outbound kinds are
// ignored; dispatch errors go to onErr when it is set.
func HandlerFunc(h InboundHandler, onErr func(Message, error)) func(Message) {
	return func(m Message) {
		if _, ok := m.(Inbound); !ok {
			return
		}
		if err := Dispatch(h, m); err != nil && onErr != nil {
			onErr(m, err)
		}
	}
}

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
	"sync"
)

// PipeEnd is one side of an in-process channel pair. Messages pass through
// the wire codec so both ends see exactly what a remote peer would.
type PipeEnd struct {
	peer *PipeEnd
	subs subscribers

	mu      sync.Mutex
	pending [][]byte
	signal  chan struct{}
	done    chan struct{}
	closed  bool
	once    sync.Once

	// OnDecodeError receives frames the codec rejected.
	OnDecodeError func(error)
}

// Pipe returns two connected ends.
func Pipe() (*PipeEnd, *PipeEnd) {
	a, b := newPipeEnd(), newPipeEnd()
	a.peer, b.peer = b, a
	go a.run()
	go b.run()
	return a, b
}

func newPipeEnd() *PipeEnd {
	return &PipeEnd{signal: make(chan struct{}, 1), done: make(chan struct{})}
}

// Send queues m for the peer. It never blocks on the peer's subscribers.
func (p *PipeEnd) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	return p.peer.enqueue(frame)
}

// SendRaw queues an already encoded frame for the peer.
func (p *PipeEnd) SendRaw(frame []byte) error { return p.peer.enqueue(frame) }

func (p *PipeEnd) enqueue(frame []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.pending = append(p.pending, frame)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe registers fn for every message arriving at this end.
func (p *PipeEnd) Subscribe(fn func(Message)) func() { return p.subs.add(fn) }

// Close stops delivery at this end and makes the peer's Send fail.
func (p *PipeEnd) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.pending = nil
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

func (p *PipeEnd) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.signal:
		}
		for {
			p.mu.Lock()
			if p.closed || len(p.pending) == 0 {
				p.mu.Unlock()
				break
			}
			frame := p.pending[0]
			p.pending = p.pending[1:]
			p.mu.Unlock()

			m, err := Decode(frame)
			if err != nil {
				if p.OnDecodeError != nil {
					p.OnDecodeError(err)
				}
				continue
			}
			p.subs.deliver(m)
		}
	}
}

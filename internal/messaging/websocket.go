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
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "storylens/internal/log"
)

// WSChannel carries messages over one websocket connection.
type WSChannel struct {
	conn *websocket.Conn
	subs subscribers
	log  *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
	err     error
}

// DefaultUpgrader accepts any origin; the host decides who may connect.
var DefaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dial connects to a websocket endpoint of the authoring service. A non-empty
// token is sent as a bearer credential.
func Dial(ctx context.Context, url, token string) (*WSChannel, error) {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSChannel(conn), nil
}

// Upgrade accepts a websocket connection on the server side.
func Upgrade(w http.ResponseWriter, r *http.Request, up *websocket.Upgrader) (*WSChannel, error) {
	if up == nil {
		up = &DefaultUpgrader
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewWSChannel(conn), nil
}

// NewWSChannel wraps an established connection and starts its read loop.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn: conn,
		log:  applog.WithComponent("messaging").With(slog.String("remote", conn.RemoteAddr().String())),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WSChannel) readLoop() {
	defer c.shutdown(nil)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read loop stopped", slog.Any("err", err))
			}
			c.shutdown(err)
			return
		}
		m, err := Decode(frame)
		if err != nil {
			c.log.Warn("dropping invalid frame", slog.Any("err", err))
			continue
		}
		c.subs.deliver(m)
	}
}

// Send writes m as one text frame. The context deadline, if any, bounds the write.
func (c *WSChannel) Send(ctx context.Context, m Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	return nil
}

// Subscribe registers fn for every message read from the connection.
func (c *WSChannel) Subscribe(fn func(Message)) func() { return c.subs.add(fn) }

// Done is closed when the connection stops.
func (c *WSChannel) Done() <-chan struct{} { return c.done }

// Err returns the error that stopped the read loop, if any.
func (c *WSChannel) Err() error {
	<-c.done
	return c.err
}

// Close sends a close frame and releases the connection.
func (c *WSChannel) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}

func (c *WSChannel) shutdown(err error) {
	c.once.Do(func() {
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) &&
			!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.err = err
		}
		_ = c.conn.Close()
		close(c.done)
	})
}

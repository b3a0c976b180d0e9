/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the story repository API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a client. A trailing slash on baseURL is dropped.
func NewClient(baseURL string, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method, Path string
	Code         int
	Message      string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server %s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("server %s %s: %d", e.Method, e.Path, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, hdr http.Header) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return nil, &StatusError{Method: method, Path: u.Path, Code: resp.StatusCode, Message: e.Error}
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, hdr http.Header, dest any) error {
	resp, err := c.do(ctx, method, path, body, hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}

// IssueToken requests a bearer token for subject and stores it on the client.
func (c *Client) IssueToken(ctx context.Context, subject string, ttl time.Duration) (TokenResponse, error) {
	b, _ := json.Marshal(map[string]any{"subject": subject, "ttl_seconds": int64(ttl / time.Second)})
	var tr TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", bytes.NewReader(b), http.Header{"Content-Type": {"application/json"}}, &tr); err != nil {
		return TokenResponse{}, err
	}
	c.Token = tr.Token
	return tr, nil
}

// ListStories returns the stored stories, most recently updated first.
func (c *Client) ListStories(ctx context.Context) ([]StoryInfo, error) {
	var list []StoryInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/stories", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetTwee downloads the twee source of a story and its version.
func (c *Client) GetTwee(ctx context.Context, stableID string) (string, int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/stories/"+url.PathEscape(stableID)+"/twee", nil, nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxTweeBytes))
	if err != nil {
		return "", 0, err
	}
	v, _ := strconv.ParseInt(resp.Header.Get("ETag"), 10, 64)
	return string(b), v, nil
}

// PutTwee uploads twee source; ifMatch > 0 makes the write conditional.
func (c *Client) PutTwee(ctx context.Context, stableID, source string, ifMatch int64) (StoryInfo, error) {
	hdr := http.Header{"Content-Type": {"text/plain; charset=utf-8"}}
	if ifMatch > 0 {
		hdr.Set("If-Match", strconv.FormatInt(ifMatch, 10))
	}
	var si StoryInfo
	err := c.doJSON(ctx, http.MethodPut, "/api/stories/"+url.PathEscape(stableID)+"/twee", strings.NewReader(source), hdr, &si)
	return si, err
}

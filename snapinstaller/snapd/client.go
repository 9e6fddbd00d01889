// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package snapd is a minimal client for the snapd REST API over its
// UNIX socket, used on the host side of snap injection (the original
// implementation's requests_unixsocket usage). Transport-only: no
// ecosystem library in the retrieval pack offers a UNIX-socket HTTP
// transport beyond what net/http.Transport.DialContext already does,
// so this stays on the standard library by design.
package snapd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

const DefaultSocket = "/run/snapd.socket"

// Client talks to a snapd REST API reachable over a UNIX socket.
type Client struct {
	SocketPath string
	http       *http.Client
}

func New(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	return &Client{
		SocketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

type response struct {
	StatusCode int             `json:"status-code"`
	Result     json.RawMessage `json:"result"`
}

// SnapInfo mirrors the subset of snapd's GET /v2/snaps/{name} result
// this module consumes.
type SnapInfo struct {
	Revision  string `json:"revision"`
	Base      string `json:"base"`
	ID        string `json:"id"`
	Publisher struct {
		ID string `json:"id"`
	} `json:"publisher"`
}

func (c *Client) get(ctx context.Context, path string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://snapd"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to snapd service: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapd response: %w", err)
	}
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("malformed snapd response: %w", err)
	}
	if r.StatusCode >= 400 && r.StatusCode != 404 {
		return nil, fmt.Errorf("snapd request to %s failed with status %d", path, r.StatusCode)
	}
	return &r, nil
}

// Info fetches metadata for a snap installed on the host. Returns
// (SnapInfo{}, false, nil) when the snap is not installed.
func (c *Client) Info(ctx context.Context, name string) (SnapInfo, bool, error) {
	r, err := c.get(ctx, "/v2/snaps/"+url.PathEscape(name))
	if err != nil {
		return SnapInfo{}, false, err
	}
	if r.StatusCode == 404 {
		return SnapInfo{}, false, nil
	}
	var info SnapInfo
	if err := json.Unmarshal(r.Result, &info); err != nil {
		return SnapInfo{}, false, fmt.Errorf("malformed snap info: %w", err)
	}
	return info, true, nil
}

// Download streams the on-disk snap file for name from snapd's file
// endpoint; the caller is responsible for closing the returned reader.
func (c *Client) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://snapd/v2/snaps/"+url.PathEscape(name)+"/file", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to snapd service: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("unable to download snap %q from snapd: status %d", name, resp.StatusCode)
	}
	return resp.Body, nil
}

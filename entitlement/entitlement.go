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

// Package entitlement reads the host's Ubuntu Pro machine token and
// exchanges it for a short-lived guest token, modeled as an
// oauth2.TokenSource so the host-token/guest-token fallback is just
// another token refresh rather than a bespoke struct.
package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/canonical/craft-providers/errs"
)

const machineTokenPath = "/var/lib/ubuntu-advantage/private/machine-token.json"

// RetrieveHostToken reads the Ubuntu Pro machine token from the host's
// local state file.
func RetrieveHostToken() (string, error) {
	content, err := os.ReadFile(machineTokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NewMachineTokenError("Machine token file does not exist.", "")
		}
		if os.IsPermission(err) {
			return "", errs.NewMachineTokenError(
				"Machine token file is not accessible.",
				"Make sure you are running with root access.")
		}
		return "", errs.NewMachineTokenError(fmt.Sprintf("Failed to read machine token file: %v", err), "")
	}

	var parsed struct {
		MachineToken string `json:"machineToken"`
	}
	if err := json.Unmarshal(content, &parsed); err != nil {
		return "", errs.NewMachineTokenError("Machine token file is not valid JSON.", "")
	}
	if parsed.MachineToken == "" {
		return "", errs.NewMachineTokenError("No token in machine token file.", "")
	}
	return parsed.MachineToken, nil
}

// HostTokenSource is an oauth2.TokenSource over RetrieveHostToken,
// the base every guest-token exchange falls back to on failure.
type HostTokenSource struct{}

func (HostTokenSource) Token() (*oauth2.Token, error) {
	tok, err := RetrieveHostToken()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

const contractsBaseURL = "https://contracts.canonical.com/v1/guest/token"

// GuestTokenSource requests a narrowly-scoped guest token from the
// contracts API using the host token, falling back to the host token
// itself whenever the exchange doesn't cleanly succeed -- a non-200
// response, an empty guest token, or a network/decode error are all
// treated the same: log and hand back what HostTokenSource gave us.
type GuestTokenSource struct {
	Host   oauth2.TokenSource
	Client *http.Client
}

func NewGuestTokenSource() *GuestTokenSource {
	return &GuestTokenSource{
		Host:   HostTokenSource{},
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *GuestTokenSource) Token() (*oauth2.Token, error) {
	hostTok, err := g.Host.Token()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contractsBaseURL, nil)
	if err != nil {
		return hostTok, nil
	}
	req.Header.Set("Authorization", "Bearer "+hostTok.AccessToken)

	resp, err := g.Client.Do(req)
	if err != nil {
		log.Printf("request error when trying to retrieve the guest token, falling back to machine token: %v", err)
		return hostTok, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("could not obtain a guest token (status %d), falling back to machine token", resp.StatusCode)
		return hostTok, nil
	}

	var parsed struct {
		GuestToken string `json:"guestToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("error decoding JSON data when retrieving guest token, falling back to machine token: %v", err)
		return hostTok, nil
	}
	if parsed.GuestToken == "" {
		log.Printf("guest token is empty, falling back to machine token")
		return hostTok, nil
	}

	return &oauth2.Token{AccessToken: parsed.GuestToken, TokenType: "Bearer"}, nil
}

// Reuse wraps a GuestTokenSource in oauth2.ReuseTokenSource so repeat
// callers within the same process don't re-request on every call; the
// contracts API issues short-lived tokens, which oauth2.Token's
// Expiry (left zero here) would normally drive -- left to the caller
// to wrap with oauth2.ReuseTokenSourceWithExpiry if a concrete TTL is
// known for their endpoint.
func Reuse(src oauth2.TokenSource) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, src)
}

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

// Package networkprobe implements the Network Reachability Probe
// (C7): a single in-instance command that attempts a network-layer
// connection to a well-known host/port, used to distinguish "the
// command failed" from "there is no network" at the points the Base
// pipeline needs to tell those apart.
package networkprobe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/canonical/craft-providers/executor"
)

// DefaultHost and DefaultPort match a stable, always-up public
// endpoint; configuration may override both.
const (
	DefaultHost = "canonical.com"
	DefaultPort = 443
)

// Probe checks network-layer reachability from inside the instance.
type Probe struct {
	Host string
	Port int
	// Timeout must be strictly shorter than the operation that
	// triggers the probe -- callers are expected to pass roughly a
	// tenth of their own timeout.
	Timeout time.Duration
}

func New(timeout time.Duration) Probe {
	return Probe{Host: DefaultHost, Port: DefaultPort, Timeout: timeout}
}

// proxyEnvVars lists the variables that, if any is set in the current
// process environment, mean the probe itself would not be routed the
// way the real operation was -- so probing would give a false
// negative and the probe must be skipped entirely.
var proxyEnvVars = []string{"http_proxy", "HTTP_PROXY", "https_proxy", "HTTPS_PROXY"}

// proxyConfigured reports whether any proxy environment variable is
// set in the host process.
func proxyConfigured() bool {
	for _, name := range proxyEnvVars {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// Check runs the probe inside the instance via ex. It returns nil when
// a network-layer connection succeeded, a non-nil error otherwise. If
// a proxy variable is configured in the host process, Check returns
// ErrSkipped without running anything, since the probe would not be
// routed through that proxy and would misreport a perfectly good
// connection as down.
var ErrSkipped = fmt.Errorf("network probe skipped: a proxy variable is set in the host environment")

func (p Probe) Check(ctx context.Context, ex executor.Executor) error {
	if proxyConfigured() {
		return ErrSkipped
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cmd := []string{"timeout", fmt.Sprintf("%d", int(p.Timeout.Seconds())),
		"bash", "-c", fmt.Sprintf("echo > /dev/tcp/%s/%d", p.Host, p.Port)}
	_, err := ex.ExecuteRun(ctx, cmd, executor.RunOpts{Check: true, Timeout: p.Timeout})
	if err != nil {
		return fmt.Errorf("no network connectivity detected: %w", err)
	}
	return nil
}

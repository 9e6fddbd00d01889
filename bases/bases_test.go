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

package bases

import (
	"context"
	"errors"
	"testing"

	"github.com/canonical/craft-providers/errs"
	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/executor/fakeexec"
	"github.com/canonical/craft-providers/networkprobe"
)

func TestNewSnapRejectsEmptyChannel(t *testing.T) {
	channel := ""
	_, err := NewSnap("core22", &channel, false)
	var configErr *errs.ConfigurationError
	if !errors.As(err, &configErr) {
		t.Fatalf("got %v (%T), want *errs.ConfigurationError", err, err)
	}
}

func TestNewSnapAllowsNilChannel(t *testing.T) {
	snap, err := NewSnap("core22", nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Channel != nil {
		t.Fatalf("expected a nil channel to mean \"inject from host\", got %v", snap.Channel)
	}
}

func TestNewSnapAllowsNonEmptyChannel(t *testing.T) {
	channel := "latest/stable"
	snap, err := NewSnap("core22", &channel, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Channel == nil || *snap.Channel != channel {
		t.Fatalf("got channel %v, want %q", snap.Channel, channel)
	}
	if !snap.Classic {
		t.Fatalf("expected Classic to be carried through")
	}
}

func TestRunnerSucceedsWithoutProbe(t *testing.T) {
	ex := fakeexec.New()
	run := NewRunner(ex, nil)
	_, err := run.Run(context.Background(), []string{"true"}, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunnerPassesThroughFailureWithoutVerifyNetwork(t *testing.T) {
	ex := fakeexec.New()
	wantErr := errors.New("boom")
	ex.Respond = func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
		return executor.RunResult{}, wantErr
	}
	run := NewRunner(ex, func(ctx context.Context) error { return errors.New("probe should not run") })
	_, err := run.Run(context.Background(), []string{"apt-get", "update"}, RunOptions{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want the underlying error to be returned unwrapped", err)
	}
}

func TestRunnerConvertsFailureToNetworkErrorWhenProbeFails(t *testing.T) {
	ex := fakeexec.New()
	ex.Respond = func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
		return executor.RunResult{}, errors.New("connection refused")
	}
	probeErr := errors.New("no route to host")
	run := NewRunner(ex, func(ctx context.Context) error { return probeErr })

	_, err := run.Run(context.Background(), []string{"apt-get", "update"}, RunOptions{VerifyNetwork: true})
	var netErr *errs.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected a *errs.NetworkError, got %T (%v)", err, err)
	}
}

func TestRunnerKeepsRawErrorWhenProbeSkipped(t *testing.T) {
	ex := fakeexec.New()
	wantErr := errors.New("connection refused")
	ex.Respond = func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
		return executor.RunResult{}, wantErr
	}
	run := NewRunner(ex, func(ctx context.Context) error { return networkprobe.ErrSkipped })

	_, err := run.Run(context.Background(), []string{"apt-get", "update"}, RunOptions{VerifyNetwork: true})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the raw error when the probe is skipped, got %v", err)
	}
	var netErr *errs.NetworkError
	if errors.As(err, &netErr) {
		t.Fatalf("a skipped probe must not be converted into a NetworkError")
	}
}

func TestRunnerKeepsRawErrorWhenProbeSucceeds(t *testing.T) {
	ex := fakeexec.New()
	wantErr := errors.New("permission denied")
	ex.Respond = func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
		return executor.RunResult{}, wantErr
	}
	run := NewRunner(ex, func(ctx context.Context) error { return nil })

	_, err := run.Run(context.Background(), []string{"apt-get", "update"}, RunOptions{VerifyNetwork: true})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the raw error when the network probe succeeds, got %v", err)
	}
}

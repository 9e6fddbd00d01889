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

package networkprobe

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/executor/fakeexec"
)

func clearProxyEnv(t *testing.T) {
	t.Helper()
	for _, name := range proxyEnvVars {
		old, had := os.LookupEnv(name)
		os.Unsetenv(name)
		t.Cleanup(func() {
			if had {
				os.Setenv(name, old)
			}
		})
	}
}

func TestCheckSucceedsWhenCommandSucceeds(t *testing.T) {
	clearProxyEnv(t)
	ex := fakeexec.New()
	p := New(time.Second)
	if err := p.Check(context.Background(), ex); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckWrapsCommandFailure(t *testing.T) {
	clearProxyEnv(t)
	ex := fakeexec.New()
	ex.Respond = func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
		return executor.RunResult{}, errors.New("no route to host")
	}
	p := New(time.Second)
	err := p.Check(context.Background(), ex)
	if err == nil {
		t.Fatal("expected an error when the in-instance probe command fails")
	}
}

func TestCheckSkippedWhenProxyConfigured(t *testing.T) {
	clearProxyEnv(t)
	os.Setenv("https_proxy", "http://proxy.example:3128")
	ex := fakeexec.New()
	ex.Respond = func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
		t.Fatal("the probe command should not run when a proxy is configured")
		return executor.RunResult{}, nil
	}
	p := New(time.Second)
	err := p.Check(context.Background(), ex)
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("got %v, want ErrSkipped", err)
	}
}

func TestNewUsesDefaultHostAndPort(t *testing.T) {
	p := New(5 * time.Second)
	if p.Host != DefaultHost || p.Port != DefaultPort {
		t.Fatalf("got %+v, want default host/port", p)
	}
}

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

// Package fakeexec is an in-memory executor.Executor test double, the
// Go analogue of the teacher's habit of exposing a swappable NewCmd
// field on its service types purely for tests (pkg/svc/docker.go).
package fakeexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/canonical/craft-providers/executor"
)

// Responder computes the result of a single ExecuteRun call; a test
// sets one on Executor.Respond and dispatches on the command itself.
type Responder func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error)

// Executor is a fully in-memory Executor: files live in a map, no
// process is ever spawned.
type Executor struct {
	mu sync.Mutex

	Files   map[string][]byte
	Calls   [][]string
	exists  bool
	running bool
	mnts    *executor.MountBook

	// Respond, if set, is consulted for every ExecuteRun/ExecutePopen
	// call; nil means every command succeeds with empty output.
	Respond Responder
}

func New() *Executor {
	return &Executor{
		Files:  map[string][]byte{},
		exists: true,
		mnts:   executor.NewMountBook(),
	}
}

func (f *Executor) ExecuteRun(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, command)
	respond := f.Respond
	f.mu.Unlock()

	if respond == nil {
		return executor.RunResult{}, nil
	}
	return respond(ctx, command, opts)
}

type fakeHandle struct {
	stdout, stderr *bytes.Buffer
}

func (h *fakeHandle) Stdout() io.Reader { return h.stdout }
func (h *fakeHandle) Stderr() io.Reader { return h.stderr }
func (h *fakeHandle) Wait() error       { return nil }
func (h *fakeHandle) Kill() error       { return nil }

func (f *Executor) ExecutePopen(ctx context.Context, command []string, opts executor.RunOpts) (executor.ProcessHandle, error) {
	result, err := f.ExecuteRun(ctx, command, opts)
	if err != nil {
		return nil, err
	}
	return &fakeHandle{stdout: bytes.NewBuffer(result.Stdout), stderr: bytes.NewBuffer(result.Stderr)}, nil
}

func (f *Executor) PushFile(ctx context.Context, hostPath, destPath string) error {
	content, err := os.ReadFile(hostPath)
	if err != nil {
		return fmt.Errorf("fakeexec: failed to read host file: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[destPath] = content
	return nil
}

func (f *Executor) PushFileIO(ctx context.Context, destPath string, content []byte, mode uint32, ownerUser, ownerGroup string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[destPath] = append([]byte{}, content...)
	return nil
}

func (f *Executor) PullFile(ctx context.Context, srcPath, hostPath string) error {
	f.mu.Lock()
	content, ok := f.Files[srcPath]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("fakeexec: source %q does not exist", srcPath)
	}
	if err := os.WriteFile(hostPath, content, 0o644); err != nil {
		return fmt.Errorf("fakeexec: failed to write host file: %w", err)
	}
	return nil
}

func (f *Executor) Mount(ctx context.Context, hostSource, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mnts.Add(hostSource, target)
	return nil
}

func (f *Executor) Unmount(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mnts.Remove(target)
	return nil
}

func (f *Executor) UnmountAll(ctx context.Context) error { return nil }
func (f *Executor) SupportsMount() bool                  { return true }

func (f *Executor) Exists(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *Executor) IsRunning(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *Executor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = true
	f.running = true
	return nil
}

func (f *Executor) Stop(ctx context.Context, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *Executor) Delete(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = false
	f.running = false
	f.Files = map[string][]byte{}
	return nil
}

// SetExists lets a test construct an executor that starts out
// representing an already-existing instance.
func (f *Executor) SetExists(exists, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = exists
	f.running = running
}

// Mounts reports every mount currently registered, for assertions in
// tests that exercise cache-mount setup.
func (f *Executor) Mounts() []executor.Mount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mnts.All()
}

var _ executor.Executor = (*Executor)(nil)

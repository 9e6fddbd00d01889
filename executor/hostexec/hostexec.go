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

// Package hostexec implements executor.Executor against the local
// machine: the always-available, non-isolating backend used for local
// development and as the base case every other backend is measured
// against (the Go analogue of the original host executor/provider).
package hostexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/canonical/craft-providers/executor"
)

// HostExecutor runs commands on the local machine. It never isolates
// anything: Exists always reports true, Start/Stop only flip the state
// IsRunning reports, and Delete removes Root. PushFile and PushFileIO
// apply the file mode only; ownership is not changed, so files keep
// the owner of the calling process.
type HostExecutor struct {
	// Root is prefixed onto every destPath/srcPath so pushed/pulled
	// files land in a private area instead of the real root fs.
	Root string
	// DefaultEnv is used when a RunOpts.Env is nil.
	DefaultEnv executor.Env
	// NewCmd builds the *exec.Cmd for a command line; overridable so
	// tests can substitute a fake without touching PATH.
	NewCmd func(name string, arg ...string) *exec.Cmd

	mu    sync.Mutex
	mnts  *executor.MountBook
	alive bool
}

// New returns a HostExecutor rooted at root (created if missing).
func New(root string, defaultEnv executor.Env) (*HostExecutor, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create host executor root: %w", err)
	}
	return &HostExecutor{
		Root:       root,
		DefaultEnv: defaultEnv,
		NewCmd:     newStdCmd,
		mnts:       executor.NewMountBook(),
		alive:      true,
	}, nil
}

func newStdCmd(name string, arg ...string) *exec.Cmd {
	return exec.Command(name, arg...)
}

func (h *HostExecutor) resolve(p string) string {
	return filepath.Join(h.Root, filepath.Clean("/"+p))
}

func (h *HostExecutor) env(opts executor.Env) executor.Env {
	if opts != nil {
		return opts
	}
	return h.DefaultEnv
}

func (h *HostExecutor) ExecuteRun(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
	args := executor.WrapWithUnset(command, h.env(opts.Env))
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cmd := h.NewCmd(args[0], args[1:]...)
	if opts.Cwd != "" {
		cmd.Dir = h.resolve(opts.Cwd)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return executor.RunResult{}, fmt.Errorf("failed to start command: %w", err)
	}
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		runErr = ctx.Err()
	case runErr = <-done:
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		runErr = nil
	}
	result := executor.RunResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if runErr != nil {
		return result, runErr
	}
	if opts.Check && exitCode != 0 {
		return result, &executor.ProcessError{Cmd: command, ExitCode: exitCode, Stdout: result.Stdout, Stderr: result.Stderr}
	}
	return result, nil
}

// ptyProcessHandle streams a command's combined pty output, mirroring
// the teacher's SSH-session pty allocation (pkg/catch/tty.go) for the
// local streaming backend.
type ptyProcessHandle struct {
	cmd *exec.Cmd
	f   *os.File
}

func (p *ptyProcessHandle) Stdout() io.Reader { return p.f }
func (p *ptyProcessHandle) Stderr() io.Reader { return p.f }
func (p *ptyProcessHandle) Wait() error       { return p.cmd.Wait() }
func (p *ptyProcessHandle) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (h *HostExecutor) ExecutePopen(ctx context.Context, command []string, opts executor.RunOpts) (executor.ProcessHandle, error) {
	args := executor.WrapWithUnset(command, h.env(opts.Env))
	cmd := h.NewCmd(args[0], args[1:]...)
	if opts.Cwd != "" {
		cmd.Dir = h.resolve(opts.Cwd)
	}
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate pty for streaming command: %w", err)
	}
	return &ptyProcessHandle{cmd: cmd, f: f}, nil
}

func atomicWrite(path string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("parent directory missing: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, mode); err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

func (h *HostExecutor) PushFile(ctx context.Context, hostPath, destPath string) error {
	content, err := os.ReadFile(hostPath)
	if err != nil {
		return fmt.Errorf("failed to read host file: %w", err)
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return fmt.Errorf("failed to stat host file: %w", err)
	}
	dest := h.resolve(destPath)
	if _, err := os.Stat(filepath.Dir(dest)); err != nil {
		return fmt.Errorf("parent directory of %q does not exist in instance", destPath)
	}
	return atomicWrite(dest, content, info.Mode().Perm())
}

func (h *HostExecutor) PushFileIO(ctx context.Context, destPath string, content []byte, mode uint32, ownerUser, ownerGroup string) error {
	dest := h.resolve(destPath)
	if _, err := os.Stat(filepath.Dir(dest)); err != nil {
		return fmt.Errorf("parent directory of %q does not exist in instance", destPath)
	}
	return atomicWrite(dest, content, os.FileMode(mode))
}

func (h *HostExecutor) PullFile(ctx context.Context, srcPath, hostPath string) error {
	src := h.resolve(srcPath)
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("source does not exist: %w", err)
	}
	return os.WriteFile(hostPath, content, 0o644)
}

func (h *HostExecutor) Mount(ctx context.Context, hostSource, target string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, added := h.mnts.Add(hostSource, target); !added {
		return nil
	}
	return os.Symlink(hostSource, h.resolve(target))
}

func (h *HostExecutor) Unmount(ctx context.Context, target string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mnts.Remove(target)
	err := os.Remove(h.resolve(target))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (h *HostExecutor) UnmountAll(ctx context.Context) error {
	h.mu.Lock()
	mounts := h.mnts.All()
	h.mu.Unlock()
	var firstErr error
	for _, m := range mounts {
		if err := h.Unmount(ctx, m.Target); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *HostExecutor) SupportsMount() bool { return true }

func (h *HostExecutor) Exists(ctx context.Context) (bool, error) { return true, nil }
func (h *HostExecutor) IsRunning(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive, nil
}
func (h *HostExecutor) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = true
	return nil
}
func (h *HostExecutor) Stop(ctx context.Context, delay time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	return nil
}
func (h *HostExecutor) Delete(ctx context.Context, force bool) error {
	return os.RemoveAll(h.Root)
}

var _ executor.Executor = (*HostExecutor)(nil)

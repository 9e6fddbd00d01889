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

// Package sshexec implements executor.Executor over SSH/SFTP against
// an already-running, network-reachable instance -- the generic
// transport every VM-style provider (Multipass, cloud instances)
// ultimately uses to reach its target, grounded in the teacher's
// pkg/catch/ssh.go and pkg/catch/sftp.go turned client-side.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/tailscale/golang-x-crypto/ssh"

	"github.com/canonical/craft-providers/executor"
)

// Dialer connects to the instance's SSH endpoint. Supplying it
// separately (instead of a bare address) lets callers layer in
// whatever discovery the backend uses to find the instance's address.
type Dialer func(ctx context.Context) (net.Conn, error)

// SSHExecutor drives an instance over a single SSH connection, reusing
// one client for exec and SFTP the way the teacher's catch server
// reuses one session's transport for both subsystems.
type SSHExecutor struct {
	Dial       Dialer
	Config     *ssh.ClientConfig
	DefaultEnv executor.Env
	SupportsMnt bool // not consulted: SupportsMount always reports false and Mount always fails

	mu     sync.Mutex
	client *ssh.Client
	mnts   *executor.MountBook
}

func New(dial Dialer, config *ssh.ClientConfig, defaultEnv executor.Env) *SSHExecutor {
	return &SSHExecutor{Dial: dial, Config: config, DefaultEnv: defaultEnv, mnts: executor.NewMountBook()}
}

func (s *SSHExecutor) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	conn, err := s.Dial(ctx)
	if err != nil {
		return nil, wrapBackend("failed to dial instance", err)
	}
	sconn, chans, reqs, err := ssh.NewClientConn(conn, "instance", s.Config)
	if err != nil {
		return nil, wrapBackend("failed to establish SSH session with instance", err)
	}
	s.client = ssh.NewClient(sconn, chans, reqs)
	return s.client, nil
}

func wrapBackend(brief string, err error) error {
	return fmt.Errorf("%s: %w", brief, err)
}

func (s *SSHExecutor) env(opts executor.Env) executor.Env {
	if opts != nil {
		return opts
	}
	return s.DefaultEnv
}

func (s *SSHExecutor) ExecuteRun(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return executor.RunResult{}, err
	}
	session, err := client.NewSession()
	if err != nil {
		return executor.RunResult{}, wrapBackend("failed to open SSH session", err)
	}
	defer session.Close()

	args := executor.WrapWithUnset(command, s.env(opts.Env))
	line := shellJoin(args)
	if opts.Cwd != "" {
		line = "cd " + shellQuote(opts.Cwd) + " && " + line
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(line)
	exitCode := 0
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		exitCode = exitErr.ExitStatus()
		runErr = nil
	}
	result := executor.RunResult{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if runErr != nil {
		return result, wrapBackend("command execution failed", runErr)
	}
	if opts.Check && exitCode != 0 {
		return result, &executor.ProcessError{Cmd: command, ExitCode: exitCode, Stdout: result.Stdout, Stderr: result.Stderr}
	}
	return result, nil
}

type sessionHandle struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
}

func (h *sessionHandle) Stdout() io.Reader { return h.stdout }
func (h *sessionHandle) Stderr() io.Reader { return h.stderr }
func (h *sessionHandle) Wait() error       { return h.session.Wait() }
func (h *sessionHandle) Kill() error       { return h.session.Signal(ssh.SIGKILL) }

func (s *SSHExecutor) ExecutePopen(ctx context.Context, command []string, opts executor.RunOpts) (executor.ProcessHandle, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, wrapBackend("failed to open SSH session", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, wrapBackend("failed to attach stdout pipe", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return nil, wrapBackend("failed to attach stderr pipe", err)
	}
	args := executor.WrapWithUnset(command, s.env(opts.Env))
	if err := session.Start(shellJoin(args)); err != nil {
		return nil, wrapBackend("failed to start streaming command", err)
	}
	return &sessionHandle{session: session, stdout: stdout, stderr: stderr}, nil
}

func (s *SSHExecutor) sftpClient(ctx context.Context) (*sftp.Client, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	return sftp.NewClient(client)
}

func (s *SSHExecutor) PushFile(ctx context.Context, hostPath, destPath string) error {
	content, err := readHostFile(hostPath)
	if err != nil {
		return err
	}
	return s.PushFileIO(ctx, destPath, content, 0o644, "root", "root")
}

func (s *SSHExecutor) PushFileIO(ctx context.Context, destPath string, content []byte, mode uint32, ownerUser, ownerGroup string) error {
	sc, err := s.sftpClient(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	if _, err := sc.Stat(path.Dir(destPath)); err != nil {
		return fmt.Errorf("parent directory of %q does not exist in instance: %w", destPath, err)
	}

	tmp := destPath + ".craft-tmp"
	f, err := sc.Create(tmp)
	if err != nil {
		return wrapBackend("failed to stage destination file over SFTP", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return wrapBackend("failed to write staged file", err)
	}
	if err := f.Close(); err != nil {
		return wrapBackend("failed to close staged file", err)
	}
	if err := sc.Chmod(tmp, fileMode(mode)); err != nil {
		return wrapBackend("failed to chmod staged file", err)
	}
	// SFTP has no atomic chown in all server implementations; apply
	// ownership via a remote chown command through the same connection
	// before the rename makes the file visible at destPath.
	if err := s.chown(ctx, tmp, ownerUser, ownerGroup); err != nil {
		return err
	}
	if err := sc.Rename(tmp, destPath); err != nil {
		return wrapBackend("failed to move staged file into place", err)
	}
	return nil
}

func (s *SSHExecutor) chown(ctx context.Context, remotePath, user, group string) error {
	_, err := s.ExecuteRun(ctx, []string{"chown", user + ":" + group, remotePath}, executor.RunOpts{Check: true})
	return err
}

func (s *SSHExecutor) PullFile(ctx context.Context, srcPath, hostPath string) error {
	sc, err := s.sftpClient(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	rf, err := sc.Open(srcPath)
	if err != nil {
		return fmt.Errorf("source does not exist: %w", err)
	}
	defer rf.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rf); err != nil {
		return wrapBackend("failed to read remote file over SFTP", err)
	}
	return writeHostFile(hostPath, buf.Bytes())
}

func (s *SSHExecutor) Mount(ctx context.Context, hostSource, target string) error {
	return fmt.Errorf("sshexec does not support bind-mounts")
}
func (s *SSHExecutor) Unmount(ctx context.Context, target string) error { return nil }
func (s *SSHExecutor) UnmountAll(ctx context.Context) error             { return nil }
func (s *SSHExecutor) SupportsMount() bool                              { return false }

func (s *SSHExecutor) Exists(ctx context.Context) (bool, error) {
	_, err := s.connect(ctx)
	return err == nil, nil
}

func (s *SSHExecutor) IsRunning(ctx context.Context) (bool, error) {
	return s.Exists(ctx)
}

func (s *SSHExecutor) Start(ctx context.Context) error { return nil }

func (s *SSHExecutor) Stop(ctx context.Context, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

func (s *SSHExecutor) Delete(ctx context.Context, force bool) error {
	return s.Stop(ctx, 0)
}

var _ executor.Executor = (*SSHExecutor)(nil)

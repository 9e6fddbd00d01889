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

package fakeexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/canonical/craft-providers/executor"
)

func TestExecuteRunRecordsCallsAndDefaultsToSuccess(t *testing.T) {
	ex := New()
	result, err := ex.ExecuteRun(context.Background(), []string{"apt-get", "update"}, executor.RunOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("got exit code %d, want 0", result.ExitCode)
	}
	if len(ex.Calls) != 1 || ex.Calls[0][0] != "apt-get" {
		t.Fatalf("expected the call to be recorded, got %+v", ex.Calls)
	}
}

func TestExecuteRunUsesRespond(t *testing.T) {
	ex := New()
	ex.Respond = func(ctx context.Context, command []string, opts executor.RunOpts) (executor.RunResult, error) {
		return executor.RunResult{ExitCode: 7, Stdout: []byte("custom")}, nil
	}
	result, err := ex.ExecuteRun(context.Background(), []string{"whatever"}, executor.RunOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 7 || string(result.Stdout) != "custom" {
		t.Fatalf("got %+v, want custom responder result", result)
	}
}

func TestPushFileReadsRealHostContent(t *testing.T) {
	ex := New()
	hostFile := filepath.Join(t.TempDir(), "src.txt")
	if err := os.WriteFile(hostFile, []byte("real content"), 0o644); err != nil {
		t.Fatalf("failed to seed host file: %v", err)
	}
	if err := ex.PushFile(context.Background(), hostFile, "/etc/dest.txt"); err != nil {
		t.Fatalf("PushFile: %v", err)
	}
	if string(ex.Files["/etc/dest.txt"]) != "real content" {
		t.Fatalf("got %q, want %q", ex.Files["/etc/dest.txt"], "real content")
	}
}

func TestPullFileWritesRealHostContent(t *testing.T) {
	ex := New()
	ctx := context.Background()
	if err := ex.PushFileIO(ctx, "/etc/src.txt", []byte("pulled content"), 0o644, "root", "root"); err != nil {
		t.Fatalf("PushFileIO: %v", err)
	}
	out := filepath.Join(t.TempDir(), "out.txt")
	if err := ex.PullFile(ctx, "/etc/src.txt", out); err != nil {
		t.Fatalf("PullFile: %v", err)
	}
	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read pulled file: %v", err)
	}
	if string(content) != "pulled content" {
		t.Fatalf("got %q, want %q", content, "pulled content")
	}
}

func TestPullFileMissingSourceErrors(t *testing.T) {
	ex := New()
	err := ex.PullFile(context.Background(), "/does/not/exist", filepath.Join(t.TempDir(), "out"))
	if err == nil {
		t.Fatal("expected an error for a missing source file")
	}
}

func TestDeleteClearsFilesAndExistence(t *testing.T) {
	ex := New()
	ctx := context.Background()
	_ = ex.PushFileIO(ctx, "/etc/a", []byte("x"), 0o644, "root", "root")
	ex.SetExists(true, true)

	if err := ex.Delete(ctx, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, _ := ex.Exists(ctx)
	if exists {
		t.Fatal("expected Exists to report false after Delete")
	}
	if len(ex.Files) != 0 {
		t.Fatalf("expected Files to be cleared, got %+v", ex.Files)
	}
}

func TestStartSetsExistsAndRunning(t *testing.T) {
	ex := New()
	ctx := context.Background()
	ex.SetExists(false, false)
	if err := ex.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	exists, _ := ex.Exists(ctx)
	running, _ := ex.IsRunning(ctx)
	if !exists || !running {
		t.Fatalf("expected exists=true running=true after Start, got exists=%v running=%v", exists, running)
	}
}

func TestMountAndUnmount(t *testing.T) {
	ex := New()
	ctx := context.Background()
	if err := ex.Mount(ctx, "/host/cache", "/var/cache/apt"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := ex.Unmount(ctx, "/var/cache/apt"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
}

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

// Package snapinstaller implements the Snap Injection Subsystem (C4):
// copying a snap from the host into an instance (inject-from-host,
// recursing into base snaps first) or installing one from the snap
// store, with revision bookkeeping persisted through instanceconfig so
// repeated calls are idempotent.
package snapinstaller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/canonical/craft-providers/errs"
	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/hostutil"
	"github.com/canonical/craft-providers/instanceconfig"
	"github.com/canonical/craft-providers/snapinstaller/snapd"
)

const (
	sourceHost  = "host"
	sourceStore = "store"

	timeoutSimple  = 30 * time.Second
	timeoutComplex = 5 * time.Minute
)

// Snapd is the host-side snapd client used for injection; exported so
// callers can point it at a non-default socket (e.g. in tests).
var Snapd = snapd.New(snapd.DefaultSocket)

func storeName(snapName string) string {
	return strings.SplitN(snapName, "_", 2)[0]
}

// InjectFromHost copies the given snap, currently installed on the
// host, into the instance, recursing into its base snap first if it
// has one. Skips the copy entirely when the instance already carries
// the same host revision from the same source.
func InjectFromHost(ctx context.Context, ex executor.Executor, snapName string, classic bool) error {
	name := storeName(snapName)

	info, ok, err := Snapd.Info(ctx, snapName)
	if err != nil {
		return errs.NewSnapInstallationError("Unable to connect to snapd service.", err.Error())
	}
	if !ok {
		return errs.NewSnapInstallationError(fmt.Sprintf("Snap %q is not installed on the host.", snapName), "")
	}

	if info.Base != "" {
		if err := InjectFromHost(ctx, ex, info.Base, false); err != nil {
			return err
		}
	}

	targetRevision, err := revisionEnsuringSource(ctx, ex, name, sourceHost)
	if err != nil {
		return err
	}
	if targetRevision != "" && targetRevision == info.Revision {
		return nil
	}

	targetSnapPath := "/tmp/" + name + ".snap"
	dangerous := strings.HasPrefix(info.Revision, "x")

	if !dangerous {
		if err := addAssertionsFromHost(ctx, ex, snapName); err != nil {
			return err
		}
	}

	hostSnapPath, cleanup, err := fetchHostSnap(ctx, snapName)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ex.PushFile(ctx, hostSnapPath, targetSnapPath); err != nil {
		return errs.NewSnapInstallationError(
			fmt.Sprintf("failed to copy snap file for snap %q", snapName),
			"error copying snap file into target environment")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutComplex)
	defer cancel()
	if _, err := ex.ExecuteRun(runCtx, localInstallCommand(targetSnapPath, classic, dangerous),
		executor.RunOpts{Check: true}); err != nil {
		return installError(fmt.Sprintf("failed to install snap %q", name), err)
	}

	_, err = instanceconfig.Update(ctx, ex, instanceconfig.Config{
		Snaps: map[string]instanceconfig.SnapRecord{name: {Revision: info.Revision, Source: sourceHost}},
	})
	return err
}

// InstallFromStore installs (or refreshes, if already present from
// the store) a snap from the given channel.
func InstallFromStore(ctx context.Context, ex executor.Executor, snapName, channel string, classic bool) error {
	name := storeName(snapName)

	targetRevision, err := revisionEnsuringSource(ctx, ex, name, sourceStore)
	if err != nil {
		return err
	}

	var cmd []string
	if targetRevision == "" {
		cmd = remoteInstallCommand(name, channel, classic)
	} else {
		cmd = refreshCommand(name, channel)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutComplex)
	defer cancel()
	if _, err := ex.ExecuteRun(runCtx, cmd, executor.RunOpts{Check: true}); err != nil {
		return installError(fmt.Sprintf("Failed to install/refresh snap %q.", name), err)
	}

	newRevision, err := targetSnapdRevision(ctx, ex, name)
	if err != nil {
		return err
	}

	_, err = instanceconfig.Update(ctx, ex, instanceconfig.Config{
		Snaps: map[string]instanceconfig.SnapRecord{name: {Revision: newRevision, Source: sourceStore}},
	})
	return err
}

// revisionEnsuringSource returns the recorded revision for name, but
// only if it was installed from the given source; if it was installed
// from a different source it removes it from the target first and
// returns "".
func revisionEnsuringSource(ctx context.Context, ex executor.Executor, name, source string) (string, error) {
	cfg, err := instanceconfig.Load(ctx, ex)
	if err != nil {
		return "", err
	}
	if cfg == nil || cfg.Snaps == nil {
		return "", nil
	}
	rec, ok := cfg.Snaps[name]
	if !ok {
		return "", nil
	}
	if rec.Revision != "" && rec.Source == source {
		return rec.Revision, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutSimple)
	defer cancel()
	if _, err := ex.ExecuteRun(runCtx, removeCommand(name), executor.RunOpts{Check: true}); err != nil {
		return "", installError(fmt.Sprintf("Failed to remove snap %q.", name), err)
	}
	return "", nil
}

func targetSnapdRevision(ctx context.Context, ex executor.Executor, name string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeoutSimple)
	defer cancel()
	result, err := ex.ExecuteRun(runCtx,
		[]string{"curl", "--silent", "--unix-socket", "/run/snapd.socket",
			"http://localhost/v2/snaps/" + name}, executor.RunOpts{Check: true})
	if err != nil {
		return "", installError("Unable to get target snap revision.", err)
	}
	rev := extractJSONField(result.Stdout, "revision")
	return rev, nil
}

// extractJSONField is a tiny scanner for the one field this module
// needs out of snapd's JSON responses without pulling in a JSON
// dependency on the remote side (the response is read from stdout as
// raw bytes, not decoded structurally).
func extractJSONField(body []byte, field string) string {
	marker := []byte(`"` + field + `":"`)
	idx := bytes.Index(body, marker)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(marker):]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return string(rest[:end])
}

func addAssertionsFromHost(ctx context.Context, ex executor.Executor, snapName string) error {
	info, ok, err := Snapd.Info(ctx, snapName)
	if err != nil {
		return errs.NewSnapInstallationError("Unable to connect to snapd service.", err.Error())
	}
	if !ok {
		return errs.NewSnapInstallationError(fmt.Sprintf("snap %q not found on host", snapName), "")
	}

	queries := [][]string{
		{"account-key", "public-key-sha3-384=BWDEoaqyr25nF5SNCvEv2v7QnM9QsfCc0PBMYD_i2NGSQ32EF2d4D0hqUel3m8ul"},
		{"snap-declaration", "snap-name=" + storeName(snapName)},
		{"snap-revision", "snap-revision=" + info.Revision, "snap-id=" + info.ID},
		{"account", "account-id=" + info.Publisher.ID},
	}

	var assertions bytes.Buffer
	for _, q := range queries {
		out, err := exec.CommandContext(ctx, "snap", knownCommand(q)[1:]...).Output()
		if err != nil {
			return errs.NewSnapInstallationError("failed to get assertions for snap", err.Error())
		}
		assertions.Write(out)
		assertions.WriteByte('\n')
	}

	tmp, err := hostutil.TempFile("craft-snap-assert-*.assert")
	if err != nil {
		return fmt.Errorf("failed to allocate scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(assertions.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to stage assertions: %w", err)
	}
	tmp.Close()

	targetAssertPath := "/tmp/" + storeName(snapName) + ".assert"
	if err := ex.PushFile(ctx, tmp.Name(), targetAssertPath); err != nil {
		return errs.NewSnapInstallationError(
			fmt.Sprintf("failed to copy assert file for snap %q", snapName),
			"error copying snap assert file into target environment")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutComplex)
	defer cancel()
	if _, err := ex.ExecuteRun(runCtx, ackCommand(targetAssertPath), executor.RunOpts{Check: true}); err != nil {
		return installError(fmt.Sprintf("failed to add assertions for snap %q", snapName), err)
	}
	return nil
}

// fetchHostSnap obtains a .snap file for name, preferring snapd's
// download endpoint and falling back to `snap pack` when the snap was
// sideloaded with `snap try` and has no packed file to serve.
func fetchHostSnap(ctx context.Context, name string) (path string, cleanup func(), err error) {
	dir, err := hostutil.TempDir("craft-host-snap-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to allocate scratch dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	snapPath := dir + "/" + name + ".snap"
	if downloadErr := downloadHostSnap(ctx, name, snapPath); downloadErr == nil {
		return snapPath, cleanup, nil
	}

	cmd := exec.CommandContext(ctx, "snap", packCommand("/snap/"+name+"/current", snapPath)[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, errs.NewSnapInstallationError(
			fmt.Sprintf("failed to pack host snap %q", name), string(out))
	}
	return snapPath, cleanup, nil
}

func downloadHostSnap(ctx context.Context, name, output string) error {
	body, err := Snapd.Download(ctx, name)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

func installError(brief string, cause error) error {
	if pe, ok := cause.(*executor.ProcessError); ok {
		return errs.NewSnapInstallationError(brief,
			errs.DetailsFromCommand(pe.Cmd, pe.ExitCode, pe.Stdout, pe.Stderr))
	}
	return errs.NewSnapInstallationError(brief, cause.Error())
}

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

// Package engine implements the Provider Orchestration Engine (C6):
// the launch/reuse/auto-clean state machine that drives a pluggable
// Backend and a pluggable Base bring-up pipeline, exposed as a scoped
// resource (LaunchedEnvironment) with an explicit Close rather than
// the original's __enter__/__exit__ context manager.
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/canonical/craft-providers/errs"
	"github.com/canonical/craft-providers/executor"
)

// RemoteImage names the image a Backend should launch an instance
// from for a given Base alias.
type RemoteImage struct {
	RemoteName string
	ImageName  string
	IsStable   bool
}

// BasePipeline is the generalized shape of bases/buildd.Pipeline (and
// any future distro's pipeline): the three operations the Engine
// drives, independent of which concrete Base/PackageManager is
// plugged in underneath.
type BasePipeline interface {
	Setup(ctx context.Context) error
	Warmup(ctx context.Context) error
	WaitUntilReady(ctx context.Context) error
}

// Backend is the pluggable provider-specific half of the Engine: it
// knows how to check for, install, create, and launch instances on
// one particular virtualization/container technology. Concrete
// backends live outside this package, each pairing an
// executor.Executor implementation with its own lifecycle commands.
type Backend interface {
	// EnsureAvailable installs the backend if missing (where policy
	// permits) and runs its readiness checks.
	EnsureAvailable(ctx context.Context) error

	// Executor returns a handle to name without starting or
	// configuring anything.
	Executor(name string) executor.Executor

	// Launch creates and starts a brand new instance called name from
	// image.
	Launch(ctx context.Context, name string, image RemoteImage) error

	// SnapshotCapable reports whether Snapshot/LaunchFromSnapshot are
	// usable for this backend.
	SnapshotCapable() bool
	// Snapshot publishes the running instance name as snapshotName.
	Snapshot(ctx context.Context, name, snapshotName string) error
	// LaunchFromSnapshot launches name from a previously published
	// snapshotName; returns (false, nil) if no such snapshot exists.
	LaunchFromSnapshot(ctx context.Context, name, snapshotName string) (bool, error)
}

// Engine ties a Backend to an image compatibility table.
type Engine struct {
	Backend   Backend
	Catalogue map[string]RemoteImage // keyed by base alias name
}

func New(backend Backend, catalogue map[string]RemoteImage) *Engine {
	return &Engine{Backend: backend, Catalogue: catalogue}
}

// LaunchedEnvironment is the scoped resource returned by
// LaunchEnvironment: on construction the instance is ready; Close
// unmounts everything and stops the instance (deleting it only if
// Ephemeral was requested).
type LaunchedEnvironment struct {
	Executor  executor.Executor
	Name      string
	Ephemeral bool
}

// Close tears the environment down without deleting it, unless it was
// launched as ephemeral.
func (le *LaunchedEnvironment) Close(ctx context.Context) error {
	if err := le.Executor.UnmountAll(ctx); err != nil {
		log.Printf("failed to unmount all for %q: %v", le.Name, err)
	}
	if le.Ephemeral {
		return le.Executor.Delete(ctx, true)
	}
	return le.Executor.Stop(ctx, 0)
}

// LaunchOptions configures a single LaunchEnvironment call.
type LaunchOptions struct {
	AliasName     string // key into Engine.Catalogue
	AllowUnstable bool
	AutoClean     bool // delete and relaunch on compatibility failure
	Ephemeral     bool
	CompatTag     string // used to build the snapshot name
}

// LaunchEnvironment implements the launch/reuse/auto-clean state
// machine: absent → launch+setup; exists+not running → start, then
// warmup or setup depending on compatibility; exists+running →
// warmup or setup. pipeline is built by the caller against the
// executor this call hands back via a two-phase constructor, since
// the pipeline needs the Executor that only exists once the instance
// does; see cmd/craftctl for the wiring pattern.
func (e *Engine) LaunchEnvironment(
	ctx context.Context,
	name string,
	newPipeline func(ex executor.Executor) BasePipeline,
	opts LaunchOptions,
) (*LaunchedEnvironment, error) {
	image, ok := e.Catalogue[opts.AliasName]
	if !ok {
		return nil, fmt.Errorf("no image known for base alias %q", opts.AliasName)
	}
	if !image.IsStable && !opts.AllowUnstable {
		return nil, errs.NewUnstableImageError(opts.AliasName)
	}

	if err := e.Backend.EnsureAvailable(ctx); err != nil {
		return nil, errs.NewBackendInstallationError("backend is not available", err)
	}

	ex := e.Backend.Executor(name)
	exists, err := ex.Exists(ctx)
	if err != nil {
		return nil, errs.NewBackendError("failed to check instance existence", err)
	}

	snapshotName := opts.AliasName
	if opts.CompatTag != "" {
		snapshotName = fmt.Sprintf("%s-r%s-%s", image.RemoteName, opts.CompatTag, opts.AliasName)
	}

	if !exists {
		if err := e.launchNew(ctx, name, image, snapshotName); err != nil {
			return nil, err
		}
		if err := newPipeline(ex).Setup(ctx); err != nil {
			return nil, err
		}
		e.maybeSnapshot(ctx, name, snapshotName)
		return &LaunchedEnvironment{Executor: ex, Name: name, Ephemeral: opts.Ephemeral}, nil
	}

	running, err := ex.IsRunning(ctx)
	if err != nil {
		return nil, errs.NewBackendError("failed to check instance running state", err)
	}
	if !running {
		if err := ex.Start(ctx); err != nil {
			return nil, errs.NewBackendError("failed to start instance", err)
		}
	}

	pipeline := newPipeline(ex)
	if err := pipeline.Warmup(ctx); err != nil {
		if _, incompatible := err.(*errs.BaseCompatibilityError); !incompatible || !opts.AutoClean {
			return nil, err
		}
		log.Printf("instance %q is incompatible, auto-cleaning: %v", name, err)
		if err := ex.Delete(ctx, true); err != nil {
			return nil, errs.NewBackendError("failed to delete incompatible instance", err)
		}
		if err := e.launchNew(ctx, name, image, snapshotName); err != nil {
			return nil, err
		}
		if err := newPipeline(ex).Setup(ctx); err != nil {
			return nil, err
		}
	}

	e.maybeSnapshot(ctx, name, snapshotName)
	return &LaunchedEnvironment{Executor: ex, Name: name, Ephemeral: opts.Ephemeral}, nil
}

func (e *Engine) launchNew(ctx context.Context, name string, image RemoteImage, snapshotName string) error {
	if e.Backend.SnapshotCapable() {
		launched, err := e.Backend.LaunchFromSnapshot(ctx, name, snapshotName)
		if err != nil {
			return errs.NewBackendError("failed to launch from snapshot", err)
		}
		if launched {
			return nil
		}
	}
	if err := e.Backend.Launch(ctx, name, image); err != nil {
		return errs.NewBackendError(fmt.Sprintf("failed to launch instance %q", name), err)
	}
	return nil
}

func (e *Engine) maybeSnapshot(ctx context.Context, name, snapshotName string) {
	if !e.Backend.SnapshotCapable() {
		return
	}
	if err := e.Backend.Snapshot(ctx, name, snapshotName); err != nil {
		log.Printf("failed to publish snapshot %q for %q: %v", snapshotName, name, err)
	}
}

// CleanProjectEnvironments is a tolerant destroy: if the backend is
// not installed, or the instance does not exist, this is a no-op.
func (e *Engine) CleanProjectEnvironments(ctx context.Context, name string) error {
	if err := e.Backend.EnsureAvailable(ctx); err != nil {
		return nil //nolint:nilerr
	}
	ex := e.Backend.Executor(name)
	exists, err := ex.Exists(ctx)
	if err != nil || !exists {
		return nil //nolint:nilerr
	}
	return ex.Delete(ctx, true)
}

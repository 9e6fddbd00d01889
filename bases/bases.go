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

// Package bases defines the Base value object and the pluggable
// PackageManager strategy the bring-up pipeline drives. Concrete
// bring-up pipelines (e.g. bases/buildd) embed a Base and a
// PackageManager rather than deep-inheriting from a base class, per
// the composition-over-hierarchy translation of the original
// BuilddBase/BuilddBaseAlias class tree.
package bases

import (
	"context"
	"errors"
	"fmt"

	"github.com/canonical/craft-providers/errs"
	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/networkprobe"
)

// Alias identifies one supported OS release: its name, OS id and
// version, EOL date, and whether it tracks an unstable (devel/daily)
// channel that tolerates OS-version drift. It carries no package-manager
// family or default environment; those come from the pipeline's
// PackageManager and Base.Environment.
type Alias struct {
	Name       string // e.g. "jammy", "noble", "devel"
	OS         string // /etc/os-release ID, e.g. "ubuntu"
	Version    string // /etc/os-release VERSION_ID, e.g. "22.04"
	Unstable   bool
	ReleaseEOL string // RFC3339 date; empty means "no known EOL"
}

// Snap is a single requested snap installation.
type Snap struct {
	Name    string
	Channel *string // nil means "inject from host"
	Classic bool
}

// NewSnap validates and builds a Snap. A non-nil Channel must not be
// the empty string: an empty channel would be passed straight through
// to `snap install --channel=`, which is never what the caller meant
// (nil, not "", is how "inject from host" is spelled).
func NewSnap(name string, channel *string, classic bool) (Snap, error) {
	if channel != nil && *channel == "" {
		return Snap{}, errs.NewConfigurationError(
			fmt.Sprintf("snap %q: channel must not be empty", name),
			`Omit Channel entirely (nil) to inject the snap from the host, or set it to a real channel name.`)
	}
	return Snap{Name: name, Channel: channel, Classic: classic}, nil
}

// Base is the immutable desired end state for an instance. The zero
// value is not valid. No field has a default: concrete pipelines
// (e.g. buildd.New) use the Base exactly as given, so the caller sets
// CompatibilityTag, Environment and the rest.
type Base struct {
	Alias              Alias
	CompatibilityTag   string
	Hostname           string
	Environment        executor.Env
	Snaps              []Snap
	Packages           []string
	UseDefaultPackages bool
	CachePath          string // host directory for mounted caches; "" disables
}

// PackageManager is the strategy a concrete Base pipeline plugs in for
// its distribution's package tooling, replacing the original's single
// concrete BuilddBase class with a seam other distros can implement.
type PackageManager interface {
	// DefaultPackages are always installed alongside caller-requested
	// ones, unless UseDefaultPackages is false.
	DefaultPackages() []string
	// Update refreshes the package index.
	Update(ctx context.Context, run Runner) error
	// Install installs packages (the union already computed by the
	// caller).
	Install(ctx context.Context, run Runner, packages []string) error
	// Clean removes cached package archives and autoremoves orphans.
	Clean(ctx context.Context, run Runner) error
	// CacheDirs lists in-instance directories that should be bind
	// mounted onto a per-base, per-compatibility-tag host cache
	// directory when Base.CachePath is set.
	CacheDirs() []string
}

// Runner is the single choke point every pipeline command goes
// through, matching the "every subprocess issues through one internal
// helper" rule in Design Notes §9: it defaults to check=true, and can
// additionally verify network reachability on failure.
type Runner interface {
	Run(ctx context.Context, command []string, opts RunOptions) (executor.RunResult, error)
}

// RunOptions configures one pipeline command.
type RunOptions struct {
	Cwd           string
	Env           executor.Env
	VerifyNetwork bool // run the network probe on failure and raise NetworkError instead
}

// NewRunner binds an executor.Executor as a Runner, applying the
// pipeline's command-execution rule uniformly.
func NewRunner(ex executor.Executor, probe func(ctx context.Context) error) Runner {
	return &execRunner{ex: ex, probe: probe}
}

type execRunner struct {
	ex    executor.Executor
	probe func(ctx context.Context) error
}

func (r *execRunner) Run(ctx context.Context, command []string, opts RunOptions) (executor.RunResult, error) {
	result, err := r.ex.ExecuteRun(ctx, command, executor.RunOpts{Cwd: opts.Cwd, Env: opts.Env, Check: true})
	if err == nil {
		return result, nil
	}
	if opts.VerifyNetwork && r.probe != nil {
		probeErr := r.probe(ctx)
		if probeErr != nil && !errors.Is(probeErr, networkprobe.ErrSkipped) {
			return result, errs.NewNetworkError(err)
		}
	}
	return result, err
}

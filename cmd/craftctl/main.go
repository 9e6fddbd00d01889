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

// Command craftctl is a thin manual-test harness for the Engine: it
// is not a feature surface of its own, just enough cobra plumbing to
// launch, warm up, and tear down a build environment by hand while
// developing a new Base or Backend.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/canonical/craft-providers/bases"
	"github.com/canonical/craft-providers/bases/buildd"
	"github.com/canonical/craft-providers/engine"
	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/executor/hostexec"
)

var (
	aliasName     string
	instanceName  string
	allowUnstable bool
	autoClean     bool
	ephemeral     bool
	hostRoot      string
)

// catalogue is a tiny built-in table standing in for whatever backend
// image registry a real Backend implementation would consult; a
// backend other than the local host executor would supply its own.
var catalogue = map[string]engine.RemoteImage{
	"jammy": {RemoteName: "ubuntu", ImageName: "22.04", IsStable: true},
	"noble": {RemoteName: "ubuntu", ImageName: "24.04", IsStable: true},
	"devel": {RemoteName: "ubuntu", ImageName: "devel", IsStable: false},
}

var aliases = map[string]bases.Alias{
	"jammy": {Name: "jammy", OS: "ubuntu", Version: "22.04"},
	"noble": {Name: "noble", OS: "ubuntu", Version: "24.04"},
	"devel": {Name: "devel", OS: "ubuntu", Version: "24.10", Unstable: true},
}

// hostBackend wraps a single hostexec.HostExecutor as an engine.Backend
// for local smoke testing: every instance name maps to the same
// always-on local environment rather than a real VM/container fleet.
type hostBackend struct {
	ex *hostexec.HostExecutor
}

func (b *hostBackend) EnsureAvailable(ctx context.Context) error { return nil }
func (b *hostBackend) Executor(name string) executor.Executor    { return b.ex }
func (b *hostBackend) Launch(ctx context.Context, name string, image engine.RemoteImage) error {
	return nil
}
func (b *hostBackend) SnapshotCapable() bool { return false }
func (b *hostBackend) Snapshot(ctx context.Context, name, snapshotName string) error {
	return fmt.Errorf("the host backend does not support snapshots")
}
func (b *hostBackend) LaunchFromSnapshot(ctx context.Context, name, snapshotName string) (bool, error) {
	return false, nil
}

func newEngine() (*engine.Engine, error) {
	ex, err := hostexec.New(hostRoot, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create host executor: %w", err)
	}
	return engine.New(&hostBackend{ex: ex}, catalogue), nil
}

func launchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch (or reuse) a build environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, ok := aliases[aliasName]
			if !ok {
				return fmt.Errorf("unknown alias %q", aliasName)
			}
			e, err := newEngine()
			if err != nil {
				return err
			}
			ctx := context.Background()

			env, err := e.LaunchEnvironment(ctx, instanceName, func(ex executor.Executor) engine.BasePipeline {
				return buildd.New(bases.Base{
					Alias:              alias,
					CompatibilityTag:   "craftctl-v1",
					Hostname:           instanceName,
					UseDefaultPackages: true,
				}, ex)
			}, engine.LaunchOptions{
				AliasName:     aliasName,
				AllowUnstable: allowUnstable,
				AutoClean:     autoClean,
				Ephemeral:     ephemeral,
				CompatTag:     "craftctl-v1",
			})
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "instance %q is ready\n", env.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&aliasName, "alias", "jammy", "Base alias to launch (jammy, noble, devel)")
	cmd.Flags().BoolVar(&allowUnstable, "allow-unstable", false, "Allow launching an unstable alias")
	cmd.Flags().BoolVar(&autoClean, "auto-clean", true, "Delete and relaunch an incompatible instance")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Mark the environment ephemeral (deleted rather than stopped when closed); launch leaves it running")
	return cmd
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete the named build environment if it exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			if err := e.CleanProjectEnvironments(context.Background(), instanceName); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "instance %q cleaned\n", instanceName)
			return nil
		},
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "craftctl",
		Short:         "Manually exercise the provider orchestration engine",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if hostRoot != "" {
				return nil
			}
			dir, err := os.MkdirTemp("", "craftctl-*")
			if err != nil {
				return fmt.Errorf("failed to allocate a scratch root: %w", err)
			}
			hostRoot = dir
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&instanceName, "name", "craftctl-dev", "Instance name")
	cmd.PersistentFlags().StringVar(&hostRoot, "root", "", "Root directory the host backend operates under (default: a temp dir)")
	cmd.AddCommand(launchCmd(), cleanCmd())
	return cmd
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

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

// Package buildd implements the Ubuntu "buildd" Base: the concrete
// PackageManager (apt) plus the full Base Bring-up Pipeline (setup,
// warmup, wait_until_ready) described in Design Notes, supplementing
// the shorter pipeline of the original BuilddBase with EOL-sources
// handling, cache mounts, and snap-proxy/refresh-hold phases.
package buildd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/canonical/craft-providers/bases"
	"github.com/canonical/craft-providers/errs"
	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/hostnameutil"
	"github.com/canonical/craft-providers/instanceconfig"
	"github.com/canonical/craft-providers/networkprobe"
	"github.com/canonical/craft-providers/retry"
	"github.com/canonical/craft-providers/snapinstaller"
)

// PackageManager is the apt-based strategy for Ubuntu buildd images.
type PackageManager struct{}

var defaultPackages = []string{
	"apt-utils", "build-essential", "ca-certificates", "curl", "git", "locales",
}

func (PackageManager) DefaultPackages() []string { return append([]string{}, defaultPackages...) }

func (PackageManager) Update(ctx context.Context, run bases.Runner) error {
	_, err := run.Run(ctx, []string{"apt-get", "update"}, bases.RunOptions{VerifyNetwork: true})
	return err
}

func (PackageManager) Install(ctx context.Context, run bases.Runner, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	cmd := append([]string{"apt-get", "install", "-y"}, packages...)
	_, err := run.Run(ctx, cmd, bases.RunOptions{
		Env:           executor.Env{executor.Set("DEBIAN_FRONTEND", "noninteractive")},
		VerifyNetwork: true,
	})
	return err
}

func (PackageManager) Clean(ctx context.Context, run bases.Runner) error {
	if _, err := run.Run(ctx, []string{"apt-get", "autoremove", "-y"}, bases.RunOptions{}); err != nil {
		return err
	}
	_, err := run.Run(ctx, []string{"apt-get", "clean"}, bases.RunOptions{})
	return err
}

func (PackageManager) CacheDirs() []string {
	return []string{"/var/cache/apt", "/root/.cache"}
}

// Pipeline drives a bases.Base through setup/warmup/wait_until_ready
// against a single instance.
type Pipeline struct {
	Base         bases.Base
	Executor     executor.Executor
	PkgManager   bases.PackageManager
	Probe        networkprobe.Probe
	WaitTimeout  time.Duration
	WaitInterval time.Duration
}

// New returns a Pipeline for base driving ex, with the buildd
// PackageManager and default timings.
func New(base bases.Base, ex executor.Executor) *Pipeline {
	return &Pipeline{
		Base:         base,
		Executor:     ex,
		PkgManager:   PackageManager{},
		Probe:        networkprobe.New(5 * time.Second),
		WaitTimeout:  5 * time.Minute,
		WaitInterval: 5 * time.Second,
	}
}

func (p *Pipeline) runner() bases.Runner {
	return bases.NewRunner(p.Executor, func(ctx context.Context) error {
		return p.Probe.Check(ctx, p.Executor)
	})
}

// Setup runs the full first-time bring-up pipeline.
func (p *Pipeline) Setup(ctx context.Context) error {
	run := p.runner()

	if err := p.compatibilityGate(ctx); err != nil {
		return err
	}
	if err := p.osGate(ctx); err != nil {
		return err
	}
	if _, err := instanceconfig.Update(ctx, p.Executor, instanceconfig.Config{
		CompatibilityTag: p.Base.CompatibilityTag, Setup: boolPtr(false),
	}); err != nil {
		return err
	}

	if err := p.waitForSystemReady(ctx); err != nil {
		return err
	}
	if err := p.writeEnvironmentFile(ctx, run); err != nil {
		return err
	}

	if _, err := instanceconfig.Update(ctx, p.Executor, instanceconfig.Config{
		CompatibilityTag: p.Base.CompatibilityTag,
	}); err != nil {
		return err
	}

	if err := p.setupHostname(ctx, run); err != nil {
		return err
	}
	if err := p.setupNetworking(ctx, run); err != nil {
		return err
	}
	if err := p.waitForNetworkReady(ctx); err != nil {
		return err
	}
	if err := p.setupEOLSources(ctx, run); err != nil {
		return err
	}
	if err := p.setupCacheMounts(ctx); err != nil {
		return err
	}
	if err := p.primePackageManager(ctx, run); err != nil {
		return err
	}
	if err := p.primeSnapd(ctx, run); err != nil {
		return err
	}
	if err := p.installRequestedSnaps(ctx); err != nil {
		return err
	}

	_, err := instanceconfig.Update(ctx, p.Executor, instanceconfig.Config{
		CompatibilityTag: p.Base.CompatibilityTag, Setup: boolPtr(true),
	})
	return err
}

// Warmup re-attaches to a previously-completed instance: compatibility
// and OS gates, confirm setup==true, wait for ready, wait for network,
// re-apply the snap proxy and refresh hold.
func (p *Pipeline) Warmup(ctx context.Context) error {
	run := p.runner()

	if err := p.compatibilityGate(ctx); err != nil {
		return err
	}
	if err := p.osGate(ctx); err != nil {
		return err
	}

	cfg, err := instanceconfig.Load(ctx, p.Executor)
	if err != nil {
		return err
	}
	if cfg == nil || cfg.Setup == nil || !*cfg.Setup {
		return errs.NewBaseCompatibilityError("instance was never fully set up")
	}

	if err := p.waitForSystemReady(ctx); err != nil {
		return err
	}
	if err := p.waitForNetworkReady(ctx); err != nil {
		return err
	}
	return p.applySnapProxyAndHold(ctx, run)
}

// WaitUntilReady is the narrow idempotent wait: system ready, then
// network ready.
func (p *Pipeline) WaitUntilReady(ctx context.Context) error {
	if err := p.waitForSystemReady(ctx); err != nil {
		return err
	}
	return p.waitForNetworkReady(ctx)
}

// --- phase 1: compatibility gate ---

func (p *Pipeline) compatibilityGate(ctx context.Context) error {
	cfg, err := instanceconfig.Load(ctx, p.Executor)
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	if cfg.CompatibilityTag == "" {
		return errs.NewBaseCompatibilityError("instance config has no compatibility tag")
	}
	if cfg.CompatibilityTag != p.Base.CompatibilityTag {
		return errs.NewBaseCompatibilityError(
			fmt.Sprintf("instance has compatibility tag %q, expected %q", cfg.CompatibilityTag, p.Base.CompatibilityTag))
	}
	return nil
}

// --- phase 2: OS gate ---

func (p *Pipeline) osGate(ctx context.Context) error {
	result, err := p.Executor.ExecuteRun(ctx, []string{"cat", "/etc/os-release"}, executor.RunOpts{Check: true})
	if err != nil {
		return errs.NewBaseCompatibilityError("failed to read /etc/os-release")
	}
	release := parseOSRelease(string(result.Stdout))

	if release["ID"] != p.Base.Alias.OS {
		return errs.NewBaseCompatibilityError(
			fmt.Sprintf("OS mismatch: instance is %q, base requires %q", release["ID"], p.Base.Alias.OS))
	}
	if release["VERSION_ID"] == p.Base.Alias.Version {
		return nil
	}
	if p.Base.Alias.Unstable && versionsCompatible(release["VERSION_ID"], p.Base.Alias.Version) {
		return nil
	}
	return errs.NewBaseCompatibilityError(
		fmt.Sprintf("OS version mismatch: instance is %q, base requires %q", release["VERSION_ID"], p.Base.Alias.Version))
}

func parseOSRelease(content string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = strings.Trim(v, `"`)
	}
	return out
}

// --- phase 4/9: readiness waits, via retry.Loop ---

func (p *Pipeline) waitForSystemReady(ctx context.Context) error {
	_, err := retry.Loop(ctx, p.WaitTimeout, p.WaitInterval,
		func(ctx context.Context, leftover time.Duration) (struct{}, error) {
			result, err := p.Executor.ExecuteRun(ctx, []string{"systemctl", "is-system-running"}, executor.RunOpts{})
			if err != nil {
				return struct{}{}, err
			}
			state := strings.TrimSpace(string(result.Stdout))
			if state == "running" || state == "degraded" {
				return struct{}{}, nil
			}
			return struct{}{}, fmt.Errorf("system not ready yet: %s", state)
		},
		func(err error) error { return errs.NewBaseConfigurationError("system did not become ready in time", err.Error()) })
	return err
}

func (p *Pipeline) waitForNetworkReady(ctx context.Context) error {
	_, err := retry.Loop(ctx, p.WaitTimeout, p.WaitInterval,
		func(ctx context.Context, leftover time.Duration) (struct{}, error) {
			_, err := p.Executor.ExecuteRun(ctx, []string{"getent", "hosts", "snapcraft.io"}, executor.RunOpts{Check: true})
			return struct{}{}, err
		},
		func(err error) error { return errs.NewNetworkError(err) })
	return err
}

// --- phase 5: environment file ---

func (p *Pipeline) writeEnvironmentFile(ctx context.Context, run bases.Runner) error {
	var b strings.Builder
	for _, e := range p.Base.Environment {
		if e.Value == nil {
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", e.Key, *e.Value)
	}
	if err := p.Executor.PushFileIO(ctx, "/etc/environment", []byte(b.String()), 0o644, "root", "root"); err != nil {
		return errs.NewBackendError("failed to write /etc/environment", err)
	}

	if p.Base.Alias.OS == "ubuntu" {
		if err := p.Executor.PushFileIO(ctx, "/etc/apt/apt.conf.d/20auto-upgrades",
			[]byte("APT::Periodic::Update-Package-Lists \"0\";\nAPT::Periodic::Unattended-Upgrade \"0\";\n"),
			0o644, "root", "root"); err != nil {
			return errs.NewBackendError("failed to disable periodic upgrades", err)
		}
	}
	return nil
}

// --- phase 7: hostname ---

func (p *Pipeline) setupHostname(ctx context.Context, run bases.Runner) error {
	// Grounded directly on hostnameutil; bases.Base.Hostname is raw
	// until this point.
	normalized, err := normalizeHostname(p.Base.Hostname)
	if err != nil {
		return errs.NewBaseConfigurationError("invalid hostname", err.Error())
	}
	if err := p.Executor.PushFileIO(ctx, "/etc/hostname", []byte(normalized+"\n"), 0o644, "root", "root"); err != nil {
		return errs.NewBackendError("failed to write /etc/hostname", err)
	}
	_, err = run.Run(ctx, []string{"hostnamectl", "set-hostname", normalized}, bases.RunOptions{})
	return err
}

// --- phase 8: networking ---

const dhcpUnit = `[Match]
Name=e*

[Network]
DHCP=yes
`

func (p *Pipeline) setupNetworking(ctx context.Context, run bases.Runner) error {
	if err := p.Executor.PushFileIO(ctx, "/etc/systemd/network/10-dhcp.network",
		[]byte(dhcpUnit), 0o644, "root", "root"); err != nil {
		return errs.NewBackendError("failed to write network unit", err)
	}
	if _, err := run.Run(ctx, []string{"systemctl", "enable", "--now", "systemd-networkd"}, bases.RunOptions{}); err != nil {
		return err
	}
	if _, err := run.Run(ctx, []string{"ln", "-sf",
		"/run/systemd/resolve/stub-resolv.conf", "/etc/resolv.conf"}, bases.RunOptions{}); err != nil {
		return err
	}
	_, err := run.Run(ctx, []string{"systemctl", "restart", "systemd-resolved"}, bases.RunOptions{})
	return err
}

// --- phase 10: EOL sources ---

func (p *Pipeline) setupEOLSources(ctx context.Context, run bases.Runner) error {
	if p.Base.Alias.OS != "ubuntu" || p.Base.Alias.ReleaseEOL == "" {
		return nil
	}
	eol, err := time.Parse(time.RFC3339, p.Base.Alias.ReleaseEOL)
	if err != nil || time.Now().Before(eol) {
		return nil
	}
	const archiveSources = "deb http://old-releases.ubuntu.com/ubuntu %s main restricted universe multiverse\n"
	content := fmt.Sprintf(archiveSources, p.Base.Alias.Name)
	if err := p.Executor.PushFileIO(ctx, "/etc/apt/sources.list", []byte(content), 0o644, "root", "root"); err != nil {
		return errs.NewBackendError("failed to point apt at archived sources", err)
	}
	return nil
}

// --- phase 11: package manager priming ---

func (p *Pipeline) primePackageManager(ctx context.Context, run bases.Runner) error {
	if err := p.PkgManager.Update(ctx, run); err != nil {
		return err
	}
	packages := p.Base.Packages
	if p.Base.UseDefaultPackages {
		packages = union(p.PkgManager.DefaultPackages(), packages)
	}
	if err := p.PkgManager.Install(ctx, run, packages); err != nil {
		return err
	}
	return p.PkgManager.Clean(ctx, run)
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// --- phase 12: snap daemon priming ---

func (p *Pipeline) primeSnapd(ctx context.Context, run bases.Runner) error {
	steps := [][]string{
		{"apt-get", "install", "-y", "fuse", "udev"},
		{"systemctl", "enable", "systemd-udevd"},
		{"systemctl", "start", "systemd-udevd"},
		{"apt-get", "install", "-y", "snapd"},
		{"systemctl", "start", "snapd.socket"},
		// Restart, not start, the service in case the environment has
		// changed and the service is already running.
		{"systemctl", "restart", "snapd.service"},
		{"snap", "wait", "system", "seed.loaded"},
	}
	for _, step := range steps {
		if _, err := run.Run(ctx, step, bases.RunOptions{}); err != nil {
			return err
		}
	}
	return p.applySnapProxyAndHold(ctx, run)
}

func (p *Pipeline) applySnapProxyAndHold(ctx context.Context, run bases.Runner) error {
	if _, err := run.Run(ctx, []string{"snap", "refresh", "--hold"}, bases.RunOptions{}); err != nil {
		return err
	}
	for _, e := range p.Base.Environment {
		if e.Value == nil {
			continue
		}
		switch strings.ToLower(e.Key) {
		case "http_proxy":
			if _, err := run.Run(ctx, []string{"snap", "set", "system", "proxy.http=" + *e.Value}, bases.RunOptions{}); err != nil {
				return err
			}
		case "https_proxy":
			if _, err := run.Run(ctx, []string{"snap", "set", "system", "proxy.https=" + *e.Value}, bases.RunOptions{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- phase 13: user-requested snaps ---

func (p *Pipeline) installRequestedSnaps(ctx context.Context) error {
	for _, s := range p.Base.Snaps {
		if s.Channel == nil {
			if err := snapinstaller.InjectFromHost(ctx, p.Executor, s.Name, s.Classic); err != nil {
				return err
			}
			continue
		}
		if err := snapinstaller.InstallFromStore(ctx, p.Executor, s.Name, *s.Channel, s.Classic); err != nil {
			return err
		}
	}
	return nil
}

// --- cache mounts ---

func (p *Pipeline) setupCacheMounts(ctx context.Context) error {
	if p.Base.CachePath == "" {
		return nil
	}
	if !p.Executor.SupportsMount() {
		return nil
	}
	for _, dir := range p.PkgManager.CacheDirs() {
		hostDir := fmt.Sprintf("%s/%s/%s%s", p.Base.CachePath, p.Base.CompatibilityTag, p.Base.Alias.Name, dir)
		if err := p.Executor.Mount(ctx, hostDir, dir); err != nil {
			return errs.NewBackendError(fmt.Sprintf("failed to mount cache directory %q", dir), err)
		}
	}
	return nil
}

// --- helpers ---

func boolPtr(b bool) *bool { return &b }

func normalizeHostname(raw string) (string, error) {
	return hostnameutil.Normalize(raw, hostnameutil.DefaultMaxLen)
}

// versionsCompatible tolerates patch-level drift (e.g. "22.04.1" vs
// "22.04") on an alias marked unstable, coercing both sides through
// semver rather than demanding byte-identical strings.
func versionsCompatible(instance, want string) bool {
	iv, err1 := semver.NewVersion(padVersion(instance))
	wv, err2 := semver.NewVersion(padVersion(want))
	if err1 != nil || err2 != nil {
		return false
	}
	return iv.Major() == wv.Major() && iv.Minor() == wv.Minor()
}

// padVersion fills in a missing patch component ("22.04" -> "22.04.0")
// since semver.NewVersion requires three components.
func padVersion(v string) string {
	if strings.Count(v, ".") < 2 {
		return v + ".0"
	}
	return v
}

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

// Package instanceconfig implements the Instance Config Store (C3): a
// small, schema-strict YAML document resident inside every instance,
// tracking whether setup completed and which snap revisions were
// injected, read from either of two on-disk layouts and written only
// to the current one.
package instanceconfig

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/canonical/craft-providers/errs"
	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/hostutil"
)

// CurrentPath is the only path ever written. LegacyPath is read as a
// fallback when CurrentPath does not exist, per the two coexisting
// layouts this store must stay compatible with.
const (
	CurrentPath = "/etc/craft-instance.conf"
	LegacyPath  = "/etc/craft.conf"
)

// SnapRecord tracks the injected/installed revision of a single snap
// and which of the two installation paths produced it.
type SnapRecord struct {
	Revision string `yaml:"revision"`
	Source   string `yaml:"source,omitempty"`
}

// Config is the full schema. Every field is optional so a partial
// Update only touches what it names; unknown keys in the YAML source
// are rejected rather than silently dropped.
type Config struct {
	CompatibilityTag string                `yaml:"compatibility_tag,omitempty"`
	Setup            *bool                 `yaml:"setup,omitempty"`
	Snaps            map[string]SnapRecord `yaml:"snaps,omitempty"`
}

var allowedKeys = map[string]bool{
	"compatibility_tag": true,
	"setup":             true,
	"snaps":             true,
}

// UnmarshalYAML rejects any key outside the known schema, the Go
// equivalent of the original model's extra="forbid".
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("instance config must be a mapping, got %v", value.Kind)
	}
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !allowedKeys[key] {
			return fmt.Errorf("instance config: unknown field %q", key)
		}
	}
	type rawConfig Config
	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw)
	return nil
}

// Load reads the instance config, trying CurrentPath first and
// falling back to LegacyPath. Returns (nil, nil) when neither path
// exists or the file is empty, matching the original's "None" result.
func Load(ctx context.Context, ex executor.Executor) (*Config, error) {
	for _, path := range []string{CurrentPath, LegacyPath} {
		cfg, err := loadPath(ctx, ex, path)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	return nil, nil
}

func loadPath(ctx context.Context, ex executor.Executor, path string) (*Config, error) {
	tmp, err := hostutil.TempFile("craft-instance-config-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := ex.PullFile(ctx, path, tmpPath); err != nil {
		// Treated as "file does not exist" -- the original distinguishes
		// FileNotFoundError from other ProviderErrors; here PullFile's
		// single error class covers both, so an absent file and a
		// genuinely broken pull are reported identically to the caller.
		return nil, nil //nolint:nilerr
	}

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, errs.NewBaseConfigurationError(
			fmt.Sprintf("Failed to read instance config in environment at %s", path), "")
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		// An unparseable or schema-violating document means the instance
		// cannot be trusted going forward -- the same "incompatible, not
		// merely misconfigured" treatment as a compatibility-tag
		// mismatch, so the Engine's auto-clean path can recover it.
		return nil, errs.NewBaseCompatibilityError(
			fmt.Sprintf("failed to parse instance configuration file: %s", err))
	}
	return &cfg, nil
}

// Save writes cfg to CurrentPath through PushFileIO, logging the
// content digest of the rendered document; no host scratch file is
// involved.
func Save(ctx context.Context, ex executor.Executor, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal instance config: %w", err)
	}
	log.Printf("instanceconfig: staging %s content %s", CurrentPath, digest.FromBytes(data))
	return ex.PushFileIO(ctx, CurrentPath, data, 0o644, "root", "root")
}

// Update loads the existing config (if any), recursively merges data
// into it -- new values are added, existing values are overwritten,
// nothing is removed -- and saves the result.
func Update(ctx context.Context, ex executor.Executor, data Config) (*Config, error) {
	existing, err := Load(ctx, ex)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing = &Config{}
	}
	merged := mergeConfig(*existing, data)
	if err := Save(ctx, ex, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

func mergeConfig(base, overlay Config) Config {
	out := base
	if overlay.CompatibilityTag != "" {
		out.CompatibilityTag = overlay.CompatibilityTag
	}
	if overlay.Setup != nil {
		out.Setup = overlay.Setup
	}
	if overlay.Snaps != nil {
		if out.Snaps == nil {
			out.Snaps = map[string]SnapRecord{}
		}
		for name, rec := range overlay.Snaps {
			cur := out.Snaps[name]
			if rec.Revision != "" {
				cur.Revision = rec.Revision
			}
			if rec.Source != "" {
				cur.Source = rec.Source
			}
			out.Snaps[name] = cur
		}
	}
	return out
}

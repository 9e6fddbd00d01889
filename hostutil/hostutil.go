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

// Package hostutil resolves the host-side scratch directory every
// component that stages a file before pushing it into an instance
// (instanceconfig pulls, snap/assertion staging) writes through, the
// Go counterpart of the original implementation's XDG cache-dir
// resolution.
package hostutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	homedir "github.com/mitchellh/go-homedir"
)

const appDirName = "craft-providers"

var (
	once      sync.Once
	cachedDir string
	cachedErr error
)

// ScratchDir returns the directory scratch files are staged under,
// creating it if necessary. Prefers $XDG_CACHE_HOME/craft-providers,
// falling back to ~/.cache/craft-providers when unset -- go-homedir
// resolves the home directory without relying on cgo or the os/user
// package, which doesn't work properly in a statically linked,
// non-cgo binary.
func ScratchDir() (string, error) {
	once.Do(func() {
		cachedDir, cachedErr = resolveScratchDir()
	})
	return cachedDir, cachedErr
}

func resolveScratchDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create scratch directory %q: %w", dir, err)
	}
	return dir, nil
}

// TempFile allocates a scratch file with the given name pattern (see
// os.CreateTemp) inside ScratchDir instead of the system-wide tmp
// directory, so staged config/snap data never leaves the user's own
// cache tree.
func TempFile(pattern string) (*os.File, error) {
	dir, err := ScratchDir()
	if err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, pattern)
}

// TempDir allocates a scratch subdirectory inside ScratchDir.
func TempDir(pattern string) (string, error) {
	dir, err := ScratchDir()
	if err != nil {
		return "", err
	}
	return os.MkdirTemp(dir, pattern)
}

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

// Package hostnameutil implements the Hostname Normaliser (C8):
// turning any Unicode string into a valid POSIX hostname component,
// with an optional deterministic suffix for backend identifiers that
// must also be globally unique.
package hostnameutil

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// DefaultMaxLen is the standard hostname length cap; some backends
// (Multipass-style) require a shorter one, hence the explicit
// parameter on every function here rather than a package constant.
const DefaultMaxLen = 63

func isAllowed(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// stripDisallowed removes every rune not in [A-Za-z0-9-], using
// x/text/runes over raw Unicode input so multi-byte runes are dropped
// whole rather than mangled byte-by-byte.
func stripDisallowed(s string) (string, error) {
	remover := runes.Remove(runes.Predicate(func(r rune) bool { return !isAllowed(r) }))
	out, _, err := transform.String(remover, s)
	if err != nil {
		return "", fmt.Errorf("failed to filter hostname characters: %w", err)
	}
	return out, nil
}

func trimLeading(s string) string {
	i := 0
	for i < len(s) && !isAlnum(rune(s[i])) {
		i++
	}
	return s[i:]
}

func trimTrailing(s string) string {
	j := len(s)
	for j > 0 && !isAlnum(rune(s[j-1])) {
		j--
	}
	return s[:j]
}

// Normalize turns name into a valid hostname component of length
// 1..maxLen matching [A-Za-z0-9][A-Za-z0-9-]*[A-Za-z0-9] (a
// single-character result only needs to be alphanumeric).
func Normalize(name string, maxLen int) (string, error) {
	filtered, err := stripDisallowed(name)
	if err != nil {
		return "", err
	}
	filtered = trimLeading(filtered)
	if len(filtered) > maxLen {
		filtered = filtered[:maxLen]
	}
	filtered = trimTrailing(filtered)
	if filtered == "" {
		return "", fmt.Errorf("hostname %q has no valid characters after normalization", name)
	}
	return filtered, nil
}

// hashHexLen is the number of hex digits (80 bits) of the hash kept in
// the disambiguation suffix; the suffix is a separator plus these.
const hashHexLen = 20

// NormalizeUnique is Normalize, but appends a deterministic
// hashHexLen-hex-digit disambiguation suffix derived from the original
// (pre-normalization) name, truncating the normalized prefix so the
// whole result still fits within maxLen.
func NormalizeUnique(name string, maxLen int) (string, error) {
	sum := sha1.Sum([]byte(name))
	suffix := "-" + hex.EncodeToString(sum[:])[:hashHexLen]

	prefixMax := maxLen - len(suffix)
	if prefixMax < 1 {
		return "", fmt.Errorf("maxLen %d too small to fit a disambiguation suffix of length %d", maxLen, len(suffix))
	}

	prefix, err := Normalize(name, prefixMax)
	if err != nil {
		return "", err
	}
	return prefix + suffix, nil
}

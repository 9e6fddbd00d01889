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

package sshexec

import (
	"fmt"
	"os"
	"strings"
)

// shellQuote wraps s in single quotes, escaping any embedded single
// quote the POSIX way, so it survives the remote shell unmodified.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellJoin renders argv as a single POSIX command line -- the SSH
// exec channel takes one string, not an argv, so every backend that
// talks to a remote shell has to do this translation somewhere.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func readHostFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read host file: %w", err)
	}
	return content, nil
}

func writeHostFile(path string, content []byte) error {
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write host file: %w", err)
	}
	return nil
}

func fileMode(mode uint32) os.FileMode {
	return os.FileMode(mode).Perm()
}

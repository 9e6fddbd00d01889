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

package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestProviderErrorRendersAllParts(t *testing.T) {
	e := &ProviderError{Brief: "brief", Details: "details", Resolution: "resolution"}
	got := e.Error()
	for _, part := range []string{"brief", "details", "resolution"} {
		if !strings.Contains(got, part) {
			t.Fatalf("rendered error %q missing %q", got, part)
		}
	}
}

func TestProviderErrorOmitsEmptyParts(t *testing.T) {
	e := New("only brief")
	if e.Error() != "only brief" {
		t.Fatalf("got %q, want %q", e.Error(), "only brief")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	e := New("brief").Wrap(cause)
	if Cause(e) != cause {
		t.Fatalf("Cause() did not recover the wrapped error")
	}
	if !errors.Is(e, cause) {
		t.Fatalf("errors.Is should unwrap through ProviderError")
	}
}

func TestBaseCompatibilityErrorResolution(t *testing.T) {
	e := NewBaseCompatibilityError("tag mismatch")
	if !strings.Contains(e.Error(), "tag mismatch") {
		t.Fatalf("error %q does not mention the reason", e.Error())
	}
	if !strings.Contains(e.Error(), "Clean incompatible instance") {
		t.Fatalf("error %q is missing the standard resolution", e.Error())
	}
}

func TestConfigurationErrorRendersBriefAndResolution(t *testing.T) {
	e := NewConfigurationError("channel must not be empty", "set a real channel name")
	got := e.Error()
	if !strings.Contains(got, "channel must not be empty") {
		t.Fatalf("error %q missing brief", got)
	}
	if !strings.Contains(got, "set a real channel name") {
		t.Fatalf("error %q missing resolution", got)
	}
}

func TestDetailsFromCommand(t *testing.T) {
	details := DetailsFromCommand([]string{"apt-get", "update"}, 1, []byte("out"), []byte("err"))
	for _, want := range []string{"apt-get update", "1", "out", "err"} {
		if !strings.Contains(details, want) {
			t.Fatalf("details %q missing %q", details, want)
		}
	}
}

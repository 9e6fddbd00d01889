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

package snapinstaller

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLocalInstallCommand(t *testing.T) {
	cases := []struct {
		name              string
		classic, dangerous bool
		want              []string
	}{
		{"plain", false, false, []string{"snap", "install", "/tmp/foo.snap"}},
		{"classic", true, false, []string{"snap", "install", "--classic", "/tmp/foo.snap"}},
		{"dangerous", false, true, []string{"snap", "install", "--dangerous", "/tmp/foo.snap"}},
		{"classic and dangerous", true, true, []string{"snap", "install", "--classic", "--dangerous", "/tmp/foo.snap"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := localInstallCommand("/tmp/foo.snap", tc.classic, tc.dangerous)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRemoteInstallCommand(t *testing.T) {
	got := remoteInstallCommand("snapcraft", "latest/stable", true)
	want := []string{"snap", "install", "snapcraft", "--channel=latest/stable", "--classic"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshCommand(t *testing.T) {
	got := refreshCommand("snapcraft", "latest/edge")
	want := []string{"snap", "refresh", "snapcraft", "--channel=latest/edge"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveCommand(t *testing.T) {
	got := removeCommand("snapcraft")
	want := []string{"snap", "remove", "snapcraft"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestAckCommand(t *testing.T) {
	got := ackCommand("/tmp/assert")
	want := []string{"snap", "ack", "/tmp/assert"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestKnownCommand(t *testing.T) {
	got := knownCommand([]string{"snap-declaration", "snap-name=core22"})
	want := []string{"snap", "known", "snap-declaration", "snap-name=core22"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	// Dropping the leading "snap" token (as done when dispatching via
	// exec.CommandContext, which takes the binary name separately)
	// must leave "known" as argv[0].
	if got[1:][0] != "known" {
		t.Fatalf("expected argv[1] to be \"known\" after dropping \"snap\", got %q", got[1:][0])
	}
}

func TestPackCommand(t *testing.T) {
	got := packCommand("/tmp/snapdir", "/tmp/out.snap")
	want := []string{"snap", "pack", "/tmp/snapdir", "--filename=/tmp/out.snap"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	// The [1:] slice used when dispatching via exec.CommandContext(ctx,
	// "snap", packCommand(...)[1:]...) must keep the "pack" subcommand.
	if got[1:][0] != "pack" {
		t.Fatalf("expected argv[1] to be \"pack\" after dropping \"snap\", got %q", got[1:][0])
	}
}

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
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/canonical/craft-providers/errs"
	"github.com/canonical/craft-providers/executor"
	"github.com/canonical/craft-providers/executor/fakeexec"
	"github.com/canonical/craft-providers/instanceconfig"
)

func TestStoreNameStripsInstanceKey(t *testing.T) {
	cases := map[string]string{
		"snapcraft":         "snapcraft",
		"snapcraft_testing": "snapcraft",
	}
	for in, want := range cases {
		if got := storeName(in); got != want {
			t.Fatalf("storeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractJSONFieldFindsValue(t *testing.T) {
	body := []byte(`{"type":"sync","result":{"revision":"834","base":"core22"}}`)
	if got := extractJSONField(body, "revision"); got != "834" {
		t.Fatalf("got %q, want %q", got, "834")
	}
	if got := extractJSONField(body, "base"); got != "core22" {
		t.Fatalf("got %q, want %q", got, "core22")
	}
}

func TestExtractJSONFieldMissing(t *testing.T) {
	if got := extractJSONField([]byte(`{"type":"sync"}`), "revision"); got != "" {
		t.Fatalf("got %q, want empty string for a missing field", got)
	}
}

func TestRevisionEnsuringSourceNoExistingRecord(t *testing.T) {
	ex := fakeexec.New()
	rev, err := revisionEnsuringSource(context.Background(), ex, "snapcraft", sourceHost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != "" {
		t.Fatalf("got %q, want empty revision when nothing is recorded", rev)
	}
}

func TestRevisionEnsuringSourceMatchingSourceReturnsRevision(t *testing.T) {
	ex := fakeexec.New()
	ctx := context.Background()
	if _, err := instanceconfig.Update(ctx, ex, instanceconfig.Config{
		Snaps: map[string]instanceconfig.SnapRecord{"snapcraft": {Revision: "834", Source: sourceHost}},
	}); err != nil {
		t.Fatalf("seeding instance config: %v", err)
	}

	rev, err := revisionEnsuringSource(ctx, ex, "snapcraft", sourceHost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != "834" {
		t.Fatalf("got %q, want %q", rev, "834")
	}
	if len(ex.Calls) != 0 {
		t.Fatalf("expected no remove command when the source already matches, got %+v", ex.Calls)
	}
}

func TestRevisionEnsuringSourceDifferentSourceRemovesAndResets(t *testing.T) {
	ex := fakeexec.New()
	ctx := context.Background()
	if _, err := instanceconfig.Update(ctx, ex, instanceconfig.Config{
		Snaps: map[string]instanceconfig.SnapRecord{"snapcraft": {Revision: "834", Source: sourceStore}},
	}); err != nil {
		t.Fatalf("seeding instance config: %v", err)
	}

	rev, err := revisionEnsuringSource(ctx, ex, "snapcraft", sourceHost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != "" {
		t.Fatalf("got %q, want empty revision after a source mismatch", rev)
	}
	if len(ex.Calls) != 1 || ex.Calls[0][1] != "remove" {
		t.Fatalf("expected a single snap-remove call, got %+v", ex.Calls)
	}
}

func TestInstallErrorUsesProcessErrorDetails(t *testing.T) {
	pe := &executor.ProcessError{Cmd: []string{"snap", "install", "foo"}, ExitCode: 2, Stdout: []byte("out"), Stderr: []byte("err")}
	err := installError("failed to install", pe)
	sErr, ok := err.(*errs.SnapInstallationError)
	if !ok {
		t.Fatalf("expected a *errs.SnapInstallationError, got %T", err)
	}
	if !strings.Contains(sErr.Error(), "snap install foo") {
		t.Fatalf("error %q should mention the failed command", sErr.Error())
	}
}

func TestInstallErrorUsesPlainMessageForOtherErrors(t *testing.T) {
	err := installError("failed to install", errors.New("connection refused"))
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("error %q should mention the underlying cause", err.Error())
	}
}

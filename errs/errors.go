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

// Package errs holds the provider error taxonomy: every error raised
// by this module carries a brief description plus optional details and
// a suggested resolution, concatenated by newline when rendered.
package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ProviderError is the root of the taxonomy. Brief is mandatory;
// Details and Resolution are optional context appended on render.
type ProviderError struct {
	Brief      string
	Details    string
	Resolution string
	cause      error
}

func (e *ProviderError) Error() string {
	parts := []string{e.Brief}
	if e.Details != "" {
		parts = append(parts, e.Details)
	}
	if e.Resolution != "" {
		parts = append(parts, e.Resolution)
	}
	return strings.Join(parts, "\n")
}

func (e *ProviderError) Unwrap() error { return e.cause }

// Wrap attaches cause as the chained cause of a ProviderError, usable
// with errors.Cause / errors.Is through github.com/pkg/errors.
func (e *ProviderError) Wrap(cause error) *ProviderError {
	e.cause = errors.WithStack(cause)
	return e
}

// New builds a bare ProviderError.
func New(brief string) *ProviderError {
	return &ProviderError{Brief: brief}
}

// BaseConfigurationError signals that base setup failed for an unknown
// or local reason.
type BaseConfigurationError struct{ *ProviderError }

func NewBaseConfigurationError(brief, details string) *BaseConfigurationError {
	return &BaseConfigurationError{&ProviderError{Brief: brief, Details: details}}
}

// BaseCompatibilityError signals that an instance is incompatible with
// the requested Base, either by compatibility tag or OS mismatch. The
// idiomatic resolution is always "clean instance and retry".
type BaseCompatibilityError struct {
	*ProviderError
	Reason string
}

func NewBaseCompatibilityError(reason string) *BaseCompatibilityError {
	return &BaseCompatibilityError{
		ProviderError: &ProviderError{
			Brief:      fmt.Sprintf("Incompatible base detected: %s.", reason),
			Resolution: "Clean incompatible instance and retry the requested operation.",
		},
		Reason: reason,
	}
}

// ConfigurationError signals a caller-supplied value is invalid at
// construction time, before any instance or backend is involved.
type ConfigurationError struct{ *ProviderError }

func NewConfigurationError(brief, resolution string) *ConfigurationError {
	return &ConfigurationError{&ProviderError{Brief: brief, Resolution: resolution}}
}

// NetworkError signals an operation failed because connectivity is
// missing, distinguished from a command-specific failure by the
// Network Reachability Probe.
type NetworkError struct{ *ProviderError }

func NewNetworkError(cause error) *NetworkError {
	e := &NetworkError{&ProviderError{
		Brief: "A network related operation failed in a context of no network access.",
		Resolution: "Verify that the environment has internet connectivity; " +
			"see the provider documentation for further reference.",
	}}
	if cause != nil {
		e.Wrap(cause)
	}
	return e
}

// UnstableImageError signals the caller didn't opt in to an unstable
// (devel/daily) image.
type UnstableImageError struct{ *ProviderError }

func NewUnstableImageError(alias string) *UnstableImageError {
	return &UnstableImageError{&ProviderError{
		Brief:      fmt.Sprintf("Base alias %q resolves to an unstable image.", alias),
		Resolution: "Pass allow_unstable=true to use this alias.",
	}}
}

// BackendError signals the backend itself failed to perform an
// operation (exec, push, mount, lifecycle).
type BackendError struct{ *ProviderError }

func NewBackendError(brief string, cause error) *BackendError {
	e := &BackendError{&ProviderError{Brief: brief}}
	if cause != nil {
		e.Wrap(cause)
	}
	return e
}

// BackendInstallationError signals the backend could not be installed.
type BackendInstallationError struct{ *ProviderError }

func NewBackendInstallationError(brief string, cause error) *BackendInstallationError {
	e := &BackendInstallationError{&ProviderError{Brief: brief}}
	if cause != nil {
		e.Wrap(cause)
	}
	return e
}

// SnapInstallationError signals a Snap Installer step failed.
type SnapInstallationError struct{ *ProviderError }

func NewSnapInstallationError(brief, details string) *SnapInstallationError {
	return &SnapInstallationError{&ProviderError{Brief: brief, Details: details}}
}

// MachineTokenError signals an entitlement token is unavailable.
type MachineTokenError struct{ *ProviderError }

func NewMachineTokenError(brief, resolution string) *MachineTokenError {
	return &MachineTokenError{&ProviderError{Brief: brief, Resolution: resolution}}
}

// Cause recovers the innermost wrapped error, if any, by following
// Unwrap through every layer (ProviderError and github.com/pkg/errors
// wrappers alike). Returns err itself when nothing was wrapped.
func Cause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}

// DetailsFromCommand renders a consistent details string for a failed
// command, mirroring details_from_command_error in the original
// implementation.
func DetailsFromCommand(cmd []string, exitCode int, stdout, stderr []byte) string {
	details := []string{
		fmt.Sprintf("* Command that failed: %q", strings.Join(cmd, " ")),
		fmt.Sprintf("* Command exit code: %d", exitCode),
	}
	if len(stdout) > 0 {
		details = append(details, fmt.Sprintf("* Command output: %q", stdout))
	}
	if len(stderr) > 0 {
		details = append(details, fmt.Sprintf("* Command standard error output: %q", stderr))
	}
	return strings.Join(details, "\n")
}

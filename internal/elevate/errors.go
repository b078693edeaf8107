package elevate

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned once the attempt budget is exhausted or
// when the user dismisses a prompt.
var ErrPermissionDenied = errors.New("user did not grant permission")

// ErrPlatformUnsupported is returned when the host has no prompt driver.
var ErrPlatformUnsupported = errors.New("platform not yet supported")

// ErrNoFrontend is returned when none of the graphical front-ends exist.
var ErrNoFrontend = errors.New("unable to find gksudo, pkexec or kdesudo")

// ErrPromptTimeout is returned to every waiter when a prompt exceeds the
// configured prompt timeout.
var ErrPromptTimeout = errors.New("authorization prompt timed out")

// Validation failures, wrapped in *ValidationError.
var (
	ErrInvalidName     = errors.New("name must be alphanumeric only (spaces are allowed)")
	ErrNameUnavailable = errors.New("name must be provided (process title is not valid)")
	ErrInvalidIcon     = errors.New("icon must be a non-empty string if provided")
	ErrAlreadyElevated = errors.New(`command should not contain "sudo"`)
	ErrRelativeDir     = errors.New("working directory must be absolute")
)

// ValidationError reports a request rejected before any subprocess ran.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UnexpectedOutputError reports sudo diagnostics that match neither a
// successful run nor the authorization-required shape.
type UnexpectedOutputError struct {
	Stderr string
}

func (e *UnexpectedOutputError) Error() string {
	return fmt.Sprintf("unexpected output from elevation tool: %q", e.Stderr)
}

// CommandError is the elevated command's own failure, passed through
// verbatim.
type CommandError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command failed with exit status %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("command failed: %v", e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Package shell runs command lines through /bin/sh and captures their output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultShell is used when Exec.Shell is empty.
const DefaultShell = "/bin/sh"

// Observer receives the live process right after it starts, before it exits.
type Observer func(*os.Process)

// Options are per-spawn settings.
type Options struct {
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Observe, if set, is called with the started process.
	Observe Observer
}

// Spawner runs a command line and returns its captured streams.
// A non-nil error is either a *StartError or the error returned by Wait
// (typically *exec.ExitError).
type Spawner interface {
	Spawn(ctx context.Context, commandLine string, opts Options) (stdout, stderr string, err error)
}

// StartError is returned when the shell could not be started at all.
type StartError struct {
	CommandLine string
	Err         error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %q: %v", e.CommandLine, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Exec spawns real processes.
type Exec struct {
	// Shell is the interpreter invoked with "-c". Defaults to /bin/sh.
	Shell string
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// Spawn implements Spawner.
func (e Exec) Spawn(ctx context.Context, commandLine string, opts Options) (string, string, error) {
	sh := e.Shell
	if sh == "" {
		sh = DefaultShell
	}

	cmd := exec.CommandContext(ctx, sh, "-c", commandLine)
	if e.Env != nil {
		cmd.Env = e.Env
	}
	cmd.Dir = opts.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", "", &StartError{CommandLine: commandLine, Err: err}
	}
	if opts.Observe != nil {
		opts.Observe(cmd.Process)
	}
	err := cmd.Wait()
	return stdout.String(), stderr.String(), err
}

// ExitCode returns the exit status carried by err, 0 for a nil error and
// -1 when the process did not exit normally.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Outright reports whether err means the process failed to run to
// completion: it never started, or it was terminated by a signal. A plain
// non-zero exit status is not an outright failure.
func Outright(err error) bool {
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return !exitErr.Exited()
	}
	return true
}

// Quote wraps s in double quotes for /bin/sh, escaping the characters that
// stay special inside them.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}

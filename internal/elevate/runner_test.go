package elevate

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nikicat/sudo-prompt/internal/shell"
)

const passwordRequired = "sudo: a password is required\n"

func newTestRunner(respond func(string) spawnResult) (*Runner, *fakeSpawner) {
	sp := &fakeSpawner{respond: respond}
	return &Runner{Spawner: sp, SudoPath: DefaultSudoPath, Classifier: DefaultClassifier()}, sp
}

func TestRunner_Success(t *testing.T) {
	r, sp := newTestRunner(func(string) spawnResult { return spawnResult{stdout: "hello\n"} })

	out := r.Attempt(context.Background(), "echo hello", false, shell.Options{})
	if out.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %v, want success (err %v)", out.Kind, out.Err)
	}
	if out.Stdout != "hello\n" || out.Stderr != "" {
		t.Errorf("streams = %q, %q", out.Stdout, out.Stderr)
	}
	calls := sp.Calls()
	if len(calls) != 1 || calls[0] != `"/usr/bin/sudo" -n echo hello` {
		t.Errorf("calls = %q", calls)
	}
}

func TestRunner_RejectsElevatedCommand(t *testing.T) {
	r, sp := newTestRunner(nil)

	for _, cmd := range []string{"sudo echo hello", "  SUDO ls", "\tSudo -i"} {
		out := r.Attempt(context.Background(), cmd, false, shell.Options{})
		if out.Kind != OutcomeRejected {
			t.Errorf("%q: Kind = %v, want rejected", cmd, out.Kind)
		}
		if !errors.Is(out.Err, ErrAlreadyElevated) {
			t.Errorf("%q: err = %v, want ErrAlreadyElevated", cmd, out.Err)
		}
	}
	if len(sp.Calls()) != 0 {
		t.Errorf("spawned %d processes, want 0", len(sp.Calls()))
	}
}

func TestRunner_AuthRequired(t *testing.T) {
	exit1 := exitError(t, 1)
	r, _ := newTestRunner(func(string) spawnResult { return spawnResult{stderr: passwordRequired, err: exit1} })

	out := r.Attempt(context.Background(), "id -u", false, shell.Options{})
	if out.Kind != OutcomeAuthRequired {
		t.Fatalf("Kind = %v, want auth_required", out.Kind)
	}
	if out.Err != nil {
		t.Errorf("Err = %v, want nil", out.Err)
	}

	out = r.Attempt(context.Background(), "id -u", true, shell.Options{})
	if out.Kind != OutcomeFailed || !errors.Is(out.Err, ErrPermissionDenied) {
		t.Errorf("final attempt = %v/%v, want failed/ErrPermissionDenied", out.Kind, out.Err)
	}
}

func TestRunner_AuthMessageWithStartErrorIsCommandFailure(t *testing.T) {
	startErr := &shell.StartError{CommandLine: "x", Err: os.ErrNotExist}
	r, _ := newTestRunner(func(string) spawnResult { return spawnResult{stderr: passwordRequired, err: startErr} })

	out := r.Attempt(context.Background(), "id -u", false, shell.Options{})
	var cmdErr *CommandError
	if out.Kind != OutcomeFailed || !errors.As(out.Err, &cmdErr) {
		t.Fatalf("got %v/%v, want failed/*CommandError", out.Kind, out.Err)
	}
	if cmdErr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", cmdErr.ExitCode)
	}
	if !errors.Is(out.Err, os.ErrNotExist) {
		t.Errorf("error chain lost the start error: %v", out.Err)
	}
}

func TestRunner_UnexpectedToolOutput(t *testing.T) {
	stderr := "sudo: unable to resolve host box\n"
	r, _ := newTestRunner(func(string) spawnResult { return spawnResult{stdout: "0\n", stderr: stderr} })

	out := r.Attempt(context.Background(), "id -u", false, shell.Options{})
	var unexpected *UnexpectedOutputError
	if out.Kind != OutcomeFailed || !errors.As(out.Err, &unexpected) {
		t.Fatalf("got %v/%v, want failed/*UnexpectedOutputError", out.Kind, out.Err)
	}
	if unexpected.Stderr != stderr {
		t.Errorf("Stderr = %q", unexpected.Stderr)
	}
}

func TestRunner_CommandOwnStderrIsNotToolOutput(t *testing.T) {
	r, _ := newTestRunner(func(string) spawnResult { return spawnResult{stderr: "warning: something\n"} })

	out := r.Attempt(context.Background(), "mytool", false, shell.Options{})
	if out.Kind != OutcomeSuccess {
		t.Errorf("Kind = %v, want success (err %v)", out.Kind, out.Err)
	}
}

func TestRunner_CommandFailurePassesThrough(t *testing.T) {
	exit2 := exitError(t, 2)
	r, _ := newTestRunner(func(string) spawnResult {
		return spawnResult{stdout: "partial", stderr: "ls: cannot access 'x'\n", err: exit2}
	})

	out := r.Attempt(context.Background(), "ls x", false, shell.Options{})
	var cmdErr *CommandError
	if !errors.As(out.Err, &cmdErr) {
		t.Fatalf("err = %v, want *CommandError", out.Err)
	}
	if cmdErr.ExitCode != 2 || cmdErr.Stdout != "partial" || cmdErr.Stderr != "ls: cannot access 'x'\n" {
		t.Errorf("CommandError = %+v", cmdErr)
	}
	if out.Stdout != "partial" {
		t.Errorf("Stdout = %q", out.Stdout)
	}
}

func TestRunner_CustomClassifier(t *testing.T) {
	exit1 := exitError(t, 1)
	c, err := NewClassifier("", `(?m)^sudo: Ein Passwort ist notwendig`)
	if err != nil {
		t.Fatal(err)
	}
	sp := &fakeSpawner{respond: func(string) spawnResult {
		return spawnResult{stderr: "sudo: Ein Passwort ist notwendig\n", err: exit1}
	}}
	r := &Runner{Spawner: sp, Classifier: c}

	out := r.Attempt(context.Background(), "id -u", false, shell.Options{})
	if out.Kind != OutcomeAuthRequired {
		t.Errorf("Kind = %v, want auth_required", out.Kind)
	}
	if calls := sp.Calls(); len(calls) != 1 || calls[0] != `"/usr/bin/sudo" -n id -u` {
		t.Errorf("empty SudoPath should fall back to default, calls = %q", calls)
	}
}

func TestClassifier(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		stderr     string
		auth, tool bool
	}{
		{"sudo: a password is required\n", true, true},
		{"sudo: a terminal is required to read the password\n", true, true},
		{"sudo: no tty present and no askpass program specified\n", true, true},
		{"Sudo: Password required\n", true, false},
		{"sudo: unable to resolve host x\n", false, true},
		{"hello sudo: a password is required\n", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := c.AuthRequired(tt.stderr); got != tt.auth {
			t.Errorf("AuthRequired(%q) = %v, want %v", tt.stderr, got, tt.auth)
		}
		if got := c.ToolDiagnostic(tt.stderr); got != tt.tool {
			t.Errorf("ToolDiagnostic(%q) = %v, want %v", tt.stderr, got, tt.tool)
		}
	}
}

func TestNewClassifier_InvalidPattern(t *testing.T) {
	if _, err := NewClassifier("(", ""); err == nil {
		t.Error("expected error for invalid tool pattern")
	}
	if _, err := NewClassifier("", "["); err == nil {
		t.Error("expected error for invalid auth pattern")
	}
}

func TestOutcomeKind_String(t *testing.T) {
	if got := OutcomeAuthRequired.String(); got != "auth_required" {
		t.Errorf("String() = %q", got)
	}
	if got := OutcomeKind(42).String(); got != "unknown" {
		t.Errorf("String() = %q", got)
	}
}

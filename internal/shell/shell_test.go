package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExec_CapturesStreams(t *testing.T) {
	stdout, stderr, err := Exec{}.Spawn(context.Background(), "echo hello; echo oops >&2", Options{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", stdout, "hello\n")
	}
	if stderr != "oops\n" {
		t.Errorf("stderr = %q, want %q", stderr, "oops\n")
	}
}

func TestExec_ExitStatus(t *testing.T) {
	_, _, err := Exec{}.Spawn(context.Background(), "exit 3", Options{})
	if err == nil {
		t.Fatal("expected error for exit 3")
	}
	if code := ExitCode(err); code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}
	if Outright(err) {
		t.Error("non-zero exit should not be an outright failure")
	}
}

func TestExec_ObserverSeesLiveProcess(t *testing.T) {
	var pid int
	_, _, err := Exec{}.Spawn(context.Background(), "true", Options{Observe: func(p *os.Process) {
		pid = p.Pid
	}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if pid <= 0 {
		t.Errorf("observer got pid %d", pid)
	}
}

func TestExec_KilledByObserver(t *testing.T) {
	_, _, err := Exec{}.Spawn(context.Background(), "sleep 10", Options{Observe: func(p *os.Process) {
		p.Kill()
	}})
	if err == nil {
		t.Fatal("expected error for killed process")
	}
	if !Outright(err) {
		t.Error("signal kill should be an outright failure")
	}
	if code := ExitCode(err); code != -1 {
		t.Errorf("ExitCode = %d, want -1", code)
	}
}

func TestExec_StartError(t *testing.T) {
	_, _, err := Exec{Shell: "/nonexistent/sh"}.Spawn(context.Background(), "true", Options{})
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if !Outright(err) {
		t.Error("start error should be an outright failure")
	}
}

func TestExec_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := Exec{}.Spawn(ctx, "sleep 10", Options{})
	if err == nil {
		t.Fatal("expected error after context deadline")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process was not killed on context cancel")
	}
}

func TestExitCode_Nil(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("ExitCode(nil) should be 0")
	}
	if Outright(nil) {
		t.Error("Outright(nil) should be false")
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", `"plain"`},
		{`a "b"`, `"a \"b\""`},
		{"$HOME", `"\$HOME"`},
		{"`id`", "\"\\`id\\`\""},
		{`back\slash`, `"back\\slash"`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuote_RoundTripThroughShell(t *testing.T) {
	in := `it's "quoted" $x`
	stdout, _, err := Exec{}.Spawn(context.Background(), "printf %s "+Quote(in), Options{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if stdout != in {
		t.Errorf("stdout = %q, want %q", stdout, in)
	}
}

func TestExec_Dir(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	stdout, _, err := Exec{}.Spawn(context.Background(), "pwd -P", Options{Dir: dir})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if strings.TrimSpace(stdout) != dir {
		t.Errorf("pwd = %q, want %q", strings.TrimSpace(stdout), dir)
	}
}

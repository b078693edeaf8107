package elevate

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/nikicat/sudo-prompt/internal/shell"
)

// spawnResult is what fakeSpawner returns for one command line.
type spawnResult struct {
	stdout, stderr string
	err            error
}

// fakeSpawner records command lines and answers them through respond.
type fakeSpawner struct {
	mu      sync.Mutex
	calls   []string
	opts    []shell.Options
	respond func(commandLine string) spawnResult
}

func (f *fakeSpawner) Spawn(ctx context.Context, commandLine string, opts shell.Options) (string, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, commandLine)
	f.opts = append(f.opts, opts)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return "", "", nil
	}
	r := respond(commandLine)
	return r.stdout, r.stderr, r.err
}

func (f *fakeSpawner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

// Dirs returns the working directory of every recorded spawn.
func (f *fakeSpawner) Dirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	dirs := make([]string, len(f.opts))
	for i, o := range f.opts {
		dirs[i] = o.Dir
	}
	return dirs
}

// CallsWith returns the recorded command lines containing substr.
func (f *fakeSpawner) CallsWith(substr string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// fakeDriver counts Authorize calls and optionally blocks until released.
type fakeDriver struct {
	mu       sync.Mutex
	sessions []Session
	result   error
	icon     bool
	started  chan struct{}
	release  chan struct{}
	onAuth   func()
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{started: make(chan struct{}, 16)}
}

func (d *fakeDriver) Platform() Platform { return PlatformFrontend }
func (d *fakeDriver) UsesIcon() bool     { return d.icon }

func (d *fakeDriver) Authorize(ctx context.Context, s Session) error {
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	onAuth := d.onAuth
	d.mu.Unlock()

	d.started <- struct{}{}
	if onAuth != nil {
		onAuth()
	}
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.result
}

func (d *fakeDriver) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// exitError returns a real *exec.ExitError with the given status.
func exitError(t *testing.T, code int) error {
	t.Helper()
	err := exec.Command("/bin/sh", "-c", "exit "+strconv.Itoa(code)).Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *exec.ExitError, got %v", err)
	}
	return err
}

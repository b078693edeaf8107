// Package elevate runs shell commands through sudo, showing at most one
// graphical authorization prompt per identity however many callers need
// it at the same time.
package elevate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nikicat/sudo-prompt/internal/identity"
	"github.com/nikicat/sudo-prompt/internal/procutil"
	"github.com/nikicat/sudo-prompt/internal/shell"
)

// DefaultHistoryLimit bounds Coordinator.History when Config leaves it zero.
const DefaultHistoryLimit = 100

// touchCommand is run by Touch only to refresh the sudo timestamp.
const touchCommand = "echo touchingsudotimestamp"

// Defaults fill in Options fields a caller leaves empty.
type Defaults struct {
	Name        string
	Icon        string
	MaxAttempts *int
}

// Config configures an Elevator.
type Config struct {
	// Runner defaults to NewRunner().
	Runner *Runner
	// Driver defaults to NewPlatformDriver(runtime.GOOS, ...).
	Driver Driver
	// Defaults apply to every Exec call. Defaults.Name must be valid.
	Defaults Defaults
	// ProcessTitle supplies the name of last resort.
	ProcessTitle func() string
	// PromptTimeout bounds each prompt; zero means no bound.
	PromptTimeout time.Duration
	HistoryLimit  int
}

// Result holds the elevated command's output.
type Result struct {
	Stdout string
	Stderr string
}

// Elevator executes commands with administrator privileges.
type Elevator struct {
	runner       *Runner
	coord        *Coordinator
	processTitle func() string
	defaults     atomic.Pointer[Defaults]
	inFlight     atomic.Int64
}

// New creates an Elevator. It fails if cfg.Defaults is invalid.
func New(cfg Config) (*Elevator, error) {
	runner := cfg.Runner
	if runner == nil {
		runner = NewRunner()
	}
	driver := cfg.Driver
	if driver == nil {
		driver = NewPlatformDriver(runtime.GOOS, DriverOptions{Spawner: runner.Spawner})
	}
	title := cfg.ProcessTitle
	if title == nil {
		title = procutil.ProcessTitle
	}
	limit := cfg.HistoryLimit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}

	e := &Elevator{
		runner:       runner,
		coord:        NewCoordinator(driver, cfg.PromptTimeout, limit),
		processTitle: title,
	}
	if err := e.SetDefaults(cfg.Defaults); err != nil {
		return nil, err
	}
	return e, nil
}

// SetDefaults replaces the defaults used by later Exec calls.
func (e *Elevator) SetDefaults(d Defaults) error {
	if d.Name != "" && !ValidName(d.Name) {
		return &ValidationError{Field: "name", Value: d.Name, Err: ErrInvalidName}
	}
	if d.Icon != "" && strings.TrimSpace(d.Icon) == "" {
		return &ValidationError{Field: "icon", Value: d.Icon, Err: ErrInvalidIcon}
	}
	if d.MaxAttempts != nil && *d.MaxAttempts < 0 {
		return &ValidationError{Field: "max_attempts", Value: fmt.Sprint(*d.MaxAttempts), Err: errors.New("must not be negative")}
	}
	e.defaults.Store(&d)
	return nil
}

// Coordinator returns the coordinator shared by all Exec calls.
func (e *Elevator) Coordinator() *Coordinator {
	return e.coord
}

// Platform returns the prompt mechanism in use.
func (e *Elevator) Platform() Platform {
	return e.coord.Driver().Platform()
}

// InFlight returns the number of Exec calls that have not returned yet.
func (e *Elevator) InFlight() int {
	return int(e.inFlight.Load())
}

// Prepare validates a call and resolves its defaults. No subprocess runs.
func (e *Elevator) Prepare(command string, opts Options) (*Request, error) {
	d := e.defaults.Load()

	name := opts.Name
	if name == "" {
		name = d.Name
	}
	if name == "" {
		name = opts.Title
		if name == "" {
			name = e.processTitle()
		}
		if !ValidName(name) {
			return nil, &ValidationError{Field: "name", Value: name, Err: ErrNameUnavailable}
		}
	}
	if !ValidName(name) {
		return nil, &ValidationError{Field: "name", Value: name, Err: ErrInvalidName}
	}

	icon := opts.Icon
	if icon == "" {
		icon = d.Icon
	}
	if icon != "" && strings.TrimSpace(icon) == "" {
		return nil, &ValidationError{Field: "icon", Value: icon, Err: ErrInvalidIcon}
	}

	if opts.Dir != "" && !filepath.IsAbs(opts.Dir) {
		return nil, &ValidationError{Field: "dir", Value: opts.Dir, Err: ErrRelativeDir}
	}
	if icon != "" && opts.Dir != "" && !filepath.IsAbs(icon) {
		icon = filepath.Join(opts.Dir, icon)
	}

	if startsWithTool(command, toolName) {
		return nil, &ValidationError{Field: "command", Value: command, Err: ErrAlreadyElevated}
	}

	maxAttempts := DefaultMaxAttempts
	switch {
	case opts.MaxAttempts != nil:
		maxAttempts = *opts.MaxAttempts
	case d.MaxAttempts != nil:
		maxAttempts = *d.MaxAttempts
	}
	if maxAttempts < 0 {
		return nil, &ValidationError{Field: "max_attempts", Value: fmt.Sprint(maxAttempts), Err: errors.New("must not be negative")}
	}

	return &Request{
		ID:           uuid.New().String(),
		Command:      command,
		Name:         name,
		Icon:         icon,
		MaxAttempts:  maxAttempts,
		Dir:          opts.Dir,
		OnSubprocess: opts.OnSubprocess,
	}, nil
}

// Exec runs command as root. It prompts the user when sudo has no valid
// timestamp, sharing the prompt with concurrent calls of the same name
// and icon.
func (e *Elevator) Exec(ctx context.Context, command string, opts Options) (Result, error) {
	req, err := e.Prepare(command, opts)
	if err != nil {
		return Result{}, err
	}
	return e.Run(ctx, req)
}

// ExecFunc is Exec with a callback. Validation errors are reported before
// ExecFunc returns; everything else is reported from a new goroutine.
func (e *Elevator) ExecFunc(command string, opts Options, cb func(err error, stdout, stderr string)) {
	req, err := e.Prepare(command, opts)
	if err != nil {
		cb(err, "", "")
		return
	}
	go func() {
		res, err := e.Run(context.Background(), req)
		cb(err, res.Stdout, res.Stderr)
	}()
}

// Touch refreshes the sudo timestamp, prompting if needed.
//
// Deprecated: use Exec with the command that needs elevation.
func (e *Elevator) Touch(ctx context.Context) error {
	_, err := e.Exec(ctx, touchCommand, Options{})
	return err
}

// Run executes a request returned by Prepare.
func (e *Elevator) Run(ctx context.Context, req *Request) (Result, error) {
	if e.Platform() == PlatformUnsupported {
		return Result{}, ErrPlatformUnsupported
	}

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	log := slog.With("request_id", req.ID, "name", req.Name)
	spawn := shell.Options{Dir: req.Dir, Observe: req.OnSubprocess}
	direct, _ := e.coord.Driver().(CommandDriver)
	var session *Session
	granted := false
	for n := 0; ; n++ {
		// After a granted prompt a driver that can run the command itself
		// gets the last word, so this attempt must not be final.
		final := n >= req.MaxAttempts && !(granted && direct != nil)
		out := e.runner.Attempt(ctx, req.Command, final, spawn)
		log.Debug("attempt classified", "attempt", n, "outcome", out.Kind)

		switch out.Kind {
		case OutcomeSuccess:
			return Result{Stdout: out.Stdout, Stderr: out.Stderr}, nil
		case OutcomeAuthRequired:
			if session == nil {
				s, err := e.session(req)
				if err != nil {
					return Result{}, err
				}
				session = &s
			}
			if granted && direct != nil {
				log.Info("timestamp not shared, running command through the prompt", "attempt", n)
				stdout, stderr, err := direct.RunCommand(ctx, *session, req.Command, spawn)
				return Result{Stdout: stdout, Stderr: stderr}, err
			}
			if err := e.coord.Authorize(ctx, *session); err != nil {
				log.Info("authorization failed", "attempt", n, "error", err)
				return Result{}, err
			}
			granted = true
		default:
			return Result{Stdout: out.Stdout, Stderr: out.Stderr}, out.Err
		}
	}
}

// session derives the prompt identity of req.
func (e *Elevator) session(req *Request) (Session, error) {
	var icon []byte
	if req.Icon != "" && e.coord.Driver().UsesIcon() {
		data, err := readFileFunc(req.Icon)
		if err != nil {
			return Session{}, fmt.Errorf("read icon: %w", err)
		}
		icon = data
	}
	return Session{
		Token:     identity.Compute(req.Name, icon),
		Name:      req.Name,
		Icon:      req.Icon,
		RequestID: req.ID,
		Observe:   req.OnSubprocess,
	}, nil
}

package elevate

import (
	"context"
	"log/slog"

	"github.com/nikicat/sudo-prompt/internal/shell"
)

// DefaultSudoPath is the elevation tool used by Runner.
const DefaultSudoPath = "/usr/bin/sudo"

// toolName is what a command must not start with.
const toolName = "sudo"

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeAuthRequired
	OutcomeFailed
	OutcomeRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthRequired:
		return "auth_required"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of one non-interactive attempt.
type Outcome struct {
	Kind   OutcomeKind
	Stdout string
	Stderr string
	// Err is set for OutcomeFailed and OutcomeRejected.
	Err error
}

// Runner attempts commands through sudo without ever prompting.
type Runner struct {
	Spawner    shell.Spawner
	SudoPath   string
	Classifier Classifier
}

// NewRunner returns a Runner using real processes and stock sudo.
func NewRunner() *Runner {
	return &Runner{
		Spawner:    shell.Exec{},
		SudoPath:   DefaultSudoPath,
		Classifier: DefaultClassifier(),
	}
}

// Attempt runs command once through "sudo -n". When final is set, an
// authorization-required diagnostic is reported as ErrPermissionDenied
// rather than OutcomeAuthRequired.
func (r *Runner) Attempt(ctx context.Context, command string, final bool, opts shell.Options) Outcome {
	if startsWithTool(command, toolName) {
		return Outcome{Kind: OutcomeRejected, Err: &ValidationError{Field: "command", Value: command, Err: ErrAlreadyElevated}}
	}

	sudo := r.SudoPath
	if sudo == "" {
		sudo = DefaultSudoPath
	}

	// -n makes sudo fail with a diagnostic instead of reading a password.
	stdout, stderr, err := r.Spawner.Spawn(ctx, shell.Quote(sudo)+" -n "+command, opts)
	slog.Debug("non-interactive attempt finished", "command", command, "exit_code", shell.ExitCode(err), "final", final)

	if r.Classifier.AuthRequired(stderr) && !shell.Outright(err) {
		if final {
			return Outcome{Kind: OutcomeFailed, Stdout: stdout, Stderr: stderr, Err: ErrPermissionDenied}
		}
		return Outcome{Kind: OutcomeAuthRequired, Stdout: stdout, Stderr: stderr}
	}

	if err == nil && r.Classifier.ToolDiagnostic(stderr) {
		return Outcome{Kind: OutcomeFailed, Stdout: stdout, Stderr: stderr, Err: &UnexpectedOutputError{Stderr: stderr}}
	}

	if err != nil {
		return Outcome{
			Kind:   OutcomeFailed,
			Stdout: stdout,
			Stderr: stderr,
			Err:    &CommandError{ExitCode: shell.ExitCode(err), Stdout: stdout, Stderr: stderr, Err: err},
		}
	}
	return Outcome{Kind: OutcomeSuccess, Stdout: stdout, Stderr: stderr}
}

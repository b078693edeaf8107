package elevate

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/nikicat/sudo-prompt/internal/shell"
)

// DefaultFrontends are probed in order. gksudo comes first because its
// prompt shows the description text.
var DefaultFrontends = []string{"/usr/bin/gksudo", "/usr/bin/pkexec", "/usr/bin/kdesudo"}

// DefaultRefreshCommand is what the front-end runs once the user authorizes.
const DefaultRefreshCommand = "/bin/true"

// pkexec exits 126 when the dialog is dismissed and 127 when not authorized.
const (
	pkexecDismissed     = 126
	pkexecNotAuthorized = 127
)

var frontendDeniedRe = regexp.MustCompile(`(?i)request dismissed|command failed|not authorized|dismissed by user`)

// FrontendDriver prompts through the first graphical sudo front-end found.
type FrontendDriver struct {
	Spawner        shell.Spawner
	Candidates     []string
	RefreshCommand string
}

// Platform implements Driver.
func (d *FrontendDriver) Platform() Platform { return PlatformFrontend }

// UsesIcon implements Driver. None of the front-ends accept an icon.
func (d *FrontendDriver) UsesIcon() bool { return false }

// Find returns the first candidate that exists.
func (d *FrontendDriver) Find() (string, error) {
	candidates := d.Candidates
	if len(candidates) == 0 {
		candidates = DefaultFrontends
	}
	for _, path := range candidates {
		_, err := statFunc(path)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			continue
		}
		return "", err
	}
	return "", ErrNoFrontend
}

// commandLine builds the front-end invocation running command for s.
func (d *FrontendDriver) commandLine(binary, command string, s Session) string {
	parts := []string{shell.Quote(binary)}
	switch base := filepath.Base(binary); {
	case strings.Contains(base, "gksudo"):
		parts = append(parts, "--preserve-env", "--sudo-mode", "--description="+shell.Quote(s.Name))
	case strings.Contains(base, "pkexec"):
		// The text-mode agent would compete with the graphical one.
		parts = append(parts, "--disable-internal-agent")
	case strings.Contains(base, "kdesudo"):
		parts = append(parts, "--comment", shell.Quote(s.Name))
	}
	return strings.Join(append(parts, command), " ")
}

// run prompts through the front-end and runs command as root once the
// user authorizes.
func (d *FrontendDriver) run(ctx context.Context, s Session, command string, opts shell.Options) (string, string, error) {
	binary, err := d.Find()
	if err != nil {
		return "", "", err
	}
	slog.Debug("prompting through front-end", "frontend", binary, "token", s.Token)

	stdout, stderr, err := d.Spawner.Spawn(ctx, d.commandLine(binary, command, s), opts)
	if err == nil {
		return stdout, stderr, nil
	}
	if frontendDeniedRe.MatchString(stderr) {
		return stdout, stderr, ErrPermissionDenied
	}
	if strings.Contains(filepath.Base(binary), "pkexec") {
		if code := shell.ExitCode(err); code == pkexecDismissed || code == pkexecNotAuthorized {
			return stdout, stderr, ErrPermissionDenied
		}
	}
	return stdout, stderr, &CommandError{ExitCode: shell.ExitCode(err), Stdout: stdout, Stderr: stderr, Err: err}
}

// Authorize implements Driver by running the refresh command.
func (d *FrontendDriver) Authorize(ctx context.Context, s Session) error {
	refresh := d.RefreshCommand
	if refresh == "" {
		refresh = DefaultRefreshCommand
	}
	_, _, err := d.run(ctx, s, refresh, shell.Options{Observe: s.Observe})
	return err
}

// RunCommand implements CommandDriver. The front-ends authorize their own
// child only, so with tty-bound sudo timestamps this is the only way the
// command runs after the user said yes.
func (d *FrontendDriver) RunCommand(ctx context.Context, s Session, command string, opts shell.Options) (string, string, error) {
	return d.run(ctx, s, command, opts)
}

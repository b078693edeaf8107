package elevate

import (
	"context"

	"github.com/nikicat/sudo-prompt/internal/identity"
	"github.com/nikicat/sudo-prompt/internal/shell"
)

// Platform identifies which prompt mechanism a Driver uses.
type Platform int

const (
	PlatformUnsupported Platform = iota
	// PlatformFrontend runs a graphical sudo front-end (gksudo, pkexec, kdesudo).
	PlatformFrontend
	// PlatformApplet opens a throwaway macOS application bundle.
	PlatformApplet
)

func (p Platform) String() string {
	switch p {
	case PlatformFrontend:
		return "frontend"
	case PlatformApplet:
		return "applet"
	default:
		return "unsupported"
	}
}

// Session describes one authorization prompt.
type Session struct {
	Token identity.Token
	Name  string
	Icon  string
	// RequestID is the request that started the prompt.
	RequestID string
	// Observe receives the prompt's subprocess, if any.
	Observe shell.Observer
}

// Driver runs an interactive authorization flow that, on success, extends
// the user's sudo timestamp.
type Driver interface {
	Platform() Platform
	// UsesIcon reports whether the icon contents affect the prompt and
	// therefore the session identity.
	UsesIcon() bool
	Authorize(ctx context.Context, s Session) error
}

// CommandDriver is implemented by drivers that can run a command under
// their own authorization. The elevator falls back to it when a granted
// prompt did not refresh the timestamp that sudo -n checks, which is the
// case with tty-bound timestamps.
type CommandDriver interface {
	Driver
	RunCommand(ctx context.Context, s Session, command string, opts shell.Options) (stdout, stderr string, err error)
}

// DriverOptions configures NewPlatformDriver.
type DriverOptions struct {
	Spawner shell.Spawner
	// Frontends overrides DefaultFrontends.
	Frontends []string
	// RefreshCommand overrides DefaultRefreshCommand.
	RefreshCommand string
}

// NewPlatformDriver returns the driver for goos (a runtime.GOOS value).
func NewPlatformDriver(goos string, opts DriverOptions) Driver {
	spawner := opts.Spawner
	if spawner == nil {
		spawner = shell.Exec{}
	}
	switch goos {
	case "linux":
		return &FrontendDriver{
			Spawner:        spawner,
			Candidates:     opts.Frontends,
			RefreshCommand: opts.RefreshCommand,
		}
	case "darwin":
		return &AppletDriver{Spawner: spawner}
	default:
		return unsupportedDriver{}
	}
}

type unsupportedDriver struct{}

func (unsupportedDriver) Platform() Platform { return PlatformUnsupported }
func (unsupportedDriver) UsesIcon() bool     { return false }

func (unsupportedDriver) Authorize(context.Context, Session) error {
	return ErrPlatformUnsupported
}

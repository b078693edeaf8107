// Package service manages the systemd user service for sudo-prompt.
package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nikicat/sudo-prompt/internal/config"
	"github.com/nikicat/sudo-prompt/internal/elevate"
)

const unitFileName = "sudo-prompt.service"

const unitTemplate = `[Unit]
Description=sudo-prompt - graphical sudo authorization daemon
Documentation=https://github.com/nikicat/sudo-prompt
PartOf=graphical-session.target
After=graphical-session.target

[Service]
Type=notify
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=graphical-session.target
`

const configTemplate = `# sudo-prompt configuration. Request defaults are reloaded while serving.
# name: My Tool
# icon: /path/to/icon.icns
max_attempts: %d
serve:
  log_level: %s
  log_format: %s
  history_limit: %d
  # prompt_timeout: 5m
`

// Options configures service installation.
type Options struct {
	// ConfigPath, if set, adds --config <path> to ExecStart.
	ConfigPath string
	// Start the service immediately after enabling.
	Start bool
	// Out receives progress messages. Defaults to os.Stdout.
	Out io.Writer
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// unitDir returns the systemd user unit directory.
// Uses $XDG_CONFIG_HOME/systemd/user/ with fallback to ~/.config/systemd/user/.
func unitDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "systemd", "user"), nil
}

// UnitPath returns the full path where the unit file is (or would be) installed.
func UnitPath() (string, error) {
	dir, err := unitDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, unitFileName), nil
}

// Install writes the systemd user unit file and a starter config if none
// exists, reloads systemd, and enables the service.
func Install(opts Options) error {
	out := opts.out()

	self, err := executableFunc()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	if configPath == "" {
		return errors.New("cannot determine config path")
	}
	created, err := writeDefaultConfig(configPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Wrote config: %s\n", configPath)
	}

	execStart := self + " serve --config " + configPath
	unitContent := fmt.Sprintf(unitTemplate, execStart)

	dir, err := unitDir()
	if err != nil {
		return err
	}
	unitPath := filepath.Join(dir, unitFileName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	if err := os.WriteFile(unitPath, []byte(unitContent), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	fmt.Fprintf(out, "Wrote unit file: %s\n", unitPath)

	if err := systemctlFunc("daemon-reload"); err != nil {
		return err
	}

	if err := systemctlFunc("enable", unitFileName); err != nil {
		return err
	}
	fmt.Fprintf(out, "Enabled %s\n", unitFileName)

	if opts.Start {
		if err := systemctlFunc("start", unitFileName); err != nil {
			return err
		}
		fmt.Fprintf(out, "Started %s\n", unitFileName)
	}

	return nil
}

// writeDefaultConfig creates a starter config at path unless one exists.
func writeDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	content := fmt.Sprintf(configTemplate, elevate.DefaultMaxAttempts,
		config.DefaultLogLevel, config.DefaultLogFormat, config.DefaultHistoryLimit)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}

// Uninstall stops and disables the service, removes the unit file, and reloads systemd.
// The config file is left in place.
func Uninstall(out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}

	// Stop first (ignore error - may not be running).
	_ = systemctlFunc("stop", unitFileName)

	if err := systemctlFunc("disable", unitFileName); err != nil {
		return err
	}
	fmt.Fprintf(out, "Disabled %s\n", unitFileName)

	dir, err := unitDir()
	if err != nil {
		return err
	}
	unitPath := filepath.Join(dir, unitFileName)

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	fmt.Fprintf(out, "Removed %s\n", unitPath)

	return systemctlFunc("daemon-reload")
}

// Status runs systemctl --user status for the service, printing output directly.
func Status() error {
	// systemctl status exits non-zero when inactive - not an error for us.
	_ = systemctlFunc("status", unitFileName)
	return nil
}

// executableFunc resolves the running binary. Replaced in tests.
var executableFunc = func() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(self)
}

// systemctlFunc is the function used to run systemctl commands.
// Replaced in tests to avoid requiring a real systemd.
var systemctlFunc = systemctlExec

func systemctlExec(args ...string) error {
	fullArgs := append([]string{"--user"}, args...)
	cmd := exec.Command("systemctl", fullArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", args[0], err)
	}
	return nil
}

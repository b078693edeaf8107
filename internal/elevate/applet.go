package elevate

import (
	"archive/zip"
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nikicat/sudo-prompt/internal/shell"
)

// appletZip is an AppleScript application whose main script runs a
// harmless "do shell script ... with administrator privileges" against the
// sudo timestamp directory. The archive holds the bundle's Contents tree.
//
//go:embed assets/applet.zip
var appletZip []byte

// Errors specific to the applet driver.
var (
	ErrNoTempDir = errors.New("requires a temporary directory to be defined")
	ErrNoUser    = errors.New("requires env['USER'] to be defined")
)

const bundleNameSuffix = " Password Prompt"

var appletCanceledRe = regexp.MustCompile(`(?i)user canceled|\(-128\)`)

// AppletDriver prompts by building and opening a one-shot application
// bundle named after the session, so the system dialog shows that name.
type AppletDriver struct {
	Spawner shell.Spawner
}

// Platform implements Driver.
func (d *AppletDriver) Platform() Platform { return PlatformApplet }

// UsesIcon implements Driver.
func (d *AppletDriver) UsesIcon() bool { return true }

type appletStep struct {
	name string
	run  func(ctx context.Context, target string, s Session) error
}

// Authorize implements Driver. The per-session directory is removed on
// every path; a removal failure is returned even if the prompt succeeded.
func (d *AppletDriver) Authorize(ctx context.Context, s Session) (err error) {
	temp := tempDirFunc()
	if temp == "" {
		return ErrNoTempDir
	}
	if userNameFunc() == "" {
		return ErrNoUser
	}

	sessionDir := filepath.Join(temp, string(s.Token))
	target := filepath.Join(sessionDir, s.Name+".app")

	defer func() {
		if rmErr := removeAllFunc(sessionDir); rmErr != nil && err == nil {
			err = fmt.Errorf("remove %s: %w", sessionDir, rmErr)
		}
	}()

	steps := []appletStep{
		{"create session dir", d.makeSessionDir},
		{"extract applet", d.extract},
		{"set icon", d.setIcon},
		{"set bundle name", d.setBundleName},
		{"open applet", d.open},
	}
	for _, step := range steps {
		slog.Debug("applet step", "step", step.name, "token", s.Token)
		if err := step.run(ctx, target, s); err != nil {
			return err
		}
	}
	return nil
}

func (d *AppletDriver) makeSessionDir(_ context.Context, target string, _ Session) error {
	if err := mkdirFunc(filepath.Dir(target), 0o700); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create session dir: %w", err)
	}
	return nil
}

// extract unpacks the embedded applet into target, overwriting any
// existing files.
func (d *AppletDriver) extract(_ context.Context, target string, _ Session) error {
	zr, err := zip.NewReader(bytes.NewReader(appletZip), int64(len(appletZip)))
	if err != nil {
		return fmt.Errorf("open applet archive: %w", err)
	}
	for _, f := range zr.File {
		path := filepath.Join(target, f.Name)
		if !strings.HasPrefix(path, filepath.Clean(target)+string(os.PathSeparator)) {
			return fmt.Errorf("applet archive entry escapes target: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := mkdirAllFunc(path, 0o755); err != nil {
				return fmt.Errorf("extract applet: %w", err)
			}
			continue
		}
		if err := mkdirAllFunc(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("extract applet: %w", err)
		}
		data, err := readZipFile(f)
		if err != nil {
			return fmt.Errorf("extract applet %s: %w", f.Name, err)
		}
		if err := writeFileFunc(path, data, f.Mode().Perm()); err != nil {
			return fmt.Errorf("extract applet: %w", err)
		}
	}
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (d *AppletDriver) setIcon(_ context.Context, target string, s Session) error {
	if s.Icon == "" {
		return nil
	}
	dst := filepath.Join(target, "Contents", "Resources", "applet.icns")
	if err := copyFileFunc(s.Icon, dst); err != nil {
		return fmt.Errorf("copy icon: %w", err)
	}
	return nil
}

// setBundleName sets CFBundleName, which is the name the system dialog shows.
func (d *AppletDriver) setBundleName(ctx context.Context, target string, s Session) error {
	value := s.Name + bundleNameSuffix
	// defaults(1) wants the value in single quotes.
	if strings.Contains(value, "'") {
		return errors.New("bundle name should not contain single quotes")
	}
	plist := filepath.Join(target, "Contents", "Info.plist")
	cmd := "defaults write " + shell.Quote(plist) + ` "CFBundleName" '` + value + `'`
	if _, stderr, err := d.Spawner.Spawn(ctx, cmd, shell.Options{}); err != nil {
		return &CommandError{ExitCode: shell.ExitCode(err), Stderr: stderr, Err: err}
	}
	return nil
}

// open runs the applet and waits for it to exit.
func (d *AppletDriver) open(ctx context.Context, target string, s Session) error {
	stdout, stderr, err := d.Spawner.Spawn(ctx, "open -n -W "+shell.Quote(filepath.Clean(target)), shell.Options{Observe: s.Observe})
	if err == nil {
		return nil
	}
	if appletCanceledRe.MatchString(stderr) {
		return ErrPermissionDenied
	}
	return &CommandError{ExitCode: shell.ExitCode(err), Stdout: stdout, Stderr: stderr, Err: err}
}

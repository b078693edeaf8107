package elevate

import (
	"os"
	"regexp"
	"strings"
)

// MaxNameLen bounds display names so "<name>.app" stays under filesystem
// component limits whatever the Unicode normalization form.
const MaxNameLen = 70

// DefaultMaxAttempts allows one prompt before giving up.
const DefaultMaxAttempts = 1

var validNameRe = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)

// ValidName reports whether s can be used as a prompt display name.
func ValidName(s string) bool {
	return validNameRe.MatchString(s) && strings.TrimSpace(s) != "" && len(s) < MaxNameLen
}

// Options are the per-call settings of Exec.
type Options struct {
	// Name is shown in the prompt. Falls back to Defaults.Name, then to
	// Title, then to the process title.
	Name string
	// Title stands in for the process title, e.g. the program on whose
	// behalf a daemon runs the command.
	Title string
	// Icon is a path to an .icns file used by the applet driver.
	Icon string
	// MaxAttempts is the number of interactive prompts allowed before the
	// call fails with ErrPermissionDenied. Nil means DefaultMaxAttempts;
	// zero never prompts.
	MaxAttempts *int
	// Dir is the absolute working directory of the command. Empty means
	// the current directory. A relative Icon is resolved against it.
	Dir string
	// OnSubprocess is called with every subprocess spawned for this call.
	OnSubprocess func(*os.Process)
}

// Request is a validated Exec call.
type Request struct {
	ID           string
	Command      string
	Name         string
	Icon         string
	MaxAttempts  int
	Dir          string
	OnSubprocess func(*os.Process)
}

// startsWithTool reports whether command already invokes tool.
func startsWithTool(command, tool string) bool {
	c := strings.TrimLeft(command, " \t")
	return len(c) >= len(tool) && strings.EqualFold(c[:len(tool)], tool)
}

// Attempts returns a pointer to n for Options.MaxAttempts.
func Attempts(n int) *int { return &n }

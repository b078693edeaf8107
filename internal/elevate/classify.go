package elevate

import (
	"fmt"
	"regexp"
)

// Default diagnostic patterns for sudo. Both depend on sudo's version and
// locale, so they can be replaced through Config.Classifier.
const (
	DefaultToolPattern = `(?m)^sudo: `
	DefaultAuthPattern = `(?mi)^sudo: .*(password|terminal|tty|askpass|authenticat)`
)

// Classifier recognizes elevation tool diagnostics on stderr.
type Classifier struct {
	// Tool matches any line written by the elevation tool itself.
	Tool *regexp.Regexp
	// Auth matches the diagnostics meaning interactive authorization is
	// needed.
	Auth *regexp.Regexp
}

// DefaultClassifier returns the classifier for stock sudo.
func DefaultClassifier() Classifier {
	return Classifier{
		Tool: regexp.MustCompile(DefaultToolPattern),
		Auth: regexp.MustCompile(DefaultAuthPattern),
	}
}

// NewClassifier compiles the given patterns, using the defaults for empty
// ones.
func NewClassifier(toolPattern, authPattern string) (Classifier, error) {
	c := DefaultClassifier()
	if toolPattern != "" {
		re, err := regexp.Compile(toolPattern)
		if err != nil {
			return Classifier{}, fmt.Errorf("compile tool pattern: %w", err)
		}
		c.Tool = re
	}
	if authPattern != "" {
		re, err := regexp.Compile(authPattern)
		if err != nil {
			return Classifier{}, fmt.Errorf("compile auth pattern: %w", err)
		}
		c.Auth = re
	}
	return c, nil
}

// AuthRequired reports whether stderr asks for interactive authorization.
func (c Classifier) AuthRequired(stderr string) bool {
	return c.Auth != nil && c.Auth.MatchString(stderr)
}

// ToolDiagnostic reports whether stderr carries any elevation tool message.
func (c Classifier) ToolDiagnostic(stderr string) bool {
	return c.Tool != nil && c.Tool.MatchString(stderr)
}

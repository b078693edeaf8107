// Package identity derives the deduplication key shared by concurrent
// authorization requests that should be satisfied by a single prompt.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Version is mixed into every token. Bump it whenever the prompt artifact
// changes incompatibly so stale temp directories are never reused.
const Version = "sudo-prompt 2.0.0"

// tokenLen is short enough to be used as a path component.
const tokenLen = 32

// Token identifies one authorization session.
type Token string

// Compute returns the token for a display name and the icon contents.
// A nil icon is equivalent to an empty one.
func Compute(name string, icon []byte) Token {
	h := sha256.New()
	h.Write([]byte(Version))
	h.Write([]byte(name))
	h.Write(icon)
	sum := hex.EncodeToString(h.Sum(nil))
	return Token(sum[len(sum)-tokenLen:])
}

// String implements fmt.Stringer.
func (t Token) String() string {
	return string(t)
}

// Package api serves the sudo-prompt daemon API on a Unix socket.
package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	cookieFileName = ".cookie"
	cookieSize     = 32
)

// Auth guards the API with a per-start random token that only the
// session user can read from the state directory.
type Auth struct {
	token    string
	filePath string
}

// NewAuth generates a fresh token and publishes it in stateDir. The file
// is replaced atomically so a client never reads a partial token.
func NewAuth(stateDir string) (*Auth, error) {
	raw := make([]byte, cookieSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(stateDir, cookieFileName+".*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	filePath := filepath.Join(stateDir, cookieFileName)
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return nil, err
	}
	return &Auth{token: token, filePath: filePath}, nil
}

// LoadAuth reads the token a running daemon published in stateDir.
func LoadAuth(stateDir string) (*Auth, error) {
	filePath := filepath.Join(stateDir, cookieFileName)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil, errors.New("empty cookie file")
	}
	return &Auth{token: token, filePath: filePath}, nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("unauthorized")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return "", errors.New("invalid Authorization header format")
	}
	return token, nil
}

// Middleware rejects requests without the daemon's token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			writeError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Token returns the token clients must present.
func (a *Auth) Token() string {
	return a.token
}

// FilePath returns the path of the published token.
func (a *Auth) FilePath() string {
	return a.filePath
}

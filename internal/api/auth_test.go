package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewAuth_WritesPrivateCookie(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "state", "sudo-prompt")

	auth, err := NewAuth(stateDir)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if auth.FilePath() != filepath.Join(stateDir, cookieFileName) {
		t.Errorf("FilePath = %s", auth.FilePath())
	}

	info, err := os.Stat(auth.FilePath())
	if err != nil {
		t.Fatalf("cookie file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("cookie mode = %o, want 600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(auth.FilePath())
	if string(data) != auth.Token() || len(data) != 2*cookieSize {
		t.Errorf("cookie = %q, want the %d-char token", data, 2*cookieSize)
	}
}

func TestNewAuth_RotatesTokenOnRestart(t *testing.T) {
	stateDir := t.TempDir()
	first, err := NewAuth(stateDir)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	second, err := NewAuth(stateDir)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if first.Token() == second.Token() {
		t.Error("a restarted daemon reused the previous token")
	}

	loaded, err := LoadAuth(stateDir)
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if loaded.Token() != second.Token() {
		t.Error("LoadAuth did not return the latest token")
	}
}

func TestAuth_Middleware(t *testing.T) {
	auth, err := NewAuth(t.TempDir())
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + auth.Token(), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer deadbeef", http.StatusUnauthorized},
		{"no scheme", auth.Token(), http.StatusUnauthorized},
		{"basic scheme", "Basic " + auth.Token(), http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"no space", "Bearer" + auth.Token(), http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reached := false
			h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/exec", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
			if reached != (tc.want == http.StatusOK) {
				t.Errorf("handler reached = %v", reached)
			}
		})
	}
}

func TestLoadAuth_Errors(t *testing.T) {
	if _, err := LoadAuth(t.TempDir()); !os.IsNotExist(err) {
		t.Errorf("missing cookie: err = %v, want not-exist", err)
	}

	stateDir := t.TempDir()
	os.WriteFile(filepath.Join(stateDir, cookieFileName), []byte("  \n"), 0o600)
	if _, err := LoadAuth(stateDir); err == nil {
		t.Error("blank cookie: expected error")
	}
}

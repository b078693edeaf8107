package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// shortSocketPath keeps the socket under the sun_path limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sp")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "run", "api.sock")
}

func unixClient(socketPath string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

func TestServer_Integration(t *testing.T) {
	tempDir := t.TempDir()

	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	socketPath := shortSocketPath(t)
	server, err := NewServer(socketPath, testElevator(t, &testDriver{}), auth)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Shutdown(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected socket mode 0600, got %o", perm)
	}

	const baseURL = "http://sudo-prompt"
	client := unixClient(socketPath)

	t.Run("no auth returns 401", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/api/v1/status")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("valid auth works", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/v1/status", nil)
		req.Header.Set("Authorization", "Bearer "+auth.Token())

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
		}

		var status StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !status.Running {
			t.Error("expected running=true")
		}
	})

	t.Run("exec over socket", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/v1/exec", strings.NewReader(`{"command": "echo over socket", "name": "Socket Test"}`))
		req.Header.Set("Authorization", "Bearer "+auth.Token())

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var out ExecResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if out.Error != "" || out.Stdout != "over socket\n" {
			t.Errorf("unexpected response %+v", out)
		}
	})

	t.Run("websocket requires auth", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, _, err := websocket.Dial(ctx, "ws://sudo-prompt/api/v1/ws", &websocket.DialOptions{HTTPClient: client})
		if err == nil {
			t.Error("expected connection to fail without auth")
		}

		conn, _, err := websocket.Dial(ctx, "ws://sudo-prompt/api/v1/ws", &websocket.DialOptions{
			HTTPClient: client,
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + auth.Token()}},
		})
		if err != nil {
			t.Fatalf("dial with auth: %v", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		if msg := readWS(t, ctx, conn); msg.Type != "snapshot" {
			t.Errorf("expected snapshot, got %s", msg.Type)
		}
	})

	t.Run("unknown route returns 404", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/v1/nope", nil)
		req.Header.Set("Authorization", "Bearer "+auth.Token())

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	auth, err := NewAuth(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	socketPath := shortSocketPath(t)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	server, err := NewServer(socketPath, testElevator(t, &testDriver{}), auth)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	server.Start()

	if server.SocketPath() != socketPath {
		t.Errorf("expected socket path %q, got %q", socketPath, server.SocketPath())
	}
	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("expected socket removed, stat err = %v", err)
	}
}

func TestServer_CookieFilePath(t *testing.T) {
	tempDir := t.TempDir()

	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	server, err := NewServer(shortSocketPath(t), testElevator(t, &testDriver{}), auth)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Shutdown(context.Background())

	expected := filepath.Join(tempDir, ".cookie")
	if server.CookieFilePath() != expected {
		t.Errorf("expected %q, got %q", expected, server.CookieFilePath())
	}
}

func TestSameUser(t *testing.T) {
	// Without a Unix connection in the context the request passes.
	called := false
	h := sameUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(discardWriter{}, req)
	if !called {
		t.Error("expected handler to be called")
	}
	if describePeer(req.Context()) != "" {
		t.Error("expected empty peer description")
	}
	if peerInvoker(req.Context()) != "" {
		t.Error("expected empty peer invoker")
	}
}

type discardWriter struct{}

func (discardWriter) Header() http.Header         { return http.Header{} }
func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
func (discardWriter) WriteHeader(int)             {}

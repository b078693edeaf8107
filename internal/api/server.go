package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nikicat/sudo-prompt/internal/elevate"
)

// Server is the HTTP API server listening on a Unix socket.
type Server struct {
	httpServer *http.Server
	auth       *Auth
	handlers   *Handlers
	wsHandler  *WSHandler
	listener   net.Listener
	socketPath string
}

// NewServer creates the API server and binds socketPath. A stale socket
// left by a previous run is removed.
func NewServer(socketPath string, elevator *elevate.Elevator, auth *Auth) (*Server, error) {
	handlers := NewHandlers(elevator)
	wsHandler := NewWSHandler(elevator.Coordinator())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", handlers.HandleStatus)
	mux.HandleFunc("/api/v1/exec", handlers.HandleExec)
	mux.HandleFunc("/api/v1/pending", handlers.HandlePendingList)
	mux.HandleFunc("/api/v1/log", handlers.HandleLog)
	mux.HandleFunc("/api/v1/ws", wsHandler.HandleWS)

	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	// Create listener first to catch address-in-use errors early
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	httpServer := &http.Server{
		Handler:     sameUser(auth.Middleware(mux)),
		ConnContext: connContext,
	}

	return &Server{
		httpServer: httpServer,
		auth:       auth,
		handlers:   handlers,
		wsHandler:  wsHandler,
		listener:   listener,
		socketPath: socketPath,
	}, nil
}

// Start begins serving HTTP requests. This is non-blocking.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// SocketPath returns the path of the listening socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Shutdown gracefully shuts down the server and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHandler.CloseAll()
	err := s.httpServer.Shutdown(ctx)
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

// CookieFilePath returns the path to the authentication cookie file.
func (s *Server) CookieFilePath() string {
	return s.auth.FilePath()
}

// WSHandler returns the WebSocket handler.
func (s *Server) WSHandler() *WSHandler {
	return s.wsHandler
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nikicat/sudo-prompt/internal/elevate"
	"github.com/nikicat/sudo-prompt/internal/identity"
)

// maxExecBody bounds POST /api/v1/exec request bodies.
const maxExecBody = 64 << 10

// Handlers provides HTTP handlers for the REST API.
type Handlers struct {
	elevator *elevate.Elevator
}

// NewHandlers creates new API handlers.
func NewHandlers(elevator *elevate.Elevator) *Handlers {
	return &Handlers{elevator: elevator}
}

// HandleStatus handles GET /api/v1/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, StatusResponse{
		Running:        true,
		Version:        identity.Version,
		Platform:       h.elevator.Platform().String(),
		PendingPrompts: h.elevator.Coordinator().PendingCount(),
		InFlight:       h.elevator.InFlight(),
	})
}

// HandleExec handles POST /api/v1/exec. It blocks until the command has
// run, prompting the desktop user if needed.
func (h *Handlers) HandleExec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ExecRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecBody)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		writeError(w, "command is required", http.StatusBadRequest)
		return
	}

	title := req.Title
	if title == "" {
		title = peerInvoker(r.Context())
	}
	prepared, err := h.elevator.Prepare(req.Command, elevate.Options{
		Name:        req.Name,
		Icon:        req.Icon,
		MaxAttempts: req.MaxAttempts,
		Title:       title,
		Dir:         req.Dir,
	})
	if err != nil {
		writeJSON(w, execResponse("", elevate.Result{}, err))
		return
	}

	slog.Info("exec requested", "request_id", prepared.ID, "name", prepared.Name, "dir", req.Dir, "peer", describePeer(r.Context()))
	res, err := h.elevator.Run(r.Context(), prepared)
	if err != nil {
		slog.Info("exec failed", "request_id", prepared.ID, "error", err)
	}
	writeJSON(w, execResponse(prepared.ID, res, err))
}

// HandlePendingList handles GET /api/v1/pending.
func (h *Handlers) HandlePendingList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, PendingListResponse{Prompts: h.elevator.Coordinator().Pending()})
}

// HandleLog handles GET /api/v1/log.
func (h *Handlers) HandleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, LogResponse{Entries: h.elevator.Coordinator().History()})
}

func execResponse(id string, res elevate.Result, err error) ExecResponse {
	resp := ExecResponse{ID: id, Stdout: res.Stdout, Stderr: res.Stderr}
	if err == nil {
		code := 0
		resp.ExitCode = &code
		return resp
	}
	resp.Error = err.Error()
	resp.Kind = ErrorKind(err)

	var cmdErr *elevate.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode >= 0 {
		code := cmdErr.ExitCode
		resp.ExitCode = &code
	}
	return resp
}

// ErrorKind classifies an Exec error for API clients.
func ErrorKind(err error) string {
	var (
		validationErr *elevate.ValidationError
		unexpectedErr *elevate.UnexpectedOutputError
		cmdErr        *elevate.CommandError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.Is(err, elevate.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, elevate.ErrPlatformUnsupported):
		return KindPlatformUnsupported
	case errors.Is(err, elevate.ErrNoFrontend):
		return KindNoFrontend
	case errors.Is(err, elevate.ErrPromptTimeout):
		return KindPromptTimeout
	case errors.As(err, &unexpectedErr):
		return KindUnexpectedOutput
	case errors.As(err, &cmdErr):
		return KindCommandFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

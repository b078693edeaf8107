package api

import (
	"github.com/nikicat/sudo-prompt/internal/elevate"
)

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Running        bool   `json:"running"`
	Version        string `json:"version"`
	Platform       string `json:"platform"`
	PendingPrompts int    `json:"pending_prompts"`
	InFlight       int    `json:"in_flight"`
}

// ExecRequest is the body of POST /api/v1/exec.
type ExecRequest struct {
	Command     string `json:"command"`
	Name        string `json:"name,omitempty"`
	Icon        string `json:"icon,omitempty"`
	MaxAttempts *int   `json:"max_attempts,omitempty"`
	// Title is the caller's program name, used when no name is given.
	// Defaults to the invoker of the peer process.
	Title string `json:"title,omitempty"`
	// Dir is the caller's absolute working directory. Without it the
	// command runs in the daemon's.
	Dir string `json:"dir,omitempty"`
}

// ExecResponse is returned by POST /api/v1/exec. Elevation and command
// failures are reported here with status 200.
type ExecResponse struct {
	ID       string `json:"id,omitempty"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// PendingListResponse is returned by GET /api/v1/pending.
type PendingListResponse struct {
	Prompts []elevate.PromptInfo `json:"prompts"`
}

// LogResponse is returned by GET /api/v1/log.
type LogResponse struct {
	Entries []elevate.PromptRecord `json:"entries"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error kinds reported in ExecResponse.Kind.
const (
	KindValidation          = "validation"
	KindPermissionDenied    = "permission_denied"
	KindPlatformUnsupported = "platform_unsupported"
	KindNoFrontend          = "no_frontend"
	KindPromptTimeout       = "prompt_timeout"
	KindUnexpectedOutput    = "unexpected_output"
	KindCommandFailed       = "command_failed"
	KindCanceled            = "canceled"
	KindInternal            = "internal"
)

// Package cli provides a client for the sudo-prompt daemon API.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// baseURL is a placeholder host; every request is dialed on the socket.
const baseURL = "http://sudo-prompt"

// Client communicates with the sudo-prompt API over its Unix socket.
type Client struct {
	token string
	// httpClient bounds short queries; execClient has no timeout since
	// exec waits for the user.
	httpClient *http.Client
	execClient *http.Client
}

// NewClient creates a new API client for the daemon listening on socketPath.
func NewClient(socketPath, token string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		token: token,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		execClient: &http.Client{Transport: transport},
	}
}

// Status is the daemon status.
type Status struct {
	Running        bool   `json:"running"`
	Version        string `json:"version"`
	Platform       string `json:"platform"`
	PendingPrompts int    `json:"pending_prompts"`
	InFlight       int    `json:"in_flight"`
}

// Prompt is an in-flight authorization prompt.
type Prompt struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	RequestID string    `json:"request_id"`
	Waiters   int       `json:"waiters"`
	StartedAt time.Time `json:"started_at"`
}

// HistoryEntry is a finished prompt.
type HistoryEntry struct {
	Prompt     Prompt    `json:"prompt"`
	Resolution string    `json:"resolution"`
	Error      string    `json:"error,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ExecRequest asks the daemon to run a command elevated.
type ExecRequest struct {
	Command     string `json:"command"`
	Name        string `json:"name,omitempty"`
	Icon        string `json:"icon,omitempty"`
	MaxAttempts *int   `json:"max_attempts,omitempty"`
	Title       string `json:"title,omitempty"`
	Dir         string `json:"dir,omitempty"`
}

// ExecResponse carries the command output or the reason it did not run.
type ExecResponse struct {
	ID       string `json:"id,omitempty"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// Event is a message from the watch stream.
type Event struct {
	Type    string   `json:"type"`
	Prompts []Prompt `json:"prompts"`
	Prompt  *Prompt  `json:"prompt,omitempty"`
	Result  string   `json:"result,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PendingResponse is the response from the pending endpoint.
type PendingResponse struct {
	Prompts []Prompt `json:"prompts"`
}

// HistoryResponse is the response from the log endpoint.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// ErrorResponse is an error response from the API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Status returns the daemon status.
func (c *Client) Status() (*Status, error) {
	var result Status
	if err := c.getJSON("/api/v1/status", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Pending returns the in-flight prompts.
func (c *Client) Pending() ([]Prompt, error) {
	var result PendingResponse
	if err := c.getJSON("/api/v1/pending", &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// History returns finished prompts, newest first.
func (c *Client) History() ([]HistoryEntry, error) {
	var result HistoryResponse
	if err := c.getJSON("/api/v1/log", &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// Exec runs a command through the daemon and waits for it to finish.
// Elevation and command failures are reported in the response, not as an
// error.
func (c *Client) Exec(ctx context.Context, req ExecRequest) (*ExecResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/exec", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.execClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result ExecResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Watch streams prompt events to fn until ctx is done or the daemon closes
// the connection. The first event is always a snapshot.
func (c *Client) Watch(ctx context.Context, fn func(Event)) error {
	conn, _, err := websocket.Dial(ctx, "ws://sudo-prompt/api/v1/ws", &websocket.DialOptions{
		HTTPClient: c.execClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(ev)
	}
}

// Reachable reports whether the daemon answers on its socket.
func (c *Client) Reachable() bool {
	_, err := c.Status()
	var netErr *net.OpError
	return err == nil || !errors.As(err, &netErr)
}

func (c *Client) getJSON(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("%s", errResp.Error)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}

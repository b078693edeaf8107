// Package notification shows desktop notifications while an authorization
// prompt is pending and when one fails.
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nikicat/sudo-prompt/internal/elevate"
	"github.com/nikicat/sudo-prompt/internal/identity"
)

const (
	notifyDest      = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// Notifier defines the interface for sending desktop notifications.
type Notifier interface {
	// Notify sends a notification and returns its ID.
	// The actions parameter takes alternating (id, label) pairs per the FreeDesktop spec.
	Notify(summary, body, icon string, actions []string) (uint32, error)
	// Close closes a notification by ID.
	Close(id uint32) error
}

// Action represents a user interaction with a notification button.
type Action struct {
	NotificationID uint32
	ActionKey      string // "default" or "dismiss"
}

// DBusNotifier sends notifications via D-Bus and listens for action button clicks.
// It automatically reconnects if the session bus connection drops.
type DBusNotifier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	signals chan *dbus.Signal
	actions chan Action
	done    chan struct{}
}

// NewDBusNotifier creates a notifier using a private session bus connection and
// starts listening for ActionInvoked signals.
func NewDBusNotifier() (*DBusNotifier, error) {
	n := &DBusNotifier{
		signals: make(chan *dbus.Signal, 16),
		actions: make(chan Action, 16),
		done:    make(chan struct{}),
	}

	if err := n.connect(); err != nil {
		return nil, err
	}

	go n.processSignals(n.signals)

	return n, nil
}

// connect establishes a private session bus connection and subscribes to
// ActionInvoked signals. Must be called with n.mu held (or during construction).
func (n *DBusNotifier) connect() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(notifyInterface),
		dbus.WithMatchMember("ActionInvoked"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe to ActionInvoked: %w", err)
	}

	conn.Signal(n.signals)
	n.conn = conn
	return nil
}

// reconnect closes the dead connection and establishes a new one.
// It creates a fresh signals channel and restarts the processSignals goroutine
// (the old one exits when godbus closes its channel via Terminate).
// Must be called with n.mu held.
func (n *DBusNotifier) reconnect() error {
	if n.conn != nil {
		n.conn.Close()
	}
	n.signals = make(chan *dbus.Signal, 16)
	if err := n.connect(); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	go n.processSignals(n.signals)
	slog.Info("reconnected to D-Bus session bus")
	return nil
}

// Actions returns a channel that receives action button clicks.
func (n *DBusNotifier) Actions() <-chan Action {
	return n.actions
}

// Stop stops the signal listener goroutine and closes the D-Bus connection.
func (n *DBusNotifier) Stop() {
	close(n.done)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *DBusNotifier) processSignals(ch <-chan *dbus.Signal) {
	for {
		select {
		case <-n.done:
			return
		case sig, ok := <-ch:
			if !ok {
				return // channel closed (connection died)
			}
			if sig.Name != notifyInterface+".ActionInvoked" {
				continue
			}
			if len(sig.Body) != 2 {
				continue
			}
			id, ok1 := sig.Body[0].(uint32)
			key, ok2 := sig.Body[1].(string)
			if !ok1 || !ok2 {
				continue
			}
			select {
			case n.actions <- Action{NotificationID: id, ActionKey: key}:
			case <-n.done:
				return
			}
		}
	}
}

// Notify sends a desktop notification with optional action buttons.
// If the D-Bus connection is dead, it reconnects and retries once.
func (n *DBusNotifier) Notify(summary, body, icon string, actions []string) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id, err := n.doNotify(summary, body, icon, actions)
	if err != nil && errors.Is(err, dbus.ErrClosed) {
		if reconnErr := n.reconnect(); reconnErr != nil {
			return 0, fmt.Errorf("notify call: %w (reconnect failed: %v)", err, reconnErr)
		}
		id, err = n.doNotify(summary, body, icon, actions)
	}
	return id, err
}

func (n *DBusNotifier) doNotify(summary, body, icon string, actions []string) (uint32, error) {
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(
		notifyInterface+".Notify",
		0,
		"sudo-prompt",        // app_name
		uint32(0),            // replaces_id (0 = new notification)
		icon,                 // app_icon
		summary,              // summary
		body,                 // body
		actions,              // actions (alternating id, label pairs)
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(1)), // normal
		},
		int32(-1), // expire_timeout (-1 = server default)
	)
	if call.Err != nil {
		return 0, fmt.Errorf("notify call: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("store notify result: %w", err)
	}
	return id, nil
}

// Close closes a notification by ID.
// If the D-Bus connection is dead, it reconnects and retries once.
func (n *DBusNotifier) Close(id uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.doClose(id)
	if err != nil && errors.Is(err, dbus.ErrClosed) {
		if reconnErr := n.reconnect(); reconnErr != nil {
			return fmt.Errorf("close notification: %w (reconnect failed: %v)", err, reconnErr)
		}
		err = n.doClose(id)
	}
	return err
}

func (n *DBusNotifier) doClose(id uint32) error {
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(notifyInterface+".CloseNotification", 0, id)
	if call.Err != nil {
		return fmt.Errorf("close notification: %w", call.Err)
	}
	return nil
}

// Handler receives prompt events and shows desktop notifications. A
// notification stays open while its prompt is pending; failures get a
// follow-up notification.
//
// Events arrive on separate goroutines, so a prompt's resolution may be
// handled before its start.
type Handler struct {
	notifier Notifier

	mu      sync.Mutex
	prompts map[promptKey]*promptNotification
	ids     map[uint32]promptKey // notification ID -> prompt (reverse)
}

// promptKey identifies one prompt; a token is reused by later prompts.
type promptKey struct {
	token     identity.Token
	startedAt time.Time
}

type promptNotification struct {
	id       uint32 // zero when not shown or already dismissed
	sending  bool   // Notify call in progress
	resolved bool
}

func keyOf(p elevate.PromptInfo) promptKey {
	return promptKey{token: p.Token, startedAt: p.StartedAt}
}

// NewHandler creates a notification handler.
func NewHandler(notifier Notifier) *Handler {
	return &Handler{
		notifier: notifier,
		prompts:  make(map[promptKey]*promptNotification),
		ids:      make(map[uint32]promptKey),
	}
}

// ListenActions reads from the actions channel and forgets notifications
// the user dismissed. It blocks until the channel is closed or ctx is
// cancelled.
func (h *Handler) ListenActions(ctx context.Context, actions <-chan Action) {
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-actions:
			if !ok {
				return
			}
			h.handleAction(action)
		}
	}
}

func (h *Handler) handleAction(action Action) {
	h.mu.Lock()
	key, ok := h.ids[action.NotificationID]
	if ok {
		// Clicking an action already dismisses the notification, so the
		// resolution must not try to close it again.
		delete(h.ids, action.NotificationID)
		if n := h.prompts[key]; n != nil {
			n.id = 0
		}
	}
	h.mu.Unlock()

	if ok {
		slog.Debug("notification dismissed", "action", action.ActionKey, "token", key.token)
	}
}

// OnEvent implements elevate.Observer.
func (h *Handler) OnEvent(event elevate.Event) {
	switch event.Type {
	case elevate.EventPromptStarted:
		h.handleStarted(event.Prompt)
	case elevate.EventPromptGranted, elevate.EventPromptDenied:
		h.handleResolved(event.Prompt)
	case elevate.EventPromptFailed:
		h.handleResolved(event.Prompt)
		h.handleFailed(event.Prompt, event.Err)
	}
}

func (h *Handler) handleStarted(p elevate.PromptInfo) {
	key := keyOf(p)

	h.mu.Lock()
	n, ok := h.prompts[key]
	if ok && n.resolved {
		delete(h.prompts, key)
		h.mu.Unlock()
		return
	}
	if !ok {
		n = &promptNotification{}
		h.prompts[key] = n
	}
	n.sending = true
	h.mu.Unlock()

	body := fmt.Sprintf("<b>%s</b> is waiting for your password", html.EscapeString(p.Name))
	actions := []string{"default", "", "dismiss", "Dismiss"}
	id, err := h.notifier.Notify("Authorization required", body, "dialog-password", actions)

	h.mu.Lock()
	n.sending = false
	if err != nil {
		if n.resolved {
			delete(h.prompts, key)
		}
		h.mu.Unlock()
		slog.Error("failed to send notification", "error", err, "token", p.Token)
		return
	}
	if n.resolved {
		delete(h.prompts, key)
		h.mu.Unlock()
		h.close(key, id)
		return
	}
	n.id = id
	h.ids[id] = key
	h.mu.Unlock()

	slog.Debug("sent desktop notification", "token", p.Token, "notification_id", id)
}

func (h *Handler) handleResolved(p elevate.PromptInfo) {
	key := keyOf(p)

	h.mu.Lock()
	n, ok := h.prompts[key]
	switch {
	case !ok:
		h.prompts[key] = &promptNotification{resolved: true}
		h.mu.Unlock()
		return
	case n.sending:
		n.resolved = true
		h.mu.Unlock()
		return
	}
	delete(h.prompts, key)
	if n.id != 0 {
		delete(h.ids, n.id)
	}
	h.mu.Unlock()

	if n.id != 0 {
		h.close(key, n.id)
	}
}

func (h *Handler) close(key promptKey, notifID uint32) {
	if err := h.notifier.Close(notifID); err != nil {
		slog.Debug("failed to close notification", "error", err, "notification_id", notifID)
		return
	}
	slog.Debug("closed desktop notification", "token", key.token, "notification_id", notifID)
}

func (h *Handler) handleFailed(p elevate.PromptInfo, promptErr error) {
	summary := "Authorization failed"
	if errors.Is(promptErr, elevate.ErrPromptTimeout) {
		summary = "Authorization timed out"
	}
	body := fmt.Sprintf("<b>%s</b>", html.EscapeString(p.Name))
	if promptErr != nil {
		body += ": " + html.EscapeString(promptErr.Error())
	}
	if p.Waiters > 1 {
		body += fmt.Sprintf("\n%d requests were waiting", p.Waiters)
	}

	if _, err := h.notifier.Notify(summary, body, "dialog-error", nil); err != nil {
		slog.Error("failed to send failure notification", "error", err, "token", p.Token)
	}
}

package elevate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nikicat/sudo-prompt/internal/identity"
)

// EventType represents the type of prompt event.
type EventType int

const (
	EventPromptStarted EventType = iota
	EventPromptJoined
	EventPromptGranted
	EventPromptDenied
	EventPromptFailed
)

func (t EventType) String() string {
	switch t {
	case EventPromptStarted:
		return "prompt_started"
	case EventPromptJoined:
		return "prompt_joined"
	case EventPromptGranted:
		return "prompt_granted"
	case EventPromptDenied:
		return "prompt_denied"
	case EventPromptFailed:
		return "prompt_failed"
	default:
		return "unknown"
	}
}

// Event represents a prompt event for observers.
type Event struct {
	Type   EventType
	Prompt PromptInfo
	// Err is set for EventPromptDenied and EventPromptFailed.
	Err error
}

// Observer receives notifications about prompt events.
type Observer interface {
	OnEvent(Event)
}

// PromptInfo is a snapshot of an in-flight prompt.
type PromptInfo struct {
	Token     identity.Token `json:"token"`
	Name      string         `json:"name"`
	RequestID string         `json:"request_id"`
	Waiters   int            `json:"waiters"`
	StartedAt time.Time      `json:"started_at"`
}

// Resolution represents how a prompt ended.
type Resolution string

const (
	ResolutionGranted  Resolution = "granted"
	ResolutionDenied   Resolution = "denied"
	ResolutionTimedOut Resolution = "timed_out"
	ResolutionFailed   Resolution = "failed"
)

// PromptRecord is a finished prompt.
type PromptRecord struct {
	Prompt     PromptInfo `json:"prompt"`
	Resolution Resolution `json:"resolution"`
	Error      string     `json:"error,omitempty"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

type pendingPrompt struct {
	session   Session
	waiters   []func(error)
	startedAt time.Time
}

func (p *pendingPrompt) info() PromptInfo {
	return PromptInfo{
		Token:     p.session.Token,
		Name:      p.session.Name,
		RequestID: p.session.RequestID,
		Waiters:   len(p.waiters),
		StartedAt: p.startedAt,
	}
}

// Coordinator runs at most one prompt per identity token and hands its
// result to every caller that needed it.
type Coordinator struct {
	driver  Driver
	timeout time.Duration

	mu      sync.Mutex
	pending map[identity.Token]*pendingPrompt

	observersMu sync.RWMutex
	observers   map[Observer]struct{}

	historyMu  sync.RWMutex
	history    []PromptRecord
	historyMax int
}

// NewCoordinator creates a coordinator prompting through driver. A zero
// timeout lets the prompt run until the driver returns.
func NewCoordinator(driver Driver, timeout time.Duration, historyMax int) *Coordinator {
	return &Coordinator{
		driver:     driver,
		timeout:    timeout,
		pending:    make(map[identity.Token]*pendingPrompt),
		observers:  make(map[Observer]struct{}),
		historyMax: historyMax,
	}
}

// Driver returns the driver prompts run through.
func (c *Coordinator) Driver() Driver {
	return c.driver
}

// Subscribe registers an observer to receive prompt events.
func (c *Coordinator) Subscribe(o Observer) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.observers[o] = struct{}{}
}

// Unsubscribe removes an observer from receiving prompt events.
func (c *Coordinator) Unsubscribe(o Observer) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	delete(c.observers, o)
}

// notify sends an event to all observers asynchronously.
func (c *Coordinator) notify(event Event) {
	c.observersMu.RLock()
	defer c.observersMu.RUnlock()
	for o := range c.observers {
		go o.OnEvent(event)
	}
}

// attach registers resume for s.Token and reports whether the caller
// became the leader. The lookup and registration happen under one lock.
func (c *Coordinator) attach(s Session, resume func(error)) (leader bool, info PromptInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[s.Token]; ok {
		p.waiters = append(p.waiters, resume)
		return false, p.info()
	}
	p := &pendingPrompt{
		session:   s,
		waiters:   []func(error){resume},
		startedAt: time.Now(),
	}
	c.pending[s.Token] = p
	return true, p.info()
}

// Join adds resume as a waiter on the prompt for s.Token. If no prompt is
// pending, Join starts one and runs it on the calling goroutine; resume
// and every waiter that joins meanwhile are called, in the order they
// joined, once it finishes. Otherwise Join returns immediately.
func (c *Coordinator) Join(ctx context.Context, s Session, resume func(error)) {
	leader, info := c.attach(s, resume)
	if !leader {
		slog.Debug("joined pending prompt", "token", s.Token, "request_id", s.RequestID, "waiters", info.Waiters)
		c.notify(Event{Type: EventPromptJoined, Prompt: info})
		return
	}
	c.lead(ctx, s, info)
}

// Authorize blocks until the prompt for s.Token finishes or ctx ends. A
// caller that gives up early is still resumed later; the result is dropped.
func (c *Coordinator) Authorize(ctx context.Context, s Session) error {
	done := make(chan error, 1)
	go c.Join(ctx, s, func(err error) { done <- err })

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lead runs the prompt and resumes the waiters.
func (c *Coordinator) lead(ctx context.Context, s Session, info PromptInfo) {
	slog.Info("prompt started", "token", s.Token, "name", s.Name, "request_id", s.RequestID)
	c.notify(Event{Type: EventPromptStarted, Prompt: info})

	// One waiter giving up must not abort the prompt the others share.
	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, c.timeout)
	}
	err := c.runDriver(runCtx, s)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = ErrPromptTimeout
	}
	cancel()

	c.mu.Lock()
	p := c.pending[s.Token]
	delete(c.pending, s.Token)
	c.mu.Unlock()

	final := p.info()
	c.finish(final, err)

	for _, resume := range p.waiters {
		resume(err)
	}
}

// runDriver turns a driver panic into an error so the pending entry is
// always cleared and every waiter resumed.
func (c *Coordinator) runDriver(ctx context.Context, s Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("prompt driver panicked", "token", s.Token, "panic", r)
			err = fmt.Errorf("prompt driver panicked: %v", r)
		}
	}()
	return c.driver.Authorize(ctx, s)
}

// finish logs, records and broadcasts the result of a prompt.
func (c *Coordinator) finish(info PromptInfo, err error) {
	record := PromptRecord{Prompt: info, ResolvedAt: time.Now()}
	event := Event{Prompt: info, Err: err}
	switch {
	case err == nil:
		record.Resolution = ResolutionGranted
		event.Type = EventPromptGranted
	case errors.Is(err, ErrPermissionDenied):
		record.Resolution = ResolutionDenied
		event.Type = EventPromptDenied
	case errors.Is(err, ErrPromptTimeout):
		record.Resolution = ResolutionTimedOut
		event.Type = EventPromptFailed
	default:
		record.Resolution = ResolutionFailed
		event.Type = EventPromptFailed
	}
	if err != nil {
		record.Error = err.Error()
	}

	slog.Info("prompt finished", "token", info.Token, "resolution", record.Resolution,
		"waiters", info.Waiters, "duration", record.ResolvedAt.Sub(info.StartedAt), "error", err)

	c.addHistory(record)
	c.notify(event)
}

func (c *Coordinator) addHistory(record PromptRecord) {
	if c.historyMax <= 0 {
		return
	}
	c.historyMu.Lock()
	defer c.historyMu.Unlock()

	// Prepend to slice (newest first)
	c.history = append([]PromptRecord{record}, c.history...)
	if len(c.history) > c.historyMax {
		c.history = c.history[:c.historyMax]
	}
}

// History returns a copy of the finished prompts, newest first.
func (c *Coordinator) History() []PromptRecord {
	c.historyMu.RLock()
	defer c.historyMu.RUnlock()
	return append([]PromptRecord{}, c.history...)
}

// Pending returns a snapshot of the in-flight prompts.
func (c *Coordinator) Pending() []PromptInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]PromptInfo, 0, len(c.pending))
	for _, p := range c.pending {
		result = append(result, p.info())
	}
	return result
}

// PendingCount returns the number of in-flight prompts.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

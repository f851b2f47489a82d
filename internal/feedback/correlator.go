// Package feedback matches ask-human tool prompts with out-of-band answers.
// The correlator is an injected instance with an explicit lifecycle; a session
// constructs one and closes it on shutdown.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrTimeout   = errors.New("feedback: request timed out")
	ErrCancelled = errors.New("feedback: request cancelled")
	ErrClosed    = errors.New("feedback: correlator closed")
	ErrDuplicate = errors.New("feedback: request id already pending")
)

// Response is what a settled request resolves to.
type Response struct {
	Answer         string
	ChoiceIndex    int // -1 for free-form answers
	IsCustomAnswer bool
	Timestamp      time.Time
	ResponseTime   time.Duration
}

// Outcome is the single value delivered for a pending request: either a
// response or a timeout/cancellation error, never both.
type Outcome struct {
	Response Response
	Err      error
}

type pendingRequest struct {
	done      chan Outcome
	timer     *time.Timer
	startedAt time.Time
}

// Correlator keys pending human-input requests by request id and guarantees
// exactly-once settlement: the registry entry is removed under the lock before
// anything is delivered, so a racing answer and timeout cannot both win.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*pendingRequest)}
}

// CreatePending registers a request and arms its timeout. The returned channel
// delivers exactly one Outcome. Creation happens when a UI has actually
// rendered the prompt, not when the ask-human tool ran.
func (c *Correlator) CreatePending(requestID string, timeout time.Duration) (<-chan Outcome, error) {
	if requestID == "" {
		return nil, errors.New("feedback: request id is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("feedback: invalid timeout %v", timeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, exists := c.pending[requestID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, requestID)
	}

	req := &pendingRequest{
		done:      make(chan Outcome, 1),
		startedAt: time.Now(),
	}
	req.timer = time.AfterFunc(timeout, func() {
		c.settle(requestID, Outcome{Err: fmt.Errorf("%w after %v: %s", ErrTimeout, timeout, requestID)})
	})
	c.pending[requestID] = req
	return req.done, nil
}

// HandleUserResponse resolves a pending request. Unknown ids (late or
// duplicate answers) are a no-op and return false.
func (c *Correlator) HandleUserResponse(requestID, answer string, choiceIndex int, isCustomAnswer bool) bool {
	now := time.Now()

	c.mu.Lock()
	req, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, requestID)
	req.timer.Stop()
	c.mu.Unlock()

	req.done <- Outcome{Response: Response{
		Answer:         answer,
		ChoiceIndex:    choiceIndex,
		IsCustomAnswer: isCustomAnswer,
		Timestamp:      now,
		ResponseTime:   now.Sub(req.startedAt),
	}}
	return true
}

// Cancel rejects a pending request. Returns false when the id is not pending.
func (c *Correlator) Cancel(requestID string) bool {
	return c.settle(requestID, Outcome{Err: fmt.Errorf("%w: %s", ErrCancelled, requestID)})
}

// Await is a convenience wrapper: create the pending entry and block until it
// settles or ctx is done. A ctx cancellation counts as a request cancellation.
func (c *Correlator) Await(ctx context.Context, requestID string, timeout time.Duration) (Response, error) {
	done, err := c.CreatePending(requestID, timeout)
	if err != nil {
		return Response{}, err
	}
	select {
	case out := <-done:
		return out.Response, out.Err
	case <-ctx.Done():
		c.Cancel(requestID)
		return Response{}, fmt.Errorf("%w: %s", ErrCancelled, requestID)
	}
}

// PendingCount reports the number of unsettled requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels every pending request and rejects future creations.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	drained := make(map[string]*pendingRequest, len(c.pending))
	for id, req := range c.pending {
		drained[id] = req
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for id, req := range drained {
		req.timer.Stop()
		req.done <- Outcome{Err: fmt.Errorf("%w: %s", ErrClosed, id)}
	}
}

// settle removes the entry under the lock, then delivers. The buffered channel
// makes delivery non-blocking for whichever event arrives first.
func (c *Correlator) settle(requestID string, out Outcome) bool {
	c.mu.Lock()
	req, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, requestID)
	req.timer.Stop()
	c.mu.Unlock()

	req.done <- out
	return true
}

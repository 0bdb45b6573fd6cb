package turn

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrHandleNil       = errors.New("turn handle is nil")
	ErrOrchestratorNil = errors.New("orchestrator is nil")
	ErrClosed          = errors.New("orchestrator is closed")
	// ErrCancelled is reported by Wait when the turn was cancelled at a stage
	// boundary.
	ErrCancelled = errors.New("turn cancelled")
)

// Result is what a completed turn produced. Fields stay empty for stages
// that never ran.
type Result struct {
	TurnID       string        `json:"turn_id"`
	UserText     string        `json:"user_text,omitempty"`
	Reply        string        `json:"reply,omitempty"`
	ClipDuration time.Duration `json:"clip_duration,omitempty"`
	AudioBytes   int           `json:"audio_bytes,omitempty"`
}

// Handle represents one in-flight turn. It is cancelable and waitable.
type Handle struct {
	TurnID string

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	result *Result
	err    error
}

func newHandle(turnID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		TurnID: turnID,
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (h *Handle) setResult(r *Result, err error) {
	h.mu.Lock()
	h.result = r
	h.err = err
	cancel := h.cancel
	h.cancel = nil
	close(h.done)
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancel asks the turn to stop at the next stage boundary. A remote call or
// playback already underway runs to completion. Safe to call more than once.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the turn is back to idle. A failed turn returns the stage
// error that aborted it, after the apology has been spoken.
func (h *Handle) Wait() (*Result, error) {
	if h == nil {
		return nil, ErrHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

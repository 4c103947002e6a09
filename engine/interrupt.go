package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/windrose/conductor/core"
)

// InterruptController is the cooperative cancel-token-plus-channel
// mechanism spec §9 prescribes in place of the source's coroutine-based
// interrupt primitive: a per-thread escape flag the executor polls at
// fixed suspension points, and a one-slot Command channel that Resume
// fills and WaitResume drains. The engine loop does not block on that
// channel: Run returns once a thread suspends, and Engine.Resume
// continues from the saved state.
type InterruptController struct {
	mu      sync.Mutex
	threads map[string]*threadInterrupt
}

type threadInterrupt struct {
	escape   atomic.Bool
	resumeCh chan Command
}

// NewInterruptController builds an empty controller.
func NewInterruptController() *InterruptController {
	return &InterruptController{threads: make(map[string]*threadInterrupt)}
}

func (c *InterruptController) threadLocked(threadID string) *threadInterrupt {
	t, ok := c.threads[threadID]
	if !ok {
		t = &threadInterrupt{resumeCh: make(chan Command, 1)}
		c.threads[threadID] = t
	}
	return t
}

// RaiseUserEscape sets the priority interrupt flag for a thread. The
// executor observes it at the top of its per-step protocol (spec §4.8
// step 1) and takes priority over any concurrently pending human_input
// interrupt.
func (c *InterruptController) RaiseUserEscape(threadID string) {
	c.mu.Lock()
	t := c.threadLocked(threadID)
	c.mu.Unlock()
	t.escape.Store(true)
}

// CheckAndClearEscape reports whether a user escape is pending for
// threadID, clearing the flag so a single escape triggers exactly one
// suspension.
func (c *InterruptController) CheckAndClearEscape(threadID string) bool {
	c.mu.Lock()
	t := c.threadLocked(threadID)
	c.mu.Unlock()
	return t.escape.CompareAndSwap(true, false)
}

// WaitResume blocks until a Command arrives for threadID or ctx is
// cancelled. The engine loop does not call it.
func (c *InterruptController) WaitResume(ctx context.Context, threadID string) (Command, error) {
	c.mu.Lock()
	t := c.threadLocked(threadID)
	c.mu.Unlock()

	select {
	case cmd := <-t.resumeCh:
		return cmd, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// Resume delivers a Command to a suspended thread. Returns
// core.ErrThreadNotFound if the thread isn't currently registered —
// callers should only resume a thread that has actually suspended.
func (c *InterruptController) Resume(threadID string, cmd Command) error {
	c.mu.Lock()
	t, ok := c.threads[threadID]
	c.mu.Unlock()
	if !ok {
		return core.NewError("engine.resume", core.KindInvalidRequest, core.ErrThreadNotFound)
	}
	select {
	case t.resumeCh <- cmd:
		return nil
	default:
		return core.NewError("engine.resume", core.KindConflict, core.ErrAlreadyStarted)
	}
}

// Forget releases a thread's interrupt state, called when the workflow
// terminates.
func (c *InterruptController) Forget(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.threads, threadID)
}

// Package autosave schedules debounced report saves. A burst of field edits
// collapses into one write after a quiet period; switching the record under
// edit (another day, another principal) discards any pending save outright so
// a stale timer can never fire against the wrong (principal, day key).
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kepsekreport/internal/report"
)

// Status is the controller's user-visible save state.
type Status int

const (
	Idle Status = iota
	Pending
	Saving
	Saved
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Saving:
		return "saving"
	case Saved:
		return "saved"
	case Error:
		return "error"
	}
	return "unknown"
}

// Config wires a controller to its collaborators.
type Config struct {
	// Debounce is the quiet period after the last edit before a save fires.
	Debounce time.Duration
	// SavedDisplay is how long the Saved state is shown before Idle.
	SavedDisplay time.Duration
	// SaveTimeout bounds a single backend write so a stalled save surfaces
	// as Error instead of hanging.
	SaveTimeout time.Duration
	// Snapshot returns the current field state. Re-read on every attempt,
	// including retries, so scores are always computed from live fields.
	Snapshot func() report.Draft
	// Save dispatches a built record; the callee owns write sequencing and
	// cache application.
	Save func(ctx context.Context, rec report.Record) error

	Logger *zap.Logger
}

// Controller is the autosave state machine. Safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	status   Status
	lastErr  error
	gen      uint64
	timer    *time.Timer
	cfg      Config
	log      *zap.Logger
	saveWait sync.WaitGroup
}

// New builds a controller; it starts Idle.
func New(cfg Config) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.SavedDisplay <= 0 {
		cfg.SavedDisplay = 3 * time.Second
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 15 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{cfg: cfg, log: log}
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the error behind the Error state, nil otherwise.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// FieldChanged notes an edit: the controller enters Pending and (re)starts
// the debounce timer, so only the trailing edit of a burst triggers a save.
func (c *Controller) FieldChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.status = Pending
	gen := c.gen
	c.timer = time.AfterFunc(c.cfg.Debounce, func() { c.fire(gen) })
}

// IdentityChanged discards any pending save because the record under edit is
// no longer the one the timer was scheduled for. The generation bump also
// invalidates a timer callback that already left the timer queue.
func (c *Controller) IdentityChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.status = Idle
	c.lastErr = nil
}

// fire runs when the debounce window elapses.
func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status != Pending {
		c.mu.Unlock()
		return
	}
	draft := c.cfg.Snapshot()
	if !draft.CanAutosave() {
		// Mid-entry; autosave is a no-op, not an error.
		c.status = Idle
		c.mu.Unlock()
		return
	}
	c.status = Saving
	c.mu.Unlock()

	c.saveWait.Add(1)
	go func() {
		defer c.saveWait.Done()
		c.attempt(gen, draft)
	}()
}

// attempt builds and dispatches one save, then records the outcome unless the
// identity changed while the write was in flight.
func (c *Controller) attempt(gen uint64, draft report.Draft) {
	rec, err := draft.BuildRecord()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SaveTimeout)
		err = c.cfg.Save(ctx, rec)
		cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if err != nil {
		c.log.Warn("autosave failed", zap.Error(err))
		if c.status == Saving {
			c.status = Error
		}
		c.lastErr = err
		return
	}
	// A new edit may already be Pending with its own timer; leave that
	// state alone and let the newer save run its course.
	if c.status == Saving {
		c.status = Saved
		c.lastErr = nil
		c.timer = time.AfterFunc(c.cfg.SavedDisplay, func() { c.settle(gen) })
	}
}

// settle drops Saved back to Idle after the display window.
func (c *Controller) settle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen && c.status == Saved {
		c.status = Idle
	}
}

// Submit bypasses the debounce and saves immediately. Unlike autosave the
// validation guard is surfaced: a draft missing required fields returns
// report.ErrValidation instead of silently skipping.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	draft := c.cfg.Snapshot()
	if err := draft.ValidateSubmit(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	gen := c.gen
	c.status = Saving
	c.mu.Unlock()

	return c.submit(ctx, gen, draft)
}

// Retry re-attempts after a failed save, recomputing scores from the current
// field state rather than replaying the failed payload.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.status != Error {
		c.mu.Unlock()
		return nil
	}
	draft := c.cfg.Snapshot()
	gen := c.gen
	c.status = Saving
	c.mu.Unlock()

	return c.submit(ctx, gen, draft)
}

func (c *Controller) submit(ctx context.Context, gen uint64, draft report.Draft) error {
	rec, err := draft.BuildRecord()
	if err == nil {
		saveCtx, cancel := context.WithTimeout(ctx, c.cfg.SaveTimeout)
		err = c.cfg.Save(saveCtx, rec)
		cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return err
	}
	if err != nil {
		if c.status == Saving {
			c.status = Error
		}
		c.lastErr = err
		return err
	}
	if c.status == Saving {
		c.status = Saved
		c.lastErr = nil
		c.timer = time.AfterFunc(c.cfg.SavedDisplay, func() { c.settle(gen) })
	}
	return nil
}

// Flush waits for in-flight debounced saves; test helper and shutdown hook.
func (c *Controller) Flush() {
	c.saveWait.Wait()
}

package autosave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kepsekreport/internal/autosave"
	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
	"kepsekreport/internal/report"
)

type saveRecorder struct {
	mu    sync.Mutex
	calls []report.Record
	fail  error
}

func (r *saveRecorder) save(_ context.Context, rec report.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.calls = append(r.calls, rec)
	return nil
}

func (r *saveRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *saveRecorder) last() report.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type draftHolder struct {
	mu    sync.Mutex
	draft report.Draft
}

func (h *draftHolder) snapshot() report.Draft {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draft
}

func (h *draftHolder) update(fn func(*report.Draft)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.draft)
}

func validDraft(day daykey.DayKey) report.Draft {
	return report.Draft{
		Principal:     "kepsek-1",
		DayKey:        day,
		PhotoURL:      option.Some("https://cdn/p.jpg"),
		ArrivalTime:   "07:00",
		DepartureTime: "16:00",
	}
}

func newController(h *draftHolder, rec *saveRecorder, debounce time.Duration) *autosave.Controller {
	return autosave.New(autosave.Config{
		Debounce:     debounce,
		SavedDisplay: 50 * time.Millisecond,
		SaveTimeout:  time.Second,
		Snapshot:     h.snapshot,
		Save:         rec.save,
	})
}

func waitStatus(t *testing.T, c *autosave.Controller, want autosave.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", c.Status(), want)
}

func TestDebouncedSaveFiresOnce(t *testing.T) {
	day := daykey.Today()
	h := &draftHolder{draft: validDraft(day)}
	rec := &saveRecorder{}
	c := newController(h, rec, 20*time.Millisecond)

	// A burst of edits within the window collapses to one save.
	for i := 0; i < 5; i++ {
		c.FieldChanged()
		time.Sleep(5 * time.Millisecond)
	}
	if c.Status() != autosave.Pending {
		t.Fatalf("status after edits = %v, want pending", c.Status())
	}

	waitStatus(t, c, autosave.Saved)
	c.Flush()
	if got := rec.count(); got != 1 {
		t.Fatalf("save fired %d times, want 1", got)
	}
	if rec.last().DayKey != day {
		t.Errorf("saved day %d, want %d", rec.last().DayKey, day)
	}
	waitStatus(t, c, autosave.Idle)
}

func TestDateSwitchCancelsPendingSave(t *testing.T) {
	d1 := daykey.Today()
	h := &draftHolder{draft: validDraft(d1)}
	rec := &saveRecorder{}
	c := newController(h, rec, 30*time.Millisecond)

	c.FieldChanged()

	// The kepsek navigates to another day before the window elapses.
	d2 := daykey.StartOfDay(d1.Time().AddDate(0, 0, -1))
	h.update(func(d *report.Draft) { *d = validDraft(d2) })
	c.IdentityChanged()

	time.Sleep(80 * time.Millisecond)
	c.Flush()
	if got := rec.count(); got != 0 {
		t.Fatalf("cancelled save still fired %d times", got)
	}
	if c.Status() != autosave.Idle {
		t.Errorf("status = %v, want idle", c.Status())
	}
}

func TestIncompleteDraftAutosaveIsNoOp(t *testing.T) {
	h := &draftHolder{draft: report.Draft{DayKey: daykey.Today(), ArrivalTime: "07:00"}}
	rec := &saveRecorder{}
	c := newController(h, rec, 15*time.Millisecond)

	c.FieldChanged()
	waitStatus(t, c, autosave.Idle)
	c.Flush()
	if rec.count() != 0 {
		t.Fatal("incomplete draft was saved")
	}
	if c.LastError() != nil {
		t.Errorf("no-op produced error %v", c.LastError())
	}
}

func TestSubmitValidatesAndBypassesDebounce(t *testing.T) {
	h := &draftHolder{draft: report.Draft{DayKey: daykey.Today()}}
	rec := &saveRecorder{}
	c := newController(h, rec, time.Hour)

	err := c.Submit(context.Background())
	if !errors.Is(err, report.ErrValidation) {
		t.Fatalf("empty submit err = %v, want ErrValidation", err)
	}
	if rec.count() != 0 {
		t.Fatal("invalid submit reached the backend")
	}

	h.update(func(d *report.Draft) { *d = validDraft(daykey.Today()) })
	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("save fired %d times, want 1", rec.count())
	}
	if c.Status() != autosave.Saved {
		t.Errorf("status = %v, want saved", c.Status())
	}
}

func TestRetryUsesCurrentFieldState(t *testing.T) {
	h := &draftHolder{draft: validDraft(daykey.Today())}
	rec := &saveRecorder{fail: errors.New("backend unavailable")}
	c := newController(h, rec, time.Hour)

	if err := c.Submit(context.Background()); err == nil {
		t.Fatal("expected submit failure")
	}
	if c.Status() != autosave.Error || c.LastError() == nil {
		t.Fatalf("status = %v err = %v, want error state", c.Status(), c.LastError())
	}

	// Fields change between failure and retry; the retried write must carry
	// freshly computed scores, not the failed payload.
	h.update(func(d *report.Draft) { d.ClassControlDone = true })
	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()

	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("retry fired %d saves, want 1", rec.count())
	}
	if got := rec.last().ClassControlScore; got != 20 {
		t.Errorf("retried record classControl = %d, want 20 from current state", got)
	}
}

func TestRetryOutsideErrorStateIsNoOp(t *testing.T) {
	h := &draftHolder{draft: validDraft(daykey.Today())}
	rec := &saveRecorder{}
	c := newController(h, rec, time.Hour)

	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("retry from idle: %v", err)
	}
	if rec.count() != 0 {
		t.Fatal("retry from idle dispatched a save")
	}
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"kepsekreport/internal/cache"
	"kepsekreport/internal/daykey"
)

// Poller keeps the admin-facing roster views for the watched date passively
// fresh: a periodic refresh surfaces other principals' concurrent writes, and
// cache invalidations for the watched date trigger an immediate re-fetch.
// The roster is eventually consistent by design; a refresh racing an
// in-flight save self-corrects on the next cycle.
type Poller struct {
	sess    *Session
	cron    *cron.Cron
	timeout time.Duration
	log     *zap.Logger

	mu  sync.Mutex
	day daykey.DayKey
}

// NewPoller creates a poller refreshing every interval. The poller also
// subscribes to the session cache, so explicit invalidations of the watched
// date re-fetch without waiting for the next tick.
func NewPoller(sess *Session, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		sess:    sess,
		cron:    cron.New(),
		timeout: interval,
		log:     logger,
	}
	if _, err := p.cron.AddFunc("@every "+interval.String(), p.tick); err != nil {
		logger.Error("failed to schedule roster refresh", zap.Error(err))
	}
	sess.Cache().OnInvalidate(p.onInvalidate)
	return p
}

// Watch switches the date whose roster is kept fresh.
func (p *Poller) Watch(day daykey.DayKey) {
	p.mu.Lock()
	p.day = day
	p.mu.Unlock()
}

// Start begins periodic refreshing.
func (p *Poller) Start() {
	p.cron.Start()
}

// Stop halts the schedule; running refreshes finish.
func (p *Poller) Stop() {
	p.cron.Stop()
}

// RefreshOnFocus forces an immediate refresh, the regain-focus counterpart of
// the periodic tick.
func (p *Poller) RefreshOnFocus() {
	p.tick()
}

func (p *Poller) tick() {
	p.mu.Lock()
	day := p.day
	p.mu.Unlock()
	if day == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	p.sess.RefreshRoster(ctx, day)
}

// onInvalidate re-fetches the watched date's views when something marks them
// stale (typically a report save in this session).
func (p *Poller) onInvalidate(k cache.Key) {
	p.mu.Lock()
	day := p.day
	p.mu.Unlock()
	if day == 0 {
		return
	}
	switch k.Kind {
	case cache.KindRoster:
		if k.Day != day {
			return
		}
		p.async(func(ctx context.Context) { p.sess.refreshRosterView(ctx, day) })
	case cache.KindRankings:
		if k.Day != day {
			return
		}
		p.async(func(ctx context.Context) { p.sess.refreshRankingsView(ctx, day) })
	case cache.KindActiveCount:
		p.async(func(ctx context.Context) { p.sess.refreshCountView(ctx) })
	}
}

func (p *Poller) async(fn func(context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Package session ties one authenticated principal's view of the dashboard
// together: reads go through the cache coordinator, writes go to the remote
// store and are reconciled back into the cache in dispatch order. A Session
// is the single entry point consumers (kepsek form, admin dashboard, CLI)
// use; its lifecycle matches the authenticated session.
package session

import (
	"context"

	"go.uber.org/zap"

	"kepsekreport/internal/autosave"
	"kepsekreport/internal/cache"
	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
	"kepsekreport/internal/remote"
	"kepsekreport/internal/report"
)

// Session binds a principal, the remote store and an isolated cache.
type Session struct {
	principal string
	store     remote.Store
	cache     *cache.Coordinator
	log       *zap.Logger
}

// New constructs a session. logger may be nil.
func New(principal string, store remote.Store, c *cache.Coordinator, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{principal: principal, store: store, cache: c, log: logger}
}

// Principal returns the authenticated identity.
func (s *Session) Principal() string { return s.principal }

// Cache exposes the coordinator for consumers that read entry states
// directly (loading indicators, staleness badges).
func (s *Session) Cache() *cache.Coordinator { return s.cache }

// fetch serves k from cache when fresh, otherwise marks it loading, runs fn
// and stores the outcome. A failed fetch keeps the last confirmed value.
func fetch[T any](ctx context.Context, s *Session, k cache.Key, fn func(context.Context) (T, error)) (T, error) {
	if v, st := cache.Get[T](s.cache, k); st == cache.Fresh {
		return v, nil
	}
	return refetch(ctx, s, k, fn)
}

// refetch always goes to the backend, bypassing freshness. The write mark is
// taken at dispatch; if a save lands on k while the request is in flight the
// fetched value is discarded and the saved entry returned instead.
func refetch[T any](ctx context.Context, s *Session, k cache.Key, fn func(context.Context) (T, error)) (T, error) {
	mark := s.cache.WriteMark(k)
	s.cache.MarkLoading(k)
	v, err := fn(ctx)
	if err != nil {
		s.cache.SetError(k, err)
		return v, err
	}
	if !s.cache.PutIfCurrent(k, mark, v) {
		if cur, st := cache.Get[T](s.cache, k); st == cache.Fresh {
			return cur, nil
		}
	}
	return v, nil
}

// Report returns the principal's report for the given day, Absent when none
// was submitted. The absent state is cached like any other result.
func (s *Session) Report(ctx context.Context, principal string, day daykey.DayKey) (option.Option[report.Record], error) {
	return fetch(ctx, s, cache.ReportKey(principal, day), func(ctx context.Context) (option.Option[report.Record], error) {
		return s.store.GetReport(ctx, principal, day)
	})
}

// OwnReport is Report for the session's own principal.
func (s *Session) OwnReport(ctx context.Context, day daykey.DayKey) (option.Option[report.Record], error) {
	return s.Report(ctx, s.principal, day)
}

// SaveReport dispatches an upsert for rec and reconciles the cache: the write
// sequence is allocated before the request leaves, so when two saves for the
// same (principal, day) race, the one dispatched later wins regardless of
// which response arrives first.
func (s *Session) SaveReport(ctx context.Context, rec report.Record) error {
	key := cache.ReportKey(rec.Principal, rec.DayKey)
	seq := s.cache.NextWriteSeq(key)
	if err := s.store.SaveReport(ctx, rec); err != nil {
		// The last confirmed record stays authoritative in the cache.
		return err
	}
	if s.cache.ReportSaved(rec.Principal, rec.DayKey, seq, option.Some(rec)) {
		s.log.Debug("report save applied",
			zap.String("principal", rec.Principal),
			zap.String("day", rec.DayKey.String()),
			zap.Int("total", rec.TotalScore))
	}
	return nil
}

// Roster returns the per-day roster of all schools with submission status.
func (s *Session) Roster(ctx context.Context, day daykey.DayKey) ([]report.RosterRow, error) {
	return fetch(ctx, s, cache.RosterKey(day), func(ctx context.Context) ([]report.RosterRow, error) {
		return s.store.RosterForDate(ctx, day)
	})
}

// Rankings returns submitted-only reports for the day, ranked by score.
func (s *Session) Rankings(ctx context.Context, day daykey.DayKey) ([]report.RankedReport, error) {
	return fetch(ctx, s, cache.RankingsKey(day), func(ctx context.Context) ([]report.RankedReport, error) {
		return s.store.ReportsRankedForDate(ctx, day)
	})
}

// ActiveSchoolsCount returns the aggregate count for the summary cards.
func (s *Session) ActiveSchoolsCount(ctx context.Context) (int, error) {
	return fetch(ctx, s, cache.ActiveCountKey(), func(ctx context.Context) (int, error) {
		return s.store.ActiveSchoolsCount(ctx)
	})
}

// ActiveSchoolsList returns the registered active schools.
func (s *Session) ActiveSchoolsList(ctx context.Context) ([]report.SchoolSummary, error) {
	return fetch(ctx, s, cache.ActiveListKey(), func(ctx context.Context) ([]report.SchoolSummary, error) {
		return s.store.ActiveSchoolsList(ctx)
	})
}

// School returns a principal's school profile, Absent when unregistered.
func (s *Session) School(ctx context.Context, principal string) (option.Option[report.School], error) {
	return fetch(ctx, s, cache.SchoolKey(principal), func(ctx context.Context) (option.Option[report.School], error) {
		return s.store.GetSchool(ctx, principal)
	})
}

// SaveSchool writes the caller's own school profile.
func (s *Session) SaveSchool(ctx context.Context, sch report.School) error {
	sch.Principal = s.principal
	if err := s.store.SaveSchool(ctx, sch); err != nil {
		return err
	}
	s.cache.SchoolSaved(s.principal)
	return nil
}

// SaveSchoolForPrincipal is the admin registration flow; the backend also
// grants the kepsek role to the target principal.
func (s *Session) SaveSchoolForPrincipal(ctx context.Context, principal string, sch report.School) error {
	if err := s.store.SaveSchoolForPrincipal(ctx, principal, sch); err != nil {
		return err
	}
	s.cache.SchoolSaved(principal)
	return nil
}

// Role returns the caller's role. Cached for the session's lifetime.
func (s *Session) Role(ctx context.Context) (report.Role, error) {
	return fetch(ctx, s, cache.CallerRoleKey(s.principal), func(ctx context.Context) (report.Role, error) {
		return s.store.CallerRole(ctx)
	})
}

// AssignRole grants a role to a principal (admin-only).
func (s *Session) AssignRole(ctx context.Context, principal string, role report.Role) error {
	if err := s.store.AssignRole(ctx, principal, role); err != nil {
		return err
	}
	s.cache.Invalidate(cache.CallerRoleKey(principal))
	return nil
}

// Profile returns the caller's identity metadata.
func (s *Session) Profile(ctx context.Context) (option.Option[report.Profile], error) {
	return fetch(ctx, s, cache.CallerProfileKey(s.principal), func(ctx context.Context) (option.Option[report.Profile], error) {
		return s.store.CallerProfile(ctx)
	})
}

// SaveProfile updates the caller's identity metadata.
func (s *Session) SaveProfile(ctx context.Context, name, email string) error {
	if err := s.store.SaveCallerProfile(ctx, name, email); err != nil {
		return err
	}
	s.cache.Invalidate(cache.CallerProfileKey(s.principal))
	return nil
}

// RefreshRoster forces the roster, rankings and aggregate count for a day
// back to the backend, regardless of freshness. Used by the poller and the
// regain-focus hook.
func (s *Session) RefreshRoster(ctx context.Context, day daykey.DayKey) {
	s.refreshRosterView(ctx, day)
	s.refreshRankingsView(ctx, day)
	s.refreshCountView(ctx)
}

func (s *Session) refreshRosterView(ctx context.Context, day daykey.DayKey) {
	if _, err := refetch(ctx, s, cache.RosterKey(day), func(ctx context.Context) ([]report.RosterRow, error) {
		return s.store.RosterForDate(ctx, day)
	}); err != nil {
		s.log.Warn("roster refresh failed", zap.String("day", day.String()), zap.Error(err))
	}
}

func (s *Session) refreshRankingsView(ctx context.Context, day daykey.DayKey) {
	if _, err := refetch(ctx, s, cache.RankingsKey(day), func(ctx context.Context) ([]report.RankedReport, error) {
		return s.store.ReportsRankedForDate(ctx, day)
	}); err != nil {
		s.log.Warn("rankings refresh failed", zap.String("day", day.String()), zap.Error(err))
	}
}

func (s *Session) refreshCountView(ctx context.Context) {
	if _, err := refetch(ctx, s, cache.ActiveCountKey(), func(ctx context.Context) (int, error) {
		return s.store.ActiveSchoolsCount(ctx)
	}); err != nil {
		s.log.Warn("count refresh failed", zap.Error(err))
	}
}

// NewAutosave builds an autosave controller whose saves flow through this
// session's write path (sequencing plus cache reconciliation included).
func (s *Session) NewAutosave(cfg autosave.Config) *autosave.Controller {
	cfg.Save = func(ctx context.Context, rec report.Record) error {
		return s.SaveReport(ctx, rec)
	}
	if cfg.Logger == nil {
		cfg.Logger = s.log
	}
	return autosave.New(cfg)
}

package session_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"kepsekreport/internal/cache"
	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
	"kepsekreport/internal/remote"
	"kepsekreport/internal/report"
	"kepsekreport/internal/session"
)

type recordKey struct {
	principal string
	day       daykey.DayKey
}

// fakeStore is an in-memory remote.Store with upsert-by-day semantics and
// call counting, plus an optional gate to control save completion order.
type fakeStore struct {
	mu          sync.Mutex
	reports     map[recordKey]report.Record
	schools     map[string]report.School
	roles       map[string]report.Role
	getCalls    int
	rosterCalls int
	saveErr     error
	saveGate    func(rec report.Record)
	getGate     func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reports: make(map[recordKey]report.Record),
		schools: make(map[string]report.School),
		roles:   make(map[string]report.Role),
	}
}

func (f *fakeStore) GetReport(_ context.Context, principal string, day daykey.DayKey) (option.Option[report.Record], error) {
	if f.getGate != nil {
		f.getGate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if rec, ok := f.reports[recordKey{principal, day}]; ok {
		return option.Some(rec), nil
	}
	return option.None[report.Record](), nil
}

func (f *fakeStore) SaveReport(_ context.Context, rec report.Record) error {
	if f.saveGate != nil {
		f.saveGate(rec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.reports[recordKey{rec.Principal, rec.DayKey}] = rec
	return nil
}

func (f *fakeStore) GetSchool(_ context.Context, principal string) (option.Option[report.School], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.schools[principal]; ok {
		return option.Some(s), nil
	}
	return option.None[report.School](), nil
}

func (f *fakeStore) SaveSchool(_ context.Context, s report.School) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schools[s.Principal] = s
	return nil
}

func (f *fakeStore) SaveSchoolForPrincipal(_ context.Context, principal string, s report.School) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.Principal = principal
	f.schools[principal] = s
	f.roles[principal] = report.RoleUser
	return nil
}

func (f *fakeStore) RosterForDate(_ context.Context, day daykey.DayKey) ([]report.RosterRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rosterCalls++
	var rows []report.RosterRow
	for principal, sch := range f.schools {
		row := report.RosterRow{Principal: principal, School: sch, Report: option.None[report.Record]()}
		if rec, ok := f.reports[recordKey{principal, day}]; ok {
			row.Report = option.Some(rec)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Principal < rows[j].Principal })
	return rows, nil
}

func (f *fakeStore) ReportsRankedForDate(_ context.Context, day daykey.DayKey) ([]report.RankedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ranked []report.RankedReport
	for k, rec := range f.reports {
		if k.day == day {
			ranked = append(ranked, report.RankedReport{Principal: k.principal, Report: rec})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Report.TotalScore > ranked[j].Report.TotalScore })
	return ranked, nil
}

func (f *fakeStore) ActiveSchoolsCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.schools), nil
}

func (f *fakeStore) ActiveSchoolsList(_ context.Context) ([]report.SchoolSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []report.SchoolSummary
	for principal, sch := range f.schools {
		list = append(list, report.SchoolSummary{Principal: principal, School: sch})
	}
	return list, nil
}

func (f *fakeStore) CallerRole(_ context.Context) (report.Role, error) {
	return report.RoleUser, nil
}

func (f *fakeStore) AssignRole(_ context.Context, principal string, role report.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[principal] = role
	return nil
}

func (f *fakeStore) CallerProfile(_ context.Context) (option.Option[report.Profile], error) {
	return option.None[report.Profile](), nil
}

func (f *fakeStore) SaveCallerProfile(_ context.Context, _, _ string) error { return nil }

var _ remote.Store = (*fakeStore)(nil)

func testDay() daykey.DayKey {
	return daykey.StartOfDay(time.Date(2026, 2, 16, 0, 0, 0, 0, time.Local))
}

func newSession(store remote.Store) *session.Session {
	return session.New("p1", store, cache.New(nil), nil)
}

func sampleRecord(total int) report.Record {
	return report.Record{
		Principal:       "p1",
		DayKey:          testDay(),
		TotalScore:      total,
		AttendanceScore: 20,
		AttendancePhoto: option.Some("https://cdn/p.jpg"),
	}
}

func TestUpsertIdempotence(t *testing.T) {
	store := newFakeStore()
	s := newSession(store)
	ctx := context.Background()

	first := sampleRecord(60)
	if err := s.SaveReport(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}
	second := sampleRecord(80)
	second.CatatanPresensi = "tepat waktu"
	if err := s.SaveReport(ctx, second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.reports) != 1 {
		t.Fatalf("%d logical records, want 1", len(store.reports))
	}
	got := store.reports[recordKey{"p1", testDay()}]
	if got.TotalScore != 80 || got.CatatanPresensi != "tepat waktu" {
		t.Errorf("second save did not supersede: %+v", got)
	}
}

func TestSaveIsVisibleWithoutRoundTrip(t *testing.T) {
	store := newFakeStore()
	s := newSession(store)
	ctx := context.Background()

	if err := s.SaveReport(ctx, sampleRecord(60)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.OwnReport(ctx, testDay())
	if err != nil {
		t.Fatalf("read after save: %v", err)
	}
	rec, ok := got.Get()
	if !ok || rec.TotalScore != 60 {
		t.Fatalf("read back (%+v, %v), want total 60", rec, ok)
	}
	store.mu.Lock()
	gets := store.getCalls
	store.mu.Unlock()
	if gets != 0 {
		t.Errorf("read after save hit the backend %d times, want 0", gets)
	}
}

func TestRosterRefetchedAfterSave(t *testing.T) {
	store := newFakeStore()
	store.schools["p1"] = report.School{Principal: "p1", Name: "SDN 1", Active: true}
	s := newSession(store)
	ctx := context.Background()

	if _, err := s.Roster(ctx, testDay()); err != nil {
		t.Fatalf("initial roster: %v", err)
	}
	if err := s.SaveReport(ctx, sampleRecord(60)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// The roster entry is stale now, so the next read goes to the backend
	// and reflects the submission.
	rows, err := s.Roster(ctx, testDay())
	if err != nil {
		t.Fatalf("roster after save: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("roster rows = %d, want 1", len(rows))
	}
	rec, ok := rows[0].Report.Get()
	if !ok || rec.TotalScore != 60 {
		t.Errorf("roster row report = (%+v, %v), want submitted total 60", rec, ok)
	}
	store.mu.Lock()
	calls := store.rosterCalls
	store.mu.Unlock()
	if calls != 2 {
		t.Errorf("roster fetched %d times, want 2 (initial + post-save)", calls)
	}
}

func TestStaleOverwriteGuardAcrossCompletionOrder(t *testing.T) {
	store := newFakeStore()
	s := newSession(store)
	ctx := context.Background()

	firstDispatched := make(chan struct{})
	releaseFirst := make(chan struct{})
	store.saveGate = func(rec report.Record) {
		if rec.TotalScore == 40 {
			close(firstDispatched)
			<-releaseFirst
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.SaveReport(ctx, sampleRecord(40)) // save #1, slow
	}()

	<-firstDispatched
	if err := s.SaveReport(ctx, sampleRecord(80)); err != nil { // save #2 completes first
		t.Fatalf("second save: %v", err)
	}
	close(releaseFirst)
	wg.Wait()

	got, _ := s.OwnReport(ctx, testDay())
	rec, ok := got.Get()
	if !ok || rec.TotalScore != 80 {
		t.Fatalf("cache holds total %d (present=%v), want 80 from the later dispatch", rec.TotalScore, ok)
	}
}

func TestInFlightReadDoesNotRevertSave(t *testing.T) {
	store := newFakeStore()
	s := newSession(store)
	ctx := context.Background()

	readDispatched := make(chan struct{})
	releaseRead := make(chan struct{})
	store.getGate = func() {
		close(readDispatched)
		<-releaseRead
	}

	type readResult struct {
		rec option.Option[report.Record]
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		got, err := s.OwnReport(ctx, testDay()) // dispatched against the empty store
		done <- readResult{got, err}
	}()

	<-readDispatched
	if err := s.SaveReport(ctx, sampleRecord(80)); err != nil { // lands mid-read
		t.Fatalf("save: %v", err)
	}
	close(releaseRead)

	res := <-done
	if res.err != nil {
		t.Fatalf("read: %v", res.err)
	}
	rec, ok := res.rec.Get()
	if !ok || rec.TotalScore != 80 {
		t.Fatalf("in-flight read returned (%+v, %v), want saved total 80", rec, ok)
	}

	// The pre-save fetch result must not have overwritten the saved entry.
	got, err := s.OwnReport(ctx, testDay())
	if err != nil {
		t.Fatalf("read after save: %v", err)
	}
	rec, ok = got.Get()
	if !ok || rec.TotalScore != 80 {
		t.Fatalf("cache holds (%+v, %v), want saved total 80", rec, ok)
	}
}

func TestFailedSaveKeepsLastConfirmedRecord(t *testing.T) {
	store := newFakeStore()
	s := newSession(store)
	ctx := context.Background()

	if err := s.SaveReport(ctx, sampleRecord(60)); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.mu.Lock()
	store.saveErr = errors.New("backend unavailable")
	store.mu.Unlock()

	if err := s.SaveReport(ctx, sampleRecord(100)); err == nil {
		t.Fatal("expected save failure")
	}
	got, _ := s.OwnReport(ctx, testDay())
	rec, ok := got.Get()
	if !ok || rec.TotalScore != 60 {
		t.Errorf("cache holds %d (present=%v), want last confirmed 60", rec.TotalScore, ok)
	}
}

func TestAbsentReportIsValidEmptyState(t *testing.T) {
	store := newFakeStore()
	s := newSession(store)

	got, err := s.OwnReport(context.Background(), testDay())
	if err != nil {
		t.Fatalf("absent report returned error %v", err)
	}
	if got.Present() {
		t.Error("expected absent report")
	}
	// The absent result is cached like any other value.
	if _, st := s.Cache().Lookup(cache.ReportKey("p1", testDay())); st != cache.Fresh {
		t.Errorf("absent entry state = %v, want fresh", st)
	}
}

func TestAdminRegistrationInvalidatesSchoolViews(t *testing.T) {
	store := newFakeStore()
	s := newSession(store)
	ctx := context.Background()

	if _, err := s.ActiveSchoolsCount(ctx); err != nil {
		t.Fatalf("count: %v", err)
	}
	sch := report.School{Name: "SDN 2", Region: "Jakarta", PrincipalName: "Bu Sari", Active: true}
	if err := s.SaveSchoolForPrincipal(ctx, "p2", sch); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, st := s.Cache().Lookup(cache.ActiveCountKey()); st != cache.Stale {
		t.Errorf("count state = %v, want stale", st)
	}
	count, err := s.ActiveSchoolsCount(ctx)
	if err != nil || count != 1 {
		t.Errorf("refetched count = (%d, %v), want 1", count, err)
	}
	store.mu.Lock()
	role := store.roles["p2"]
	store.mu.Unlock()
	if role != report.RoleUser {
		t.Errorf("registration granted role %q, want user", role)
	}
}

func TestPollerRefreshOnFocus(t *testing.T) {
	store := newFakeStore()
	store.schools["p1"] = report.School{Principal: "p1", Name: "SDN 1", Active: true}
	s := newSession(store)

	p := session.NewPoller(s, time.Minute, nil)
	p.Watch(testDay())
	p.RefreshOnFocus()

	rows, st := cache.Get[[]report.RosterRow](s.Cache(), cache.RosterKey(testDay()))
	if st != cache.Fresh || len(rows) != 1 {
		t.Errorf("after focus refresh: (%d rows, %v), want 1 fresh row", len(rows), st)
	}
}

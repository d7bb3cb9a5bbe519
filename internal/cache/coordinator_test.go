package cache_test

import (
	"errors"
	"testing"
	"time"

	"kepsekreport/internal/cache"
	"kepsekreport/internal/daykey"
	"kepsekreport/internal/report"
)

func dayOf(y int, m time.Month, d int) daykey.DayKey {
	return daykey.StartOfDay(time.Date(y, m, d, 0, 0, 0, 0, time.Local))
}

func TestWriteVisibility(t *testing.T) {
	c := cache.New(nil)
	day := dayOf(2026, 2, 16)
	rec := report.Record{Principal: "p1", DayKey: day, TotalScore: 60}

	// Warm the roster entry so invalidation has something to mark.
	c.Put(cache.RosterKey(day), []report.RosterRow{})

	seq := c.NextWriteSeq(cache.ReportKey("p1", day))
	c.ReportSaved("p1", day, seq, rec)

	got, st := cache.Get[report.Record](c, cache.ReportKey("p1", day))
	if st != cache.Fresh {
		t.Fatalf("report entry state = %v, want fresh", st)
	}
	if got.TotalScore != 60 {
		t.Fatalf("cached total = %d, want 60", got.TotalScore)
	}

	if _, st := c.Lookup(cache.RosterKey(day)); st != cache.Stale {
		t.Errorf("roster state = %v, want stale", st)
	}

	// Once the roster re-fetch lands it reflects the write again.
	c.Put(cache.RosterKey(day), []report.RosterRow{{Principal: "p1"}})
	rows, st := cache.Get[[]report.RosterRow](c, cache.RosterKey(day))
	if st != cache.Fresh || len(rows) != 1 {
		t.Errorf("refetched roster = (%d rows, %v)", len(rows), st)
	}
}

func TestReportSaveInvalidatesAggregates(t *testing.T) {
	c := cache.New(nil)
	day := dayOf(2026, 2, 16)
	c.Put(cache.RankingsKey(day), []report.RankedReport{})
	c.Put(cache.ActiveCountKey(), 9)

	seq := c.NextWriteSeq(cache.ReportKey("p1", day))
	c.ReportSaved("p1", day, seq, report.Record{})

	for _, k := range []cache.Key{cache.RankingsKey(day), cache.ActiveCountKey()} {
		if _, st := c.Lookup(k); st != cache.Stale {
			t.Errorf("%s state = %v, want stale", k.Kind, st)
		}
	}
}

func TestNoLeakageAcrossPrincipals(t *testing.T) {
	c := cache.New(nil)
	day := dayOf(2026, 2, 16)
	c.Put(cache.ReportKey("p1", day), report.Record{Principal: "p1", TotalScore: 80})

	// A different identity's key is simply a miss; no clearing needed.
	if _, st := c.Lookup(cache.ReportKey("p2", day)); st != cache.Miss {
		t.Errorf("other principal's key state = %v, want miss", st)
	}
	if _, st := c.Lookup(cache.CallerRoleKey("p2")); st != cache.Miss {
		t.Errorf("other principal's role state = %v, want miss", st)
	}
}

func TestDateSwitchLoadingIsDistinctFromEmpty(t *testing.T) {
	c := cache.New(nil)
	d1 := dayOf(2026, 2, 16)
	d2 := dayOf(2026, 2, 17)
	c.Put(cache.ReportKey("p1", d1), report.Record{TotalScore: 100})

	// Switching to d2 must never surface d1's record: d2 starts as a miss,
	// then reads as loading until its own fetch completes.
	if v, st := c.Lookup(cache.ReportKey("p1", d2)); st != cache.Miss || v != nil {
		t.Fatalf("fresh date = (%v, %v), want (nil, miss)", v, st)
	}
	c.MarkLoading(cache.ReportKey("p1", d2))
	if v, st := c.Lookup(cache.ReportKey("p1", d2)); st != cache.Loading || v != nil {
		t.Fatalf("loading date = (%v, %v), want (nil, loading)", v, st)
	}
}

func TestStaleOverwriteGuard(t *testing.T) {
	c := cache.New(nil)
	day := dayOf(2026, 2, 16)
	k := cache.ReportKey("p1", day)

	// Save #1 dispatched first, save #2 second; #2 completes first.
	seq1 := c.NextWriteSeq(k)
	seq2 := c.NextWriteSeq(k)

	if !c.ApplyWrite(k, seq2, report.Record{TotalScore: 80}) {
		t.Fatal("newer write rejected")
	}
	if c.ApplyWrite(k, seq1, report.Record{TotalScore: 40}) {
		t.Fatal("older write applied after newer one")
	}

	got, _ := cache.Get[report.Record](c, k)
	if got.TotalScore != 80 {
		t.Fatalf("cache holds total %d, want 80 from the later save", got.TotalScore)
	}
}

func TestInvalidateNotifiesListeners(t *testing.T) {
	c := cache.New(nil)
	day := dayOf(2026, 2, 16)
	var seen []cache.Key
	c.OnInvalidate(func(k cache.Key) { seen = append(seen, k) })

	c.Put(cache.RosterKey(day), []report.RosterRow{})
	seq := c.NextWriteSeq(cache.ReportKey("p1", day))
	c.ReportSaved("p1", day, seq, report.Record{})

	want := map[cache.Kind]bool{}
	for _, k := range seen {
		want[k.Kind] = true
	}
	for _, kind := range []cache.Kind{cache.KindRoster, cache.KindRankings, cache.KindActiveCount} {
		if !want[kind] {
			t.Errorf("listener never saw %s invalidation", kind)
		}
	}
}

func TestFailedFetchKeepsLastConfirmedValue(t *testing.T) {
	c := cache.New(nil)
	k := cache.ActiveCountKey()
	c.Put(k, 12)

	c.SetError(k, errors.New("backend unavailable"))
	v, st := c.Lookup(k)
	if st != cache.Stale || v.(int) != 12 {
		t.Errorf("after failure = (%v, %v), want (12, stale)", v, st)
	}
	if c.Err(k) == nil {
		t.Error("error not recorded")
	}

	// A key with no confirmed value fails outright.
	k2 := cache.RosterKey(dayOf(2026, 2, 16))
	c.SetError(k2, errors.New("boom"))
	if _, st := c.Lookup(k2); st != cache.Failed {
		t.Errorf("fresh key failure state = %v, want failed", st)
	}
}

func TestSchoolSavedInvalidatesDependents(t *testing.T) {
	c := cache.New(nil)
	c.Put(cache.SchoolKey("p1"), report.School{Name: "SDN 1"})
	c.Put(cache.ActiveListKey(), []report.SchoolSummary{})
	c.Put(cache.ActiveCountKey(), 3)

	c.SchoolSaved("p1")

	for _, k := range []cache.Key{cache.SchoolKey("p1"), cache.ActiveListKey(), cache.ActiveCountKey()} {
		if _, st := c.Lookup(k); st != cache.Stale {
			t.Errorf("%s state = %v, want stale", k.Kind, st)
		}
	}
}

func TestFetchResultDroppedWhenWriteLandsMidFlight(t *testing.T) {
	c := cache.New(nil)
	k := cache.ReportKey("p1", dayOf(2026, time.February, 16))

	// Fetch dispatched: mark taken, entry loading.
	mark := c.WriteMark(k)
	c.MarkLoading(k)

	// A save lands while the fetch is in flight.
	seq := c.NextWriteSeq(k)
	if !c.ApplyWrite(k, seq, report.Record{TotalScore: 80}) {
		t.Fatal("write not applied")
	}

	// The fetch completes with the pre-save value and must be discarded.
	if c.PutIfCurrent(k, mark, report.Record{TotalScore: 0}) {
		t.Fatal("pre-save fetch result overwrote the save")
	}
	v, st := cache.Get[report.Record](c, k)
	if st != cache.Fresh || v.TotalScore != 80 {
		t.Fatalf("entry = (%+v, %v), want saved total 80 fresh", v, st)
	}

	// With no intervening write the fetch result lands normally.
	k2 := cache.ReportKey("p1", dayOf(2026, time.February, 17))
	if !c.PutIfCurrent(k2, c.WriteMark(k2), report.Record{TotalScore: 40}) {
		t.Fatal("fetch result dropped without an intervening write")
	}
}

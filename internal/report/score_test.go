package report_test

import (
	"errors"
	"testing"
	"time"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
	"kepsekreport/internal/report"
)

func fullDraft() report.Draft {
	return report.Draft{
		Principal:          "kepsek-1",
		DayKey:             daykey.Today(),
		PhotoURL:           option.Some("https://cdn/photo.jpg"),
		ArrivalTime:        "07:00",
		DepartureTime:      "16:00",
		ClassControlDone:   true,
		TeacherControlDone: true,
		WaliSantriDone:     true,
		ProgramDone:        true,
	}
}

func TestTotalIsSumOfCategories(t *testing.T) {
	// Enumerate every checkbox combination with and without full attendance.
	for mask := 0; mask < 32; mask++ {
		d := fullDraft()
		if mask&1 == 0 {
			d.PhotoURL = option.None[string]()
		}
		d.ClassControlDone = mask&2 != 0
		d.TeacherControlDone = mask&4 != 0
		d.WaliSantriDone = mask&8 != 0
		d.ProgramDone = mask&16 != 0

		s := report.ComputeScores(d)
		sum := s.Attendance + s.ClassControl + s.TeacherControl +
			s.WaliSantriResponse + s.ProgramProblemSolving
		if s.Total != sum {
			t.Fatalf("mask %d: total %d != sum %d", mask, s.Total, sum)
		}
		if s.Total < 0 || s.Total > 100 || s.Total%report.CategoryPoints != 0 {
			t.Fatalf("mask %d: total %d outside {0,20,..,100}", mask, s.Total)
		}
	}
}

func TestAttendanceGating(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*report.Draft)
		want   int
	}{
		{"all present", func(d *report.Draft) {}, 20},
		{"no photo", func(d *report.Draft) { d.PhotoURL = option.None[string]() }, 0},
		{"no arrival", func(d *report.Draft) { d.ArrivalTime = "" }, 0},
		{"no departure", func(d *report.Draft) { d.DepartureTime = "" }, 0},
	}
	for _, tt := range tests {
		d := fullDraft()
		tt.mutate(&d)
		if got := report.ComputeScores(d).Attendance; got != tt.want {
			t.Errorf("%s: attendance = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestAutosaveGuard(t *testing.T) {
	d := fullDraft()
	if !d.CanAutosave() {
		t.Error("full draft should be autosavable")
	}
	d.PhotoURL = option.None[string]()
	if d.CanAutosave() {
		t.Error("draft without photo should not be autosavable")
	}
	d = fullDraft()
	d.ArrivalTime = ""
	if d.CanAutosave() {
		t.Error("draft without arrival should not be autosavable")
	}
}

func TestValidateSubmit(t *testing.T) {
	d := fullDraft()
	if err := d.ValidateSubmit(); err != nil {
		t.Errorf("full draft: %v", err)
	}
	d.DepartureTime = ""
	err := d.ValidateSubmit()
	if !errors.Is(err, report.ErrValidation) {
		t.Errorf("missing departure: got %v, want ErrValidation", err)
	}
}

func TestBuildRecordAnchorsToDraftDay(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	pastDay := daykey.StartOfDay(time.Date(2026, 2, 10, 0, 0, 0, 0, loc))

	d := fullDraft()
	d.DayKey = pastDay
	rec, err := d.BuildRecord()
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if rec.DayKey != pastDay {
		t.Fatalf("record day key = %d, want %d", rec.DayKey, pastDay)
	}
	dayNanos := (24 * time.Hour).Nanoseconds()
	for name, ts := range map[string]int64{"arrival": rec.ArrivalTime, "departure": rec.DepartureTime} {
		if ts < int64(pastDay) || ts >= int64(pastDay)+dayNanos {
			t.Errorf("%s %d is not anchored inside day %d", name, ts, pastDay)
		}
	}
	if rec.TotalScore != 100 {
		t.Errorf("total = %d, want 100", rec.TotalScore)
	}
}

func TestBuildRecordEmptyTimesAreSentinels(t *testing.T) {
	d := fullDraft()
	d.ArrivalTime = ""
	d.DepartureTime = ""
	rec, err := d.BuildRecord()
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if rec.ArrivalTime != 0 || rec.DepartureTime != 0 {
		t.Errorf("sentinels = (%d, %d), want zeros", rec.ArrivalTime, rec.DepartureTime)
	}
	if rec.AttendanceScore != 0 {
		t.Errorf("attendance = %d, want 0 without times", rec.AttendanceScore)
	}
}

package report

import (
	"fmt"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
)

// CategoryPoints is awarded per completed category; five categories make a
// maximum total of 100.
const CategoryPoints = 20

// Draft is the form state a kepsek edits before a report is saved. Time
// fields are HH:MM wall-clock strings; the day key is fixed when the draft is
// opened and stays fixed for the draft's lifetime.
type Draft struct {
	Principal string
	DayKey    daykey.DayKey

	PhotoURL      option.Option[string]
	ArrivalTime   string
	DepartureTime string

	ClassControlDone   bool
	TeacherControlDone bool
	WaliSantriDone     bool
	ProgramDone        bool

	CatatanPresensi            string
	CatatanAmatanKelas         string
	CatatanMonitoringGuru      string
	CatatanWaliSantri          string
	CatatanPermasalahanProgram string
}

// Scores holds the five category scores and their total.
type Scores struct {
	Attendance            int
	ClassControl          int
	TeacherControl        int
	WaliSantriResponse    int
	ProgramProblemSolving int
	Total                 int
}

// ComputeScores derives the category scores from a draft's field-presence
// state. Attendance requires photo, arrival and departure together; the other
// four follow their checkboxes. Pure; callers re-run it on every field change.
func ComputeScores(d Draft) Scores {
	var s Scores
	if d.PhotoURL.Present() && d.ArrivalTime != "" && d.DepartureTime != "" {
		s.Attendance = CategoryPoints
	}
	if d.ClassControlDone {
		s.ClassControl = CategoryPoints
	}
	if d.TeacherControlDone {
		s.TeacherControl = CategoryPoints
	}
	if d.WaliSantriDone {
		s.WaliSantriResponse = CategoryPoints
	}
	if d.ProgramDone {
		s.ProgramProblemSolving = CategoryPoints
	}
	s.Total = s.Attendance + s.ClassControl + s.TeacherControl +
		s.WaliSantriResponse + s.ProgramProblemSolving
	return s
}

// CanAutosave reports whether the draft has the minimum fields for a save.
// While the kepsek is still mid-entry this gates autosave into a silent no-op.
func (d Draft) CanAutosave() bool {
	return d.PhotoURL.Present() && d.ArrivalTime != ""
}

// ValidateSubmit checks the fields an explicit submit requires. Unlike the
// autosave guard a failure here is surfaced to the user.
func (d Draft) ValidateSubmit() error {
	if !d.PhotoURL.Present() {
		return fmt.Errorf("%w: foto kehadiran wajib diisi", ErrValidation)
	}
	if d.ArrivalTime == "" || d.DepartureTime == "" {
		return fmt.Errorf("%w: jam datang dan pulang harus diisi", ErrValidation)
	}
	return nil
}

// BuildRecord assembles the canonical record from the draft, anchoring time
// fields to the draft's own day key and computing scores from current state.
func (d Draft) BuildRecord() (Record, error) {
	arrival, err := daykey.TimeOfDayToTimestamp(d.ArrivalTime, d.DayKey)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	departure, err := daykey.TimeOfDayToTimestamp(d.DepartureTime, d.DayKey)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	s := ComputeScores(d)
	return Record{
		Principal:                  d.Principal,
		DayKey:                     d.DayKey,
		ArrivalTime:                arrival,
		DepartureTime:              departure,
		AttendanceScore:            s.Attendance,
		ClassControlScore:          s.ClassControl,
		TeacherControlScore:        s.TeacherControl,
		WaliSantriResponseScore:    s.WaliSantriResponse,
		ProgramProblemSolvingScore: s.ProgramProblemSolving,
		TotalScore:                 s.Total,
		CatatanPresensi:            d.CatatanPresensi,
		CatatanAmatanKelas:         d.CatatanAmatanKelas,
		CatatanMonitoringGuru:      d.CatatanMonitoringGuru,
		CatatanWaliSantri:          d.CatatanWaliSantri,
		CatatanPermasalahanProgram: d.CatatanPermasalahanProgram,
		AttendancePhoto:            d.PhotoURL,
	}, nil
}

// Package report holds the domain types for the kepsek daily-performance
// dashboard: the daily report record, school profile, roles and the score
// engine. A report's identity is the (principal, day key) pair; saving is
// always an upsert against that pair and nothing here is ever deleted.
package report

import (
	"errors"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
)

// Role is the caller's access level as reported by the backend.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser || r == RoleGuest
}

// Record is one principal's report for one calendar day.
// ArrivalTime and DepartureTime are absolute nanosecond timestamps anchored
// inside [DayKey, DayKey+24h); zero means "not provided".
type Record struct {
	Principal string        `json:"principal"`
	DayKey    daykey.DayKey `json:"dayKey"`

	ArrivalTime   int64 `json:"arrivalTime"`
	DepartureTime int64 `json:"departureTime"`

	AttendanceScore            int `json:"attendanceScore"`
	ClassControlScore          int `json:"classControlScore"`
	TeacherControlScore        int `json:"teacherControlScore"`
	WaliSantriResponseScore    int `json:"waliSantriResponseScore"`
	ProgramProblemSolvingScore int `json:"programProblemSolvingScore"`
	TotalScore                 int `json:"totalScore"`

	CatatanPresensi            string `json:"catatanPresensi,omitempty"`
	CatatanAmatanKelas         string `json:"catatanAmatanKelas,omitempty"`
	CatatanMonitoringGuru      string `json:"catatanMonitoringGuru,omitempty"`
	CatatanWaliSantri          string `json:"catatanWaliSantri,omitempty"`
	CatatanPermasalahanProgram string `json:"catatanPermasalahanProgram,omitempty"`

	AttendancePhoto option.Option[string] `json:"attendancePhoto"`
}

// School is a kepsek's school profile, keyed by principal.
type School struct {
	Principal     string `json:"principal"`
	Name          string `json:"name"`
	Region        string `json:"region"`
	PrincipalName string `json:"principalName"`
	Active        bool   `json:"active"`
}

// Profile is the caller's own identity metadata.
type Profile struct {
	Principal string `json:"principal"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// RosterRow pairs a school with its (possibly absent) report for one day.
type RosterRow struct {
	Principal string                `json:"principal"`
	School    School                `json:"school"`
	Report    option.Option[Record] `json:"report"`
}

// RankedReport is one submitted report in the per-day ranking.
type RankedReport struct {
	Principal string `json:"principal"`
	Report    Record `json:"report"`
}

// SchoolSummary is one entry of the active-schools listing.
type SchoolSummary struct {
	Principal string `json:"principal"`
	School    School `json:"school"`
}

// ErrValidation marks client-side pre-flight validation failures. These never
// reach the backend.
var ErrValidation = errors.New("validation failed")

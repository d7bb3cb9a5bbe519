// Package remote defines the backend contract the dashboard core consumes and
// its HTTP implementation. "No report yet" and "no school yet" are valid empty
// states modeled as absent options, not errors; the error taxonomy below
// covers the genuinely exceptional cases.
package remote

import (
	"context"
	"errors"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
	"kepsekreport/internal/report"
)

var (
	// ErrUnauthorized means the caller lacks permission for the target
	// principal or operation. Never retried automatically.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means a referenced record does not exist where one was
	// required (reads of optional records return Absent instead).
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the backend could not be reached or failed
	// transiently. Retryable by the user.
	ErrUnavailable = errors.New("backend unavailable")
)

// Store is the backend CRUD surface for reports, schools and roles.
type Store interface {
	// GetReport returns the report for (principal, day), or Absent when the
	// principal has not submitted for that day.
	GetReport(ctx context.Context, principal string, day daykey.DayKey) (option.Option[report.Record], error)
	// SaveReport upserts by (principal, day key): any prior record for the
	// same pair is fully overwritten.
	SaveReport(ctx context.Context, rec report.Record) error

	GetSchool(ctx context.Context, principal string) (option.Option[report.School], error)
	// SaveSchool is the self-service profile write; caller is the principal.
	SaveSchool(ctx context.Context, s report.School) error
	// SaveSchoolForPrincipal is the admin registration flow; it also grants
	// the kepsek role to that principal.
	SaveSchoolForPrincipal(ctx context.Context, principal string, s report.School) error

	// RosterForDate lists every school with its report for the day, report
	// Absent when not yet submitted.
	RosterForDate(ctx context.Context, day daykey.DayKey) ([]report.RosterRow, error)
	// ReportsRankedForDate lists submitted reports only, ranked by score.
	ReportsRankedForDate(ctx context.Context, day daykey.DayKey) ([]report.RankedReport, error)

	ActiveSchoolsCount(ctx context.Context) (int, error)
	ActiveSchoolsList(ctx context.Context) ([]report.SchoolSummary, error)

	CallerRole(ctx context.Context) (report.Role, error)
	AssignRole(ctx context.Context, principal string, role report.Role) error

	CallerProfile(ctx context.Context) (option.Option[report.Profile], error)
	SaveCallerProfile(ctx context.Context, name, email string) error
}

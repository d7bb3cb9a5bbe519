package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/option"
	"kepsekreport/internal/report"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Repository persists reports, schools, roles and profiles in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate applies the schema. Statements are idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const reportColumns = `principal, day_key, arrival_time, departure_time,
	attendance_score, class_control_score, teacher_control_score,
	wali_santri_response_score, program_problem_solving_score, total_score,
	catatan_presensi, catatan_amatan_kelas, catatan_monitoring_guru,
	catatan_wali_santri, catatan_permasalahan_program, attendance_photo`

func scanReport(row interface{ Scan(...any) error }) (report.Record, error) {
	var rec report.Record
	var photo sql.NullString
	err := row.Scan(
		&rec.Principal, &rec.DayKey, &rec.ArrivalTime, &rec.DepartureTime,
		&rec.AttendanceScore, &rec.ClassControlScore, &rec.TeacherControlScore,
		&rec.WaliSantriResponseScore, &rec.ProgramProblemSolvingScore, &rec.TotalScore,
		&rec.CatatanPresensi, &rec.CatatanAmatanKelas, &rec.CatatanMonitoringGuru,
		&rec.CatatanWaliSantri, &rec.CatatanPermasalahanProgram, &photo,
	)
	if err != nil {
		return report.Record{}, err
	}
	if photo.Valid && photo.String != "" {
		rec.AttendancePhoto = option.Some(photo.String)
	}
	return rec, nil
}

// GetReport returns the report for (principal, day), Absent when missing.
func (r *Repository) GetReport(ctx context.Context, principal string, day daykey.DayKey) (option.Option[report.Record], error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+reportColumns+`
		FROM daily_reports
		WHERE principal = $1 AND day_key = $2
	`, principal, int64(day))
	rec, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return option.None[report.Record](), nil
		}
		return option.None[report.Record](), err
	}
	return option.Some(rec), nil
}

// UpsertReport writes a report; a prior record for the same (principal,
// day_key) is fully overwritten.
func (r *Repository) UpsertReport(ctx context.Context, rec report.Record) error {
	photo := sql.NullString{}
	if url, ok := rec.AttendancePhoto.Get(); ok {
		photo = sql.NullString{String: url, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_reports (`+reportColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (principal, day_key) DO UPDATE SET
			arrival_time = EXCLUDED.arrival_time,
			departure_time = EXCLUDED.departure_time,
			attendance_score = EXCLUDED.attendance_score,
			class_control_score = EXCLUDED.class_control_score,
			teacher_control_score = EXCLUDED.teacher_control_score,
			wali_santri_response_score = EXCLUDED.wali_santri_response_score,
			program_problem_solving_score = EXCLUDED.program_problem_solving_score,
			total_score = EXCLUDED.total_score,
			catatan_presensi = EXCLUDED.catatan_presensi,
			catatan_amatan_kelas = EXCLUDED.catatan_amatan_kelas,
			catatan_monitoring_guru = EXCLUDED.catatan_monitoring_guru,
			catatan_wali_santri = EXCLUDED.catatan_wali_santri,
			catatan_permasalahan_program = EXCLUDED.catatan_permasalahan_program,
			attendance_photo = EXCLUDED.attendance_photo,
			updated_at = NOW()
	`,
		rec.Principal, int64(rec.DayKey), rec.ArrivalTime, rec.DepartureTime,
		rec.AttendanceScore, rec.ClassControlScore, rec.TeacherControlScore,
		rec.WaliSantriResponseScore, rec.ProgramProblemSolvingScore, rec.TotalScore,
		rec.CatatanPresensi, rec.CatatanAmatanKelas, rec.CatatanMonitoringGuru,
		rec.CatatanWaliSantri, rec.CatatanPermasalahanProgram, photo,
	)
	return err
}

// GetSchool returns a principal's school profile, Absent when unregistered.
func (r *Repository) GetSchool(ctx context.Context, principal string) (option.Option[report.School], error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT principal, name, region, principal_name, active
		FROM schools WHERE principal = $1
	`, principal)
	var s report.School
	if err := row.Scan(&s.Principal, &s.Name, &s.Region, &s.PrincipalName, &s.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return option.None[report.School](), nil
		}
		return option.None[report.School](), err
	}
	return option.Some(s), nil
}

// UpsertSchool creates or updates a school profile.
func (r *Repository) UpsertSchool(ctx context.Context, s report.School) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schools (principal, name, region, principal_name, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal) DO UPDATE SET
			name = EXCLUDED.name,
			region = EXCLUDED.region,
			principal_name = EXCLUDED.principal_name,
			active = EXCLUDED.active,
			updated_at = NOW()
	`, s.Principal, s.Name, s.Region, s.PrincipalName, s.Active)
	return err
}

// RosterForDate returns every active school with its report for the day,
// Absent report when not yet submitted.
func (r *Repository) RosterForDate(ctx context.Context, day daykey.DayKey) ([]report.RosterRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.principal, s.name, s.region, s.principal_name, s.active,
			r.principal, r.day_key, r.arrival_time, r.departure_time,
			r.attendance_score, r.class_control_score, r.teacher_control_score,
			r.wali_santri_response_score, r.program_problem_solving_score, r.total_score,
			r.catatan_presensi, r.catatan_amatan_kelas, r.catatan_monitoring_guru,
			r.catatan_wali_santri, r.catatan_permasalahan_program, r.attendance_photo
		FROM schools s
		LEFT JOIN daily_reports r ON r.principal = s.principal AND r.day_key = $1
		WHERE s.active
		ORDER BY COALESCE(r.total_score, -1) DESC, s.name
	`, int64(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roster []report.RosterRow
	for rows.Next() {
		var (
			s     report.School
			rp    sql.NullString
			dk    sql.NullInt64
			arr   sql.NullInt64
			dep   sql.NullInt64
			sc    [6]sql.NullInt64
			notes [5]sql.NullString
			photo sql.NullString
		)
		if err := rows.Scan(
			&s.Principal, &s.Name, &s.Region, &s.PrincipalName, &s.Active,
			&rp, &dk, &arr, &dep,
			&sc[0], &sc[1], &sc[2], &sc[3], &sc[4], &sc[5],
			&notes[0], &notes[1], &notes[2], &notes[3], &notes[4], &photo,
		); err != nil {
			return nil, err
		}
		row := report.RosterRow{Principal: s.Principal, School: s, Report: option.None[report.Record]()}
		if rp.Valid {
			rec := report.Record{
				Principal:                  rp.String,
				DayKey:                     daykey.DayKey(dk.Int64),
				ArrivalTime:                arr.Int64,
				DepartureTime:              dep.Int64,
				AttendanceScore:            int(sc[0].Int64),
				ClassControlScore:          int(sc[1].Int64),
				TeacherControlScore:        int(sc[2].Int64),
				WaliSantriResponseScore:    int(sc[3].Int64),
				ProgramProblemSolvingScore: int(sc[4].Int64),
				TotalScore:                 int(sc[5].Int64),
				CatatanPresensi:            notes[0].String,
				CatatanAmatanKelas:         notes[1].String,
				CatatanMonitoringGuru:      notes[2].String,
				CatatanWaliSantri:          notes[3].String,
				CatatanPermasalahanProgram: notes[4].String,
			}
			if photo.Valid && photo.String != "" {
				rec.AttendancePhoto = option.Some(photo.String)
			}
			row.Report = option.Some(rec)
		}
		roster = append(roster, row)
	}
	return roster, rows.Err()
}

// RankedForDate returns submitted reports for the day ordered by total score.
func (r *Repository) RankedForDate(ctx context.Context, day daykey.DayKey) ([]report.RankedReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM daily_reports
		WHERE day_key = $1
		ORDER BY total_score DESC, principal
	`, int64(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranked []report.RankedReport
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, report.RankedReport{Principal: rec.Principal, Report: rec})
	}
	return ranked, rows.Err()
}

// ActiveSchoolsCount counts registered active schools.
func (r *Repository) ActiveSchoolsCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schools WHERE active`).Scan(&n)
	return n, err
}

// ActiveSchoolsList returns all registered active schools.
func (r *Repository) ActiveSchoolsList(ctx context.Context) ([]report.SchoolSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT principal, name, region, principal_name, active
		FROM schools WHERE active ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []report.SchoolSummary
	for rows.Next() {
		var s report.School
		if err := rows.Scan(&s.Principal, &s.Name, &s.Region, &s.PrincipalName, &s.Active); err != nil {
			return nil, err
		}
		list = append(list, report.SchoolSummary{Principal: s.Principal, School: s})
	}
	return list, rows.Err()
}

// GetRole returns the stored role for a principal; unknown principals are
// guests.
func (r *Repository) GetRole(ctx context.Context, principal string) (report.Role, error) {
	var role report.Role
	err := r.db.QueryRowContext(ctx, `
		SELECT role FROM user_roles WHERE principal = $1
	`, principal).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return report.RoleGuest, nil
	}
	if err != nil {
		return report.RoleGuest, err
	}
	if !role.Valid() {
		return report.RoleGuest, nil
	}
	return role, nil
}

// SetRole grants a role to a principal.
func (r *Repository) SetRole(ctx context.Context, principal string, role report.Role) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_roles (principal, role)
		VALUES ($1, $2)
		ON CONFLICT (principal) DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()
	`, principal, role)
	return err
}

// GetProfile returns a principal's identity metadata, Absent when never set.
func (r *Repository) GetProfile(ctx context.Context, principal string) (option.Option[report.Profile], error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT principal, name, email FROM profiles WHERE principal = $1
	`, principal)
	var p report.Profile
	if err := row.Scan(&p.Principal, &p.Name, &p.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return option.None[report.Profile](), nil
		}
		return option.None[report.Profile](), err
	}
	return option.Some(p), nil
}

// UpsertProfile creates or updates identity metadata.
func (r *Repository) UpsertProfile(ctx context.Context, p report.Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (principal, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			updated_at = NOW()
	`, p.Principal, p.Name, p.Email)
	return err
}

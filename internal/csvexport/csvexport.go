// Package csvexport renders a per-date roster as CSV for download. Column
// headers match the dashboard's reporting language; absent report fields are
// rendered as the "-" sentinel so a row exists for every school whether or
// not it submitted.
package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/report"
)

// FilenamePrefix is the conventional prefix for exported roster files.
const FilenamePrefix = "laporan-harian"

var headers = []string{
	"Nama Sekolah",
	"Wilayah",
	"Nama Kepala Sekolah",
	"Principal ID",
	"Status Laporan",
	"Skor Total",
	"Skor Kehadiran",
	"Skor Kontrol Kelas",
	"Skor Kontrol Guru",
	"Skor Respon Wali Santri",
	"Skor Program & Problem Solving",
	"Jam Datang",
	"Jam Pulang",
	"Foto Kehadiran",
	"Catatan Presensi",
	"Catatan Kontrol Kelas",
	"Catatan Kontrol Guru",
	"Catatan Wali Santri",
	"Catatan Program",
}

// Filename returns the conventional download name for a day's export,
// e.g. "laporan-harian-2026-02-16.csv".
func Filename(day daykey.DayKey) string {
	return fmt.Sprintf("%s-%s.csv", FilenamePrefix, day.String())
}

// WriteRoster writes the roster as RFC 4180 CSV. encoding/csv handles the
// quoting of fields containing commas, quotes or newlines.
func WriteRoster(w io.Writer, rows []report.RosterRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(rosterLine(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func rosterLine(row report.RosterRow) []string {
	rec, submitted := row.Report.Get()
	status := "Belum Lapor"
	if submitted {
		status = "Sudah Lapor"
	}
	return []string{
		row.School.Name,
		row.School.Region,
		row.School.PrincipalName,
		row.Principal,
		status,
		score(rec.TotalScore, submitted),
		score(rec.AttendanceScore, submitted),
		score(rec.ClassControlScore, submitted),
		score(rec.TeacherControlScore, submitted),
		score(rec.WaliSantriResponseScore, submitted),
		score(rec.ProgramProblemSolvingScore, submitted),
		clock(rec.ArrivalTime, submitted),
		clock(rec.DepartureTime, submitted),
		orDash(rec.AttendancePhoto.OrZero(), submitted),
		orDash(rec.CatatanPresensi, submitted),
		orDash(rec.CatatanAmatanKelas, submitted),
		orDash(rec.CatatanMonitoringGuru, submitted),
		orDash(rec.CatatanWaliSantri, submitted),
		orDash(rec.CatatanPermasalahanProgram, submitted),
	}
}

func score(v int, submitted bool) string {
	if !submitted {
		return "0"
	}
	return strconv.Itoa(v)
}

func clock(ns int64, submitted bool) string {
	if !submitted || ns == 0 {
		return "-"
	}
	return daykey.TimestampToTimeOfDay(ns)
}

func orDash(s string, submitted bool) string {
	if !submitted || s == "" {
		return "-"
	}
	return s
}

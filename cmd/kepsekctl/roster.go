package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kepsekreport/internal/csvexport"
	"kepsekreport/internal/daykey"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Show the monitoring roster for a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := selectedDay()
		if err != nil {
			return err
		}
		rows, err := newStore().RosterForDate(cmd.Context(), day)
		if err != nil {
			return err
		}

		fmt.Printf("Roster for %s (%d schools)\n\n", day, len(rows))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEKOLAH\tKEPALA SEKOLAH\tSTATUS\tNILAI\tDATANG\tPULANG")
		for _, row := range rows {
			status, total, arrival, departure := "Belum Lapor", "-", "-", "-"
			if rec, ok := row.Report.Get(); ok {
				status = "Sudah Lapor"
				total = fmt.Sprintf("%d", rec.TotalScore)
				arrival = orDash(daykey.TimestampToTimeOfDay(rec.ArrivalTime))
				departure = orDash(daykey.TimestampToTimeOfDay(rec.DepartureTime))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				row.School.Name, row.School.PrincipalName, status, total, arrival, departure)
		}
		return w.Flush()
	},
}

var rankingsCmd = &cobra.Command{
	Use:   "rankings",
	Short: "Show submitted reports ranked by score",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := selectedDay()
		if err != nil {
			return err
		}
		ranked, err := newStore().ReportsRankedForDate(cmd.Context(), day)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tKEPALA SEKOLAH\tNILAI")
		for i, r := range ranked {
			fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, r.Principal, r.Report.TotalScore)
		}
		return w.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the roster for a day to a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := selectedDay()
		if err != nil {
			return err
		}
		rows, err := newStore().RosterForDate(cmd.Context(), day)
		if err != nil {
			return err
		}

		out, err := cmd.Flags().GetString("out")
		if err != nil {
			return err
		}
		if out == "" {
			out = csvexport.Filename(day)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := csvexport.WriteRoster(f, rows); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("wrote %d rows to %s\n", len(rows), out)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the role attached to the configured token",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := newStore().CallerRole(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(role)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output file (default laporan-harian-<date>.csv)")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

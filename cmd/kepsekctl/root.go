package main

import (
	"os"

	"github.com/spf13/cobra"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/remote"
)

var (
	apiURL   string
	apiToken string
	dateFlag string
)

var rootCmd = &cobra.Command{
	Use:           "kepsekctl",
	Short:         "Admin CLI for the daily principal report service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("KEPSEK_API_URL", "http://localhost:8081"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("KEPSEK_API_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().StringVar(&dateFlag, "date", "", "report date as YYYY-MM-DD (default today)")

	rootCmd.AddCommand(rosterCmd, rankingsCmd, exportCmd, whoamiCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newStore() *remote.HTTPStore {
	return remote.NewHTTPStore(apiURL, apiToken)
}

func selectedDay() (daykey.DayKey, error) {
	if dateFlag == "" {
		return daykey.Today(), nil
	}
	t, err := daykey.ParseDateInput(dateFlag)
	if err != nil {
		return 0, err
	}
	return daykey.StartOfDay(t), nil
}

package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ragpdf/internal/client"
)

var (
	backendURL string
	eventKey   string
)

var rootCmd = &cobra.Command{
	Use:   "ragcli",
	Short: "Client for the ragpdf workflow backend",
	Long: `ragcli drives the ragpdf backend: it sends PDFs off for ingestion,
asks questions against the ingested chunks and inspects the workflow
runs the backend creates for each event.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend-url",
		envOr("RAGPDF_BACKEND_URL", "http://127.0.0.1:8080"), "base URL of the ragpdf server")
	rootCmd.PersistentFlags().StringVar(&eventKey, "event-key",
		envOr("RAGPDF_EVENT_KEY", "dev"), "event key for the intake endpoint")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(backendURL, eventKey)
}

// progressPrinter rewrites one terminal line with a bar driven by the
// elapsed/timeout ratio, not backend progress.
func progressPrinter(cmd *cobra.Command) func(status string, progress float64) {
	const width = 30
	return func(status string, progress float64) {
		filled := int(progress * width)
		if filled > width {
			filled = width
		}
		bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
		cmd.Printf("\r[%s] %3.0f%% %s", bar, progress*100, status)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

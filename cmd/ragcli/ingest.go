package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ragpdf/internal/client"
	"ragpdf/internal/rag"
)

var (
	ingestSourceID string
	ingestTimeout  time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [pdf-path]",
	Short: "Ingest a PDF into the vector store",
	Long: `Sends a rag/ingest_pdf event for the given file and waits for the
backend to finish loading, chunking, embedding and upserting it.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSourceID, "source-id", "", "source id for the document (default: file name)")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 120*time.Second, "how long to wait for the run to finish")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	pdfPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve path failed: %w", err)
	}
	if _, err := os.Stat(pdfPath); err != nil {
		return fmt.Errorf("cannot read %s: %w", pdfPath, err)
	}

	sourceID := ingestSourceID
	if sourceID == "" {
		sourceID = filepath.Base(pdfPath)
	}

	c := newClient()
	ctx := cmd.Context()

	eventID, err := c.Send(ctx, rag.EventIngestPDF, rag.IngestEvent{
		PDFPath:  pdfPath,
		SourceID: sourceID,
	})
	if err != nil {
		return err
	}
	cmd.Printf("Event %s accepted, ingesting %s...\n", eventID, sourceID)

	result := c.WaitOutput(ctx, eventID, client.WaitOptions{
		Timeout: ingestTimeout,
		OnPoll:  progressPrinter(cmd),
	})
	cmd.Println()
	if !result.Success {
		return fmt.Errorf("ingest failed: %s", result.Err)
	}

	ingested := 0
	if n, ok := result.Output["ingested"].(float64); ok {
		ingested = int(n)
	}
	cmd.Printf("Ingested %d chunks from %s\n", ingested, sourceID)
	return nil
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ragpdf/internal/client"
	"ragpdf/internal/rag"
)

var (
	queryTopK    int
	queryTimeout time.Duration
	queryJSON    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question against the ingested documents",
	Long: `Sends a rag/query_pdf_ai event and waits for the answer the LLM
generates from the retrieved chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 5, "number of chunks to retrieve")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 120*time.Second, "how long to wait for the run to finish")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the raw run output as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(args[0])
	if question == "" {
		return errors.New("question is empty")
	}

	c := newClient()
	ctx := cmd.Context()

	eventID, err := c.Send(ctx, rag.EventQueryPDF, rag.QueryEvent{
		Question: question,
		TopK:     queryTopK,
	})
	if err != nil {
		return err
	}

	result := c.WaitOutput(ctx, eventID, client.WaitOptions{
		Timeout: queryTimeout,
		OnPoll:  progressPrinter(cmd),
	})
	cmd.Println()
	if !result.Success {
		return fmt.Errorf("query failed: %s", result.Err)
	}

	if queryJSON {
		data, err := json.MarshalIndent(result.Output, "", "  ")
		if err != nil {
			return fmt.Errorf("encode output failed: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	answer, _ := result.Output["answer"].(string)
	if answer == "" {
		answer = "No answer"
	}
	cmd.Println("Answer:")
	cmd.Println(answer)

	if sources, ok := result.Output["sources"].([]interface{}); ok && len(sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for _, source := range sources {
			cmd.Printf("  - %v\n", source)
		}
	}
	return nil
}

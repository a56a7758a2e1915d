package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend health and registered functions",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	c := newClient()
	ctx := cmd.Context()

	report, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("backend down: %w", err)
	}

	app, _ := report["app"].(string)
	env, _ := report["env"].(string)
	cmd.Printf("Backend: %s (%s) at %s\n", app, env, backendURL)

	if deps, ok := report["dependencies"].(map[string]interface{}); ok {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			status, _ := deps[name].(map[string]interface{})
			if ok, _ := status["ok"].(bool); ok {
				cmd.Printf("  %-10s ok\n", name)
				continue
			}
			message, _ := status["message"].(string)
			cmd.Printf("  %-10s down (%s)\n", name, message)
		}
	}

	flowReport, err := c.Introspect(ctx)
	if err != nil {
		return err
	}
	functions, _ := flowReport["functions"].([]interface{})
	cmd.Printf("Functions: %d\n", len(functions))
	for _, raw := range functions {
		fn, _ := raw.(map[string]interface{})
		id, _ := fn["id"].(string)
		event, _ := fn["event"].(string)
		cmd.Printf("  %-18s event=%s\n", id, event)
	}
	return nil
}

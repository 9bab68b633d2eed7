package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// journalEntry mirrors the gateway's sync journal JSON.
type journalEntry struct {
	ID         uint      `json:"id"`
	Tag        string    `json:"tag"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	Pending    int       `json:"pending"`
	Submitted  int       `json:"submitted"`
	Synced     int       `json:"synced"`
	Rejected   int       `json:"rejected"`
	Errors     int       `json:"errors"`
}

// journalResponse mirrors the gateway's journal list JSON.
type journalResponse struct {
	Entries   []journalEntry `json:"entries"`
	TotalSize int            `json:"totalSize"`
}

func newJournalCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent reconciliation passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")

	return cmd
}

func runJournal(limit int) error {
	path := fmt.Sprintf("/api/v1/journal?limit=%d", limit)

	body, err := globalClient.doRequest("GET", path, nil)
	if err != nil {
		return err
	}

	var journal journalResponse
	if err := json.Unmarshal(body, &journal); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		headers := []string{"ID", "Trigger", "Started", "Pending", "Synced", "Rejected", "Errors", "Duration"}
		var rows [][]string
		for _, e := range journal.Entries {
			rows = append(rows, []string{
				fmt.Sprintf("%d", e.ID),
				e.Trigger,
				e.StartedAt.Format(time.RFC3339),
				fmt.Sprintf("%d", e.Pending),
				fmt.Sprintf("%d", e.Synced),
				fmt.Sprintf("%d", e.Rejected),
				fmt.Sprintf("%d", e.Errors),
				fmt.Sprintf("%dms", e.DurationMS),
			})
		}
		return printTable(os.Stdout, headers, rows)
	}

	return printOutput(os.Stdout, format, journal, nil, nil)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// itemResult mirrors the gateway's per-record sync result JSON.
type itemResult struct {
	RecordID uint          `json:"recordId"`
	Chave    string        `json:"chave"`
	Outcome  string        `json:"outcome"`
	ServerID int64         `json:"serverId,omitempty"`
	Status   int           `json:"status,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// passResult mirrors the gateway's sync pass result JSON.
type passResult struct {
	Tag       string        `json:"tag"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Pending   int           `json:"pending"`
	Submitted int           `json:"submitted"`
	Synced    int           `json:"synced"`
	Rejected  int           `json:"rejected"`
	Errors    int           `json:"errors"`
	Items     []itemResult  `json:"items,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a reconciliation pass now",
		Long: `Run one reconciliation pass: every pending form record is submitted to
the backend and marked synced on acceptance. The pass runs synchronously
and its result is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync()
		},
	}
}

func runSync() error {
	body, err := globalClient.doRequest("POST", "/api/v1/sync", nil)
	if err != nil {
		return err
	}

	var result passResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		fmt.Fprintln(os.Stdout, "Sync pass completed")
		fmt.Fprintf(os.Stdout, "  Pending:   %d\n", result.Pending)
		fmt.Fprintf(os.Stdout, "  Submitted: %d\n", result.Submitted)
		fmt.Fprintf(os.Stdout, "  Synced:    %d\n", result.Synced)
		fmt.Fprintf(os.Stdout, "  Rejected:  %d\n", result.Rejected)
		fmt.Fprintf(os.Stdout, "  Errors:    %d\n", result.Errors)
		fmt.Fprintf(os.Stdout, "  Duration:  %s\n", result.Duration)
		if result.Error != "" {
			fmt.Fprintf(os.Stdout, "  Error:     %s\n", result.Error)
		}

		if len(result.Items) > 0 {
			fmt.Fprintln(os.Stdout)
			headers := []string{"Record", "Chave", "Outcome", "Server ID", "Error"}
			var rows [][]string
			for _, item := range result.Items {
				serverID := "-"
				if item.ServerID != 0 {
					serverID = fmt.Sprintf("%d", item.ServerID)
				}
				errMsg := "-"
				if item.Error != "" {
					errMsg = truncate(item.Error, 40)
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", item.RecordID),
					item.Chave,
					item.Outcome,
					serverID,
					errMsg,
				})
			}
			return printTable(os.Stdout, headers, rows)
		}
		return nil
	}

	return printOutput(os.Stdout, format, result, nil, nil)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// statusResponse mirrors the gateway's status endpoint JSON.
type statusResponse struct {
	State            string   `json:"state"`
	Bucket           string   `json:"bucket"`
	Online           bool     `json:"online"`
	Uptime           string   `json:"uptime"`
	PendingRecords   int64    `json:"pendingRecords"`
	TotalRecords     int64    `json:"totalRecords"`
	BucketEntries    int      `json:"bucketEntries"`
	CoreAssets       int      `json:"coreAssets"`
	CoreAssetsFailed int      `json:"coreAssetsFailed"`
	EvictedBuckets   []string `json:"evictedBuckets"`
	CleanupError     string   `json:"cleanupError"`
}

// healthResponse mirrors the gateway's health endpoint response.
type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Long: `Show the status of the gateway: lifecycle state, connectivity,
bucket contents and the form queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	healthBody, err := globalClient.doRequest("GET", "/healthz", nil)
	if err != nil {
		return fmt.Errorf("checking gateway health: %w", err)
	}
	var health healthResponse
	if err := json.Unmarshal(healthBody, &health); err != nil {
		return fmt.Errorf("parsing health response: %w", err)
	}

	statusBody, err := globalClient.doRequest("GET", "/api/v1/status", nil)
	if err != nil {
		return fmt.Errorf("fetching gateway status: %w", err)
	}
	var status statusResponse
	if err := json.Unmarshal(statusBody, &status); err != nil {
		return fmt.Errorf("parsing status response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		online := "no"
		if status.Online {
			online = "yes"
		}
		fmt.Fprintf(os.Stdout, "Gateway:  %s\n", gatewayURL)
		fmt.Fprintf(os.Stdout, "Health:   %s\n", health.Status)
		fmt.Fprintf(os.Stdout, "State:    %s\n", status.State)
		fmt.Fprintf(os.Stdout, "Online:   %s\n", online)
		fmt.Fprintf(os.Stdout, "Uptime:   %s\n", status.Uptime)
		fmt.Fprintf(os.Stdout, "Bucket:   %s (%d entries)\n", status.Bucket, status.BucketEntries)
		fmt.Fprintf(os.Stdout, "Records:  %d total, %d pending\n", status.TotalRecords, status.PendingRecords)
		if status.CoreAssetsFailed > 0 {
			fmt.Fprintf(os.Stdout, "Assets:   %d installed, %d FAILED\n", status.CoreAssets-status.CoreAssetsFailed, status.CoreAssetsFailed)
		}
		if len(status.EvictedBuckets) > 0 {
			fmt.Fprintf(os.Stdout, "Evicted:  %v\n", status.EvictedBuckets)
		}
		if status.CleanupError != "" {
			fmt.Fprintf(os.Stdout, "Cleanup:  INCOMPLETE: %s\n", status.CleanupError)
		}
		return nil
	}

	combined := map[string]any{
		"gateway": gatewayURL,
		"health":  health,
		"status":  status,
	}
	return printOutput(os.Stdout, format, combined, nil, nil)
}

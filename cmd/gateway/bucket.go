package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// bucketResponse mirrors the gateway's bucket listing JSON.
type bucketResponse struct {
	Bucket    string   `json:"bucket"`
	URLs      []string `json:"urls"`
	TotalSize int      `json:"totalSize"`
}

// warmResponse mirrors the gateway's bucket warm JSON.
type warmResponse struct {
	Bucket  string `json:"bucket"`
	Warmed  int    `json:"warmed"`
	Results []struct {
		URL   string `json:"url"`
		Error string `json:"error,omitempty"`
	} `json:"results"`
}

func newBucketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Inspect and seed the response bucket",
	}

	cmd.AddCommand(newBucketListCmd())
	cmd.AddCommand(newBucketWarmCmd())

	return cmd
}

func newBucketListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bucket entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBucketList()
		},
	}
}

func runBucketList() error {
	body, err := globalClient.doRequest("GET", "/api/v1/bucket", nil)
	if err != nil {
		return err
	}

	var bucket bucketResponse
	if err := json.Unmarshal(body, &bucket); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		fmt.Fprintf(os.Stdout, "Bucket: %s (%d entries)\n\n", bucket.Bucket, bucket.TotalSize)
		for _, u := range bucket.URLs {
			fmt.Fprintf(os.Stdout, "  %s\n", u)
		}
		return nil
	}

	return printOutput(os.Stdout, format, bucket, nil, nil)
}

func newBucketWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm <url>...",
		Short: "Fetch URLs into the bucket",
		Long: `Fetch the given URLs and store the responses in the current bucket.
Relative URLs are fetched from the origin; absolute URLs are fetched
directly, which is how CDN assets are seeded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBucketWarm(args)
		},
	}
}

func runBucketWarm(urls []string) error {
	payload, err := json.Marshal(map[string]any{"urls": urls})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	body, err := globalClient.doRequest("POST", "/api/v1/bucket/warm", bytes.NewReader(payload))
	if err != nil {
		return err
	}

	var warm warmResponse
	if err := json.Unmarshal(body, &warm); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		fmt.Fprintf(os.Stdout, "Warmed %d/%d into %s\n", warm.Warmed, len(warm.Results), warm.Bucket)
		for _, res := range warm.Results {
			if res.Error != "" {
				fmt.Fprintf(os.Stdout, "  FAILED %s: %s\n", res.URL, res.Error)
			}
		}
		return nil
	}

	return printOutput(os.Stdout, format, warm, nil, nil)
}

// Package main provides the gateway CLI binary for managing a running
// formulario gateway. It is a management-plane tool that communicates with
// the gateway's admin HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	gatewayURL   string
	outputFlag   string
	globalClient *gatewayClient
)

// gatewayClient wraps an HTTP client and the gateway base URL.
type gatewayClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// newGatewayClient creates a new client targeting the given gateway URL.
func newGatewayClient(baseURL string) *gatewayClient {
	return &gatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
}

// doRequest performs an HTTP request and returns the response body bytes.
// It returns an error if the status code indicates a failure.
func (c *gatewayClient) doRequest(method, path string, body io.Reader) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("sending request", "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to gateway at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Try to extract error message from JSON response
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("gateway error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "CLI for the formulario offline gateway",
		Long: `gateway is a command-line tool for managing a running formulario gateway.

It provides commands for inspecting the gateway state, listing and creating
queued form records, triggering sync passes, reading the sync journal, and
managing the response bucket.

The CLI communicates with the gateway's admin HTTP API.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize the global client
			globalClient = newGatewayClient(gatewayURL)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "server", "http://localhost:8090", "Gateway URL")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")

	// Register subcommands
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRecordsCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newJournalCmd())
	rootCmd.AddCommand(newBucketCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

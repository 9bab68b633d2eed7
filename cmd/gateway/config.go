package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the gateway's effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig()
		},
	}
}

func runConfig() error {
	body, err := globalClient.doRequest("GET", "/api/v1/config", nil)
	if err != nil {
		return err
	}

	var cfg map[string]any
	if err := json.Unmarshal(body, &cfg); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	// Table output makes no sense for a nested config; default to YAML.
	if format == outputTable {
		format = outputYAML
	}

	return printOutput(os.Stdout, format, cfg, nil, nil)
}

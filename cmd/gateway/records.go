package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// formRecord mirrors the gateway's record JSON.
type formRecord struct {
	ID          uint       `json:"id"`
	Cliente     string     `json:"cliente"`
	Equipamento string     `json:"equipamento"`
	Servico     string     `json:"servico"`
	Observacoes string     `json:"observacoes"`
	Synced      bool       `json:"synced"`
	UniqueKey   string     `json:"chave"`
	ServerID    *int64     `json:"serverId,omitempty"`
	SyncedAt    *time.Time `json:"syncedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// recordsResponse mirrors the gateway's record list JSON.
type recordsResponse struct {
	Records   []formRecord `json:"records"`
	TotalSize int          `json:"totalSize"`
}

func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage queued form records",
		Long:  "List, inspect and create the locally queued service-form records.",
	}

	cmd.AddCommand(newRecordsListCmd())
	cmd.AddCommand(newRecordsGetCmd())
	cmd.AddCommand(newRecordsCreateCmd())

	return cmd
}

func newRecordsListCmd() *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List form records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsList(pending)
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "Only records not yet accepted by the backend")

	return cmd
}

func runRecordsList(pending bool) error {
	path := "/api/v1/records"
	if pending {
		path += "?pending=true"
	}

	body, err := globalClient.doRequest("GET", path, nil)
	if err != nil {
		return err
	}

	var list recordsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		headers := []string{"ID", "Cliente", "Servico", "Synced", "Server ID", "Created"}
		var rows [][]string
		for _, r := range list.Records {
			synced := "no"
			if r.Synced {
				synced = "yes"
			}
			serverID := "-"
			if r.ServerID != nil {
				serverID = fmt.Sprintf("%d", *r.ServerID)
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", r.ID),
				truncate(r.Cliente, 30),
				truncate(r.Servico, 30),
				synced,
				serverID,
				r.CreatedAt.Format(time.RFC3339),
			})
		}
		return printTable(os.Stdout, headers, rows)
	}

	return printOutput(os.Stdout, format, list, nil, nil)
}

func newRecordsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one form record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsGet(args[0])
		},
	}
}

func runRecordsGet(id string) error {
	body, err := globalClient.doRequest("GET", "/api/v1/records/"+id, nil)
	if err != nil {
		return err
	}

	var rec formRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		fmt.Fprintf(os.Stdout, "ID:          %d\n", rec.ID)
		fmt.Fprintf(os.Stdout, "Cliente:     %s\n", rec.Cliente)
		fmt.Fprintf(os.Stdout, "Equipamento: %s\n", rec.Equipamento)
		fmt.Fprintf(os.Stdout, "Servico:     %s\n", rec.Servico)
		if rec.Observacoes != "" {
			fmt.Fprintf(os.Stdout, "Observacoes: %s\n", rec.Observacoes)
		}
		fmt.Fprintf(os.Stdout, "Chave:       %s\n", rec.UniqueKey)
		if rec.Synced {
			serverID := "-"
			if rec.ServerID != nil {
				serverID = fmt.Sprintf("%d", *rec.ServerID)
			}
			syncedAt := "-"
			if rec.SyncedAt != nil {
				syncedAt = rec.SyncedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(os.Stdout, "Synced:      yes (server ID %s at %s)\n", serverID, syncedAt)
		} else {
			fmt.Fprintln(os.Stdout, "Synced:      no")
		}
		fmt.Fprintf(os.Stdout, "Created:     %s\n", rec.CreatedAt.Format(time.RFC3339))
		return nil
	}

	return printOutput(os.Stdout, format, rec, nil, nil)
}

func newRecordsCreateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a form record",
		Long: `Queue a new service-form record on the gateway. The record JSON is read
from --file, or from stdin when --file is "-".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsCreate(file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the record JSON (use - for stdin)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runRecordsCreate(file string) error {
	var (
		payload []byte
		err     error
	)
	if file == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("reading record payload: %w", err)
	}

	body, err := globalClient.doRequest("POST", "/api/v1/records", bytes.NewReader(payload))
	if err != nil {
		return err
	}

	var rec formRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}

	if format == outputTable {
		fmt.Fprintf(os.Stdout, "Record %d queued (chave %s)\n", rec.ID, rec.UniqueKey)
		return nil
	}

	return printOutput(os.Stdout, format, rec, nil, nil)
}

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// IngestRequest represents the ingestion intake API request.
type IngestRequest struct {
	Scope      string `json:"scope"`
	ClientCode string `json:"client_code,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Text       string `json:"text"`
	InputName  string `json:"input_name,omitempty"`
}

// IngestResponse represents the intake API response.
type IngestResponse struct {
	Ingestion struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		InputHash string `json:"input_hash"`
	} `json:"ingestion"`
	AlreadyExists bool `json:"already_exists"`
}

// IngestCmd creates the ingest command.
func IngestCmd() *cobra.Command {
	var (
		scope      string
		clientCode string
		text       string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Submit raw content for knowledge synthesis",
		Long: `Submits raw text for asynchronous synthesis into knowledge items.

Reads from the given file, from --text, or from stdin. Synthesis runs in the
background; resulting items start as drafts and need approval before they are
retrievable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return runIngest(file, text, scope, clientCode, name, outputJSON)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "standard", "Target scope (standard|client)")
	cmd.Flags().StringVarP(&clientCode, "client", "c", "", "Client code (required for client scope)")
	cmd.Flags().StringVar(&text, "text", "", "Inline text to ingest")
	cmd.Flags().StringVar(&name, "name", "", "Input name recorded for provenance")

	return cmd
}

func runIngest(file, text, scope, clientCode, name string, outputJSON bool) error {
	if file != "" && text != "" {
		return fmt.Errorf("pass either a file or --text, not both")
	}

	kind := "text"
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		text = string(data)
		if name == "" {
			name = filepath.Base(file)
		}
		switch strings.ToLower(filepath.Ext(file)) {
		case ".pdf":
			kind = "pdf"
		case ".docx":
			kind = "docx"
		}
	case text == "":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to ingest")
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	if scope == "client" {
		clientCode = resolveClient(clientCode)
	}

	resp, err := api.Post("/ingestions", IngestRequest{
		Scope:      scope,
		ClientCode: clientCode,
		Kind:       kind,
		Text:       text,
		InputName:  name,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	var result IngestResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if result.AlreadyExists {
		fmt.Printf("Already ingested (id: %s, status: %s)\n", result.Ingestion.ID, result.Ingestion.Status)
	} else {
		fmt.Printf("Queued for synthesis (id: %s)\n", result.Ingestion.ID)
	}
	return nil
}

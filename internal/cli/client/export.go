package client

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ExportCmd creates the chat session export command.
func ExportCmd() *cobra.Command {
	var format string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export <session_id>",
		Short: "Export a chat session",
		Long:  "Exports a chat session as Markdown or JSON, to stdout or a file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(args[0], format, outputPath)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format (markdown|json)")
	cmd.Flags().StringVarP(&outputPath, "out", "o", "", "Write to file instead of stdout")

	return cmd
}

func runExport(sessionID, format, outputPath string) error {
	if format != "markdown" && format != "json" {
		return fmt.Errorf("format must be markdown or json")
	}

	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	body, _, err := api.GetRaw(fmt.Sprintf("/chat/sessions/%s/export?format=%s", sessionID, format))
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if outputPath == "" {
		fmt.Print(string(body))
		return nil
	}

	if err := os.WriteFile(outputPath, body, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Printf("Exported session %s to %s\n", sessionID, outputPath)
	return nil
}

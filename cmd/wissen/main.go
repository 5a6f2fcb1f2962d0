package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stadtwerk-labs/wissen/internal/cli"
	"github.com/stadtwerk-labs/wissen/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "wissen",
		Short: "Wissen CLI - SAP IS-U knowledge base",
		Long: `Wissen CLI provides commands to feed, review and query the knowledge base.

Environment variables:
  WISSEN_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.InitCmd())
	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.GetCmd())
	rootCmd.AddCommand(client.ApproveCmd())
	rootCmd.AddCommand(client.RejectCmd())
	rootCmd.AddCommand(client.ClientsCmd())
	rootCmd.AddCommand(client.ExportCmd())
	rootCmd.AddCommand(client.ReconcileCmd())
	rootCmd.AddCommand(client.SweepCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stadtwerk-labs/wissen/internal/cli"
	"github.com/stadtwerk-labs/wissen/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wissend",
		Short: "Wissen daemon",
		Long:  "Wissen daemon for running the knowledge base API server and its background workers",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// KnowledgeItem represents a knowledge item from the API.
type KnowledgeItem struct {
	ID         string   `json:"id"`
	Scope      string   `json:"scope"`
	ClientCode string   `json:"client_code,omitempty"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	ContentMD  string   `json:"content_md"`
	Tags       []string `json:"tags"`
	SAPObjects []string `json:"sap_objects"`
	Version    int      `json:"version"`
	Current    bool     `json:"current"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

// GetCmd creates the get command.
func GetCmd() *cobra.Command {
	var showVersions bool

	cmd := &cobra.Command{
		Use:     "get <knowledge_id>",
		Short:   "Get a knowledge item by ID",
		Long:    "Retrieves the current version of a knowledge item, or its full version history with --versions.",
		Aliases: []string{"view"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if showVersions {
				return runGetVersions(args[0], outputJSON)
			}
			return runGet(args[0], outputJSON)
		},
	}

	cmd.Flags().BoolVar(&showVersions, "versions", false, "Show the full version history")

	return cmd
}

func runGet(knowledgeID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/knowledge/%s", knowledgeID))
	if err != nil {
		return fmt.Errorf("failed to get knowledge item: %w", err)
	}

	var item KnowledgeItem
	if err := json.Unmarshal(resp.Data, &item); err != nil {
		return fmt.Errorf("failed to parse knowledge item: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(item, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Title: %s\n", item.Title)
	fmt.Printf("Type: %s\n", item.Type)
	fmt.Printf("Status: %s\n", item.Status)
	if item.ClientCode != "" {
		fmt.Printf("Client: %s\n", item.ClientCode)
	} else {
		fmt.Printf("Scope: %s\n", item.Scope)
	}
	fmt.Printf("Version: %d\n", item.Version)
	if len(item.Tags) > 0 {
		fmt.Printf("Tags: %s\n", strings.Join(item.Tags, ", "))
	}
	if len(item.SAPObjects) > 0 {
		fmt.Printf("SAP objects: %s\n", strings.Join(item.SAPObjects, ", "))
	}
	fmt.Printf("Created: %s\n", item.CreatedAt)
	fmt.Printf("Updated: %s\n", item.UpdatedAt)
	fmt.Println()
	fmt.Println("--- Content ---")
	fmt.Println(item.ContentMD)

	return nil
}

func runGetVersions(knowledgeID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/knowledge/%s/versions", knowledgeID))
	if err != nil {
		return fmt.Errorf("failed to get version history: %w", err)
	}

	var versions []KnowledgeItem
	if err := json.Unmarshal(resp.Data, &versions); err != nil {
		return fmt.Errorf("failed to parse version history: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(versions, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%d version(s):\n\n", len(versions))
	for _, v := range versions {
		marker := " "
		if v.Current {
			marker = "*"
		}
		fmt.Printf("%s v%d  %s  %s  (updated %s)\n", marker, v.Version, v.Status, v.Title, v.UpdatedAt)
	}

	return nil
}

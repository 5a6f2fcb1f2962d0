package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// ListItemResponse represents a single knowledge item in the list response.
type ListItemResponse struct {
	ID         string   `json:"id"`
	Scope      string   `json:"scope"`
	ClientCode string   `json:"client_code,omitempty"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	Version    int      `json:"version"`
	Status     string   `json:"status"`
	UpdatedAt  string   `json:"updated_at"`
}

// ListAPIResponse represents the knowledge list API response.
type ListAPIResponse struct {
	Items   []ListItemResponse `json:"items"`
	Cursor  string             `json:"cursor,omitempty"`
	HasMore bool               `json:"has_more"`
}

// ListCmd creates the knowledge list command.
func ListCmd() *cobra.Command {
	var (
		scope      string
		clientCode string
		itemType   string
		status     string
		limit      int
		cursor     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge items",
		Long:  "Lists current knowledge item versions with filtering by scope, client, type and status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runList(scope, clientCode, itemType, status, limit, cursor, outputJSON)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Filter by scope (standard|client)")
	cmd.Flags().StringVarP(&clientCode, "client", "c", "", "Filter by client code")
	cmd.Flags().StringVarP(&itemType, "type", "t", "", "Filter by knowledge type")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (DRAFT|APPROVED|REJECTED)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runList(scope, clientCode, itemType, status string, limit int, cursor string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	params := url.Values{}
	if scope != "" {
		params.Set("scope", scope)
	}
	if clientCode != "" {
		params.Set("client_code", clientCode)
	}
	if itemType != "" {
		params.Set("type", itemType)
	}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	path := "/knowledge"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	var listResp ListAPIResponse
	if err := json.Unmarshal(resp.Data, &listResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(listResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(listResp.Items) == 0 {
		fmt.Println("No items found.")
		return nil
	}

	fmt.Printf("Found %d items:\n\n", len(listResp.Items))
	for i, item := range listResp.Items {
		fmt.Printf("%d. %s [%s]\n", i+1, item.Title, item.Type)
		if item.ClientCode != "" {
			fmt.Printf("   Client: %s\n", item.ClientCode)
		} else {
			fmt.Printf("   Scope: %s\n", item.Scope)
		}
		fmt.Printf("   Status: %s, Version: %d\n", item.Status, item.Version)
		if len(item.Tags) > 0 {
			fmt.Printf("   Tags: %s\n", strings.Join(item.Tags, ", "))
		}
		if item.UpdatedAt != "" {
			fmt.Printf("   Updated: %s\n", item.UpdatedAt)
		}
		fmt.Printf("   ID: %s\n", item.ID)
		if i < len(listResp.Items)-1 {
			fmt.Println(strings.Repeat("-", 40))
		}
	}

	if listResp.HasMore && listResp.Cursor != "" {
		fmt.Printf("\n%s\n", strings.Repeat("-", 40))
		fmt.Printf("More results available. Use --cursor %s\n", listResp.Cursor)
	}

	return nil
}

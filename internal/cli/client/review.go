package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ApproveResponse represents the approve API response.
type ApproveResponse struct {
	Item       KnowledgeItem `json:"item"`
	Indexed    bool          `json:"indexed"`
	IndexError string        `json:"index_error,omitempty"`
}

// ApproveCmd creates the approve command.
func ApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <knowledge_id>",
		Short: "Approve a knowledge item",
		Long:  "Approves a draft knowledge item and indexes it for retrieval.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runApprove(args[0], outputJSON)
		},
	}
}

func runApprove(knowledgeID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post(fmt.Sprintf("/knowledge/%s/approve", knowledgeID), nil)
	if err != nil {
		return fmt.Errorf("approve failed: %w", err)
	}

	var result ApproveResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Approved %s (v%d)\n", result.Item.ID, result.Item.Version)
	if result.Indexed {
		fmt.Println("Indexed for retrieval.")
	} else {
		fmt.Printf("Approved but not indexed: %s\n", result.IndexError)
		fmt.Println("The reconcile worker will re-index it.")
	}
	return nil
}

// RejectCmd creates the reject command.
func RejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <knowledge_id>",
		Short: "Reject a knowledge item",
		Long:  "Rejects a knowledge item and removes it from the retrieval index.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runReject(args[0], outputJSON)
		},
	}
}

func runReject(knowledgeID string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post(fmt.Sprintf("/knowledge/%s/reject", knowledgeID), nil)
	if err != nil {
		return fmt.Errorf("reject failed: %w", err)
	}

	var item KnowledgeItem
	if err := json.Unmarshal(resp.Data, &item); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(item, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Rejected %s (v%d)\n", item.ID, item.Version)
	return nil
}

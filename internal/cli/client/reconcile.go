package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ReconcileResult represents the reconcile API response.
type ReconcileResult struct {
	CollectionsChecked int `json:"collections_checked"`
	ApprovedItems      int `json:"approved_items"`
	Missing            int `json:"missing"`
	Reindexed          int `json:"reindexed"`
	ReindexFailures    int `json:"reindex_failures"`
	StalePoints        []struct {
		Collection string `json:"collection"`
		PointID    string `json:"point_id"`
	} `json:"stale_points"`
}

// ReconcileCmd creates the reconcile command.
func ReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the vector index against the record store",
		Long: `Re-indexes approved items missing from the vector index and reports stale
index points. Stale points are reported only, never deleted automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runReconcile(outputJSON)
		},
	}
}

func runReconcile(outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/admin/reconcile", nil)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	var result ReconcileResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Collections checked: %d\n", result.CollectionsChecked)
	fmt.Printf("Approved items: %d\n", result.ApprovedItems)
	fmt.Printf("Missing from index: %d (re-indexed %d, failed %d)\n",
		result.Missing, result.Reindexed, result.ReindexFailures)
	if len(result.StalePoints) > 0 {
		fmt.Printf("Stale index points (%d):\n", len(result.StalePoints))
		for _, p := range result.StalePoints {
			fmt.Printf("  %s / %s\n", p.Collection, p.PointID)
		}
	} else {
		fmt.Println("No stale index points.")
	}
	return nil
}

// SweepCmd creates the session sweep command.
func SweepCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired chat sessions",
		Long:  "Deletes unpinned chat sessions idle longer than the retention window. Pinned sessions are never purged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runSweep(days, outputJSON)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Retention window in days (7, 15 or 30)")

	return cmd
}

func runSweep(days int, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/admin/sweep-sessions", map[string]int{"retention_days": days})
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	var result struct {
		Purged int `json:"purged"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Purged %d session(s)\n", result.Purged)
	return nil
}

package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ClientInfo represents a registered client from the API.
type ClientInfo struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// ClientsCmd creates the clients command group.
func ClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage registered clients",
	}

	cmd.AddCommand(clientsAddCmd())
	cmd.AddCommand(clientsListCmd())

	return cmd
}

func clientsAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <code>",
		Short: "Register a client",
		Long:  "Registers a client code so client-scoped knowledge and ingestions can reference it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runClientsAdd(args[0], name, outputJSON)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the client")

	return cmd
}

func runClientsAdd(code, name string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	if name == "" {
		name = code
	}

	resp, err := api.Post("/clients", map[string]string{"code": code, "name": name})
	if err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}

	var info ClientInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Registered client %s (%s)\n", info.Code, info.Name)
	return nil
}

func clientsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runClientsList(outputJSON)
		},
	}
}

func runClientsList(outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get("/clients")
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}

	var clients []ClientInfo
	if err := json.Unmarshal(resp.Data, &clients); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(clients, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(clients) == 0 {
		fmt.Println("No clients registered.")
		return nil
	}

	for _, c := range clients {
		fmt.Printf("%s  %s  (since %s)\n", c.Code, c.Name, c.CreatedAt)
	}
	return nil
}

package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func InitCmd() *cobra.Command {
	var apiURL string
	var defaultClient string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Configure the wissen CLI",
		Long:  "Writes the global CLI configuration: API base URL and an optional default client code.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runInit(apiURL, defaultClient, outputJSON)
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "API base URL (default: http://localhost:8080)")
	cmd.Flags().StringVar(&defaultClient, "client", "", "Default client code for scoped commands")

	return cmd
}

func runInit(apiURL, defaultClient string, outputJSON bool) error {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	config := &GlobalConfig{
		APIURL:        apiURL,
		DefaultClient: defaultClient,
	}
	if err := SaveGlobalConfig(config); err != nil {
		return err
	}

	configPath, _ := GetConfigPath()

	if outputJSON {
		result := map[string]interface{}{
			"success": true,
			"api_url": apiURL,
			"config":  configPath,
		}
		if defaultClient != "" {
			result["default_client"] = defaultClient
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Config saved to %s\n", configPath)
		fmt.Printf("API URL: %s\n", apiURL)
		if defaultClient != "" {
			fmt.Printf("Default client: %s\n", defaultClient)
		}
	}

	return nil
}

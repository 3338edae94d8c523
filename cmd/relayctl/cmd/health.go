package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the thought relay service",
	Long:  `Check the health status of the thought relay service via its /healthz endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", "/healthz", nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		// /healthz returns the status document on both 200 and 503.
		var status struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
			Signing string `json:"signing"`
			Archive bool   `json:"archive"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			fmt.Printf("✗ Service is unhealthy (HTTP %d)\n", resp.StatusCode)
			return nil
		}

		if outputJSON {
			printOutput(status)
			return nil
		}

		if resp.StatusCode == 200 && status.OK {
			fmt.Println("✓ Service is healthy")
		} else {
			fmt.Printf("✗ Service is unhealthy (HTTP %d)\n", resp.StatusCode)
		}
		if status.Message != "" {
			fmt.Printf("  message: %s\n", status.Message)
		}
		if status.Signing != "" {
			fmt.Printf("  signing: %s\n", status.Signing)
		}
		if status.Archive {
			fmt.Println("  archive: reachable")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// thinkCmd represents the think command
var thinkCmd = &cobra.Command{
	Use:   "think [category] [text]",
	Short: "Submit a thought for delivery",
	Long: `Submit a thought to the relay. The thought is signed, queued, and
delivered to the automation endpoint configured for its category.

Categories: idea, note, task, journal, sensitive

Example:
  relayctl think task "book dentist appointment for next week"
  relayctl think idea "a CLI that turns voice memos into tickets" --priority high`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category := args[0]
		text := args[1]

		expanded, _ := cmd.Flags().GetString("expanded")
		priority, _ := cmd.Flags().GetString("priority")
		subcategory, _ := cmd.Flags().GetString("subcategory")

		req := map[string]string{
			"category": category,
			"input":    text,
		}
		if expanded != "" {
			req["expanded"] = expanded
		}
		if priority != "" {
			req["priority"] = priority
		}
		if subcategory != "" {
			req["subcategory"] = subcategory
		}

		resp, err := makeHTTPRequest("POST", "/v1/thoughts", req)
		if err != nil {
			return fmt.Errorf("failed to submit thought: %w", err)
		}

		var result struct {
			DeliveryID string `json:"delivery_id"`
		}
		if err := decodeResponse(resp, &result); err != nil {
			return err
		}

		if outputJSON {
			printOutput(result)
		} else {
			fmt.Printf("Accepted thought: %s\n", result.DeliveryID)
			fmt.Printf("  Category: %s\n", category)
			if priority != "" {
				fmt.Printf("  Priority: %s\n", priority)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(thinkCmd)

	thinkCmd.Flags().String("expanded", "", "expanded text to deliver alongside the raw input")
	thinkCmd.Flags().String("priority", "", "queue priority: high, medium, or low (default medium)")
	thinkCmd.Flags().String("subcategory", "", "free-form subcategory tag")
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/austindbirch/thought_relay/internal/signing"
	"github.com/spf13/cobra"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify [payload-file]",
	Short: "Verify a delivery signature offline",
	Long: `Verify the HMAC-SHA256 signature of a delivered payload without
contacting the server.

Pass the raw request body exactly as received; re-encoding the JSON
changes the bytes and invalidates the signature. Use "-" to read the
payload from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signature, _ := cmd.Flags().GetString("signature")
		timestamp, _ := cmd.Flags().GetString("timestamp")
		tolerance, _ := cmd.Flags().GetDuration("tolerance")
		secret, _ := cmd.Flags().GetString("secret")

		if signature == "" {
			return fmt.Errorf("no signature provided (use --signature)")
		}
		if secret == "" {
			secret = os.Getenv("WEBHOOK_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("no secret provided (use --secret or WEBHOOK_SECRET)")
		}

		body, err := readPayload(args[0])
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}

		sig := strings.TrimPrefix(signature, "sha256=")
		if !signing.Verify(body, sig, secret) {
			return fmt.Errorf("signature mismatch")
		}
		fmt.Println("✓ Signature is valid")

		if timestamp != "" {
			if err := signing.ValidateTimestamp(timestamp, tolerance); err != nil {
				return fmt.Errorf("timestamp check failed: %w", err)
			}
			fmt.Printf("✓ Timestamp within %s tolerance\n", tolerance)
		}
		return nil
	},
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("signature", "", "signature header value, with or without the sha256= prefix")
	verifyCmd.Flags().String("timestamp", "", "timestamp header value to check against the tolerance window")
	verifyCmd.Flags().Duration("tolerance", signing.DefaultTolerance, "maximum timestamp age")
	verifyCmd.Flags().String("secret", "", "HMAC secret (falls back to WEBHOOK_SECRET)")
}

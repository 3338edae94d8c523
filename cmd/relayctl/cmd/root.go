package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	serverAddr string
	timeout    time.Duration
	outputJSON bool
	prettyJSON bool
	jwtToken   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Thought Relay CLI - Interact with the thought relay service",
	Long: `Thought Relay CLI (relayctl) is a command line tool for interacting with
the thought-capture webhook relay.

You can use it to submit thoughts, inspect pipeline stats, check service
health, and verify signed webhook payloads locally.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.relayctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:8080", "server address (host:port or full URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")
	rootCmd.PersistentFlags().StringVar(&jwtToken, "token", "", "JWT token for authentication (overrides JWT_TOKEN env var)")

	// Bind flags to viper
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".relayctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	if !rootCmd.PersistentFlags().Changed("server") {
		if s := viper.GetString("server"); s != "" {
			serverAddr = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !rootCmd.PersistentFlags().Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
	if !rootCmd.PersistentFlags().Changed("token") {
		if t := viper.GetString("token"); t != "" {
			jwtToken = t
		} else if t := os.Getenv("JWT_TOKEN"); t != "" {
			jwtToken = t
		}
	}
}

// serverURL builds the request URL for path. A bare host:port gets the http
// scheme; a full URL in --server is used as-is.
func serverURL(server, path string) string {
	if strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://") {
		return strings.TrimRight(server, "/") + path
	}
	return fmt.Sprintf("http://%s%s", server, path)
}

// makeHTTPRequest makes an HTTP request to the relay API
func makeHTTPRequest(method, path string, body interface{}) (*http.Response, error) {
	client := &http.Client{Timeout: timeout}

	var bodyReader strings.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = *strings.NewReader(string(bodyBytes))
	}

	req, err := http.NewRequest(method, serverURL(serverAddr, path), &bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Add JWT token if available
	if jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+jwtToken)
	}

	return client.Do(req)
}

// decodeResponse decodes a JSON response body into v, surfacing the API's
// error envelope on non-2xx statuses.
func decodeResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, apiErr.Reason, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// checkJQAvailable checks if jq is available in PATH
func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

// formatWithJQ formats JSON using jq for pretty printing
func formatWithJQ(jsonData []byte) (string, error) {
	if !checkJQAvailable() {
		return "", fmt.Errorf("jq not found in PATH")
	}

	cmd := exec.Command("jq", ".")
	cmd.Stdin = bytes.NewReader(jsonData)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", stderr.String())
	}

	return out.String(), nil
}

// printOutput prints the response in the requested format
func printOutput(v interface{}) {
	if outputJSON {
		var jsonData []byte
		var err error

		if prettyJSON {
			// Compact JSON if we're going to format with jq
			jsonData, err = json.Marshal(v)
		} else {
			jsonData, err = json.MarshalIndent(v, "", "  ")
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}

		if prettyJSON {
			formatted, jqErr := formatWithJQ(jsonData)
			if jqErr != nil {
				// Fall back to standard pretty printing if jq fails
				fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
				jsonData, _ = json.MarshalIndent(v, "", "  ")
				fmt.Println(string(jsonData))
			} else {
				// Print jq-formatted output (already includes newline)
				fmt.Print(formatted)
			}
		} else {
			fmt.Println(string(jsonData))
		}
	} else {
		// Human-readable format
		fmt.Printf("%+v\n", v)
	}
}

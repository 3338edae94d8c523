package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// statsResponse mirrors the relay's /v1/stats snapshot closely enough for
// display; unknown fields are ignored so old CLIs keep working.
type statsResponse struct {
	QueueReady     int    `json:"queue_ready"`
	QueueDelayed   int    `json:"queue_delayed"`
	QueueLength    int    `json:"queue_length"`
	ActiveWorkers  int    `json:"active_workers"`
	MaxConcurrency int    `json:"max_concurrency"`
	Signing        string `json:"signing"`

	EnqueuedByCategory map[string]uint64 `json:"enqueued_by_category"`
	DeadLetters        uint64            `json:"dead_letters"`
	PerDestination     map[string]struct {
		Circuit struct {
			State               string        `json:"state"`
			ConsecutiveFailures int           `json:"consecutive_failures"`
			RetryAfter          time.Duration `json:"retry_after,omitempty"`
		} `json:"circuit"`
		RateRemaining int `json:"rate_remaining"`
	} `json:"per_destination"`
	Window struct {
		Span        time.Duration `json:"span"`
		Attempts    int           `json:"attempts"`
		Successes   int           `json:"successes"`
		Failures    int           `json:"failures"`
		SuccessRate float64       `json:"success_rate"`
		AvgDuration time.Duration `json:"avg_duration"`
		Health      string        `json:"health"`
	} `json:"window"`
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the pipeline's operational snapshot",
	Long: `Fetch the relay's stats snapshot: queue depth, worker utilization,
per-destination circuit and rate-limit state, and the rolling success window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", "/v1/stats", nil)
		if err != nil {
			return fmt.Errorf("failed to fetch stats: %w", err)
		}

		var stats statsResponse
		if err := decodeResponse(resp, &stats); err != nil {
			return err
		}

		if outputJSON {
			printOutput(stats)
			return nil
		}

		fmt.Printf("Queue: %d pending (%d ready, %d delayed)\n", stats.QueueLength, stats.QueueReady, stats.QueueDelayed)
		fmt.Printf("Workers: %d/%d active\n", stats.ActiveWorkers, stats.MaxConcurrency)
		fmt.Printf("Signing: %s\n", stats.Signing)
		fmt.Printf("Dead letters: %d\n", stats.DeadLetters)

		if len(stats.EnqueuedByCategory) > 0 {
			fmt.Printf("\nEnqueued by category:\n")
			cats := make([]string, 0, len(stats.EnqueuedByCategory))
			for c := range stats.EnqueuedByCategory {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				fmt.Printf("  %-10s %d\n", c, stats.EnqueuedByCategory[c])
			}
		}

		if len(stats.PerDestination) > 0 {
			fmt.Printf("\nDestinations:\n")
			urls := make([]string, 0, len(stats.PerDestination))
			for u := range stats.PerDestination {
				urls = append(urls, u)
			}
			sort.Strings(urls)
			for _, u := range urls {
				d := stats.PerDestination[u]
				fmt.Printf("  %s\n", u)
				fmt.Printf("    circuit: %s", d.Circuit.State)
				if d.Circuit.ConsecutiveFailures > 0 {
					fmt.Printf(" (%d consecutive failures)", d.Circuit.ConsecutiveFailures)
				}
				if d.Circuit.RetryAfter > 0 {
					fmt.Printf(", retry in %s", d.Circuit.RetryAfter)
				}
				fmt.Printf("\n    rate remaining: %d\n", d.RateRemaining)
			}
		}

		fmt.Printf("\nWindow (%s): %s, %d attempts, %.1f%% success, avg %s\n",
			stats.Window.Span,
			stats.Window.Health,
			stats.Window.Attempts,
			stats.Window.SuccessRate*100,
			stats.Window.AvgDuration,
		)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

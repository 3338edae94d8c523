package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NSQStats represents the JSON structure returned by NSQ stats API
type NSQStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

var (
	// Total dead-letter backlog - what we really care about
	dlqBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thoughtrelay_dlq_backlog",
		Help: "Number of dead-lettered deliveries parked on the DLQ topic",
	})

	// Channel-specific metrics
	channelDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "thoughtrelay_nsq_channel_depth",
		Help: "Depth of NSQ channels by topic and channel",
	}, []string{"topic", "channel"})

	channelInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "thoughtrelay_nsq_channel_inflight",
		Help: "In-flight messages for NSQ channels by topic and channel",
	}, []string{"topic", "channel"})
)

func init() {
	prometheus.MustRegister(dlqBacklog)
	prometheus.MustRegister(channelDepth)
	prometheus.MustRegister(channelInflight)
}

func main() {
	nsqdHost := getEnv("NSQD_HOST", "nsqd:4151")
	port := getEnv("PORT", "8084")
	topic := getEnv("NSQ_DLQ_TOPIC", "relay_dlq")
	interval := getEnvInt("POLL_INTERVAL_SECONDS", 15)

	log.Printf("DLQ monitor starting on port %s", port)
	log.Printf("Watching topic %q on %s every %d seconds", topic, nsqdHost, interval)

	// Start metrics collection in background
	go collectMetrics(nsqdHost, topic, time.Duration(interval)*time.Second)

	// Expose metrics endpoint
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	log.Fatal(http.ListenAndServe(":"+port, nil))
}

func collectMetrics(nsqdHost, topic string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := updateMetrics(nsqdHost, topic); err != nil {
			log.Printf("Error updating metrics: %v", err)
		}
	}
}

func updateMetrics(nsqdHost, topic string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHost))
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()

	var stats NSQStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}

	// Update metrics
	for _, t := range stats.Topics {
		if t.TopicName != topic {
			continue
		}

		// With no consumers the backlog sits on the topic; once a channel
		// exists messages drain into it, so count the deepest channel too.
		var deepest int64
		for _, channel := range t.Channels {
			if channel.Depth > deepest {
				deepest = channel.Depth
			}
			channelDepth.WithLabelValues(t.TopicName, channel.ChannelName).Set(float64(channel.Depth))
			channelInflight.WithLabelValues(t.TopicName, channel.ChannelName).Set(float64(channel.InFlightCount))
		}
		dlqBacklog.Set(float64(t.Depth + deepest))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

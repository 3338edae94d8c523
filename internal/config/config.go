package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/austindbirch/thought_relay/internal/category"
)

// Destination is the automation endpoint configured for one category.
type Destination struct {
	URL   string // POST target
	Token string // optional bearer token the endpoint expects
}

// Pipeline holds the dispatcher and retry knobs.
type Pipeline struct {
	MaxConcurrency int           // dispatch worker pool size
	QueueCapacity  int           // pending task bound; non-positive uses the default
	BaseBackoff    time.Duration // first retry delay, doubled per attempt
	MaxBackoff     time.Duration // retry delay cap
	JitterPct      int           // 0-100; 0 keeps the schedule exact
	GlobalRate     float64       // total egress requests/second, 0 = unlimited
}

// RateLimit holds the per-destination admission window knobs.
type RateLimit struct {
	Window        time.Duration // admission window length
	Max           int           // requests admitted per destination per window
	SweepInterval time.Duration // how often expired windows are reclaimed
}

// Breaker holds the per-destination circuit breaker knobs.
type Breaker struct {
	Threshold int           // consecutive failures before opening
	Cooldown  time.Duration // open duration before a half-open trial
}

// Webhook holds the outbound wire conventions: signing secrets, header names
// and the replay-defense tolerance shared with receiving endpoints.
type Webhook struct {
	SignatureHeader    string
	TimestampHeader    string
	NonceHeader        string
	TimestampTolerance time.Duration
}

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// Archive selects where terminal delivery outcomes are persisted.
type Archive struct {
	Driver     string // memory | postgres | sqlite | none
	SQLitePath string
	DB         DB // postgres driver only
}

// DLQ configures optional dead-letter publishing to NSQ.
type DLQ struct {
	Publish     bool
	NsqdTCPAddr string // e.g. nsqd:4150
	Topic       string
}

// Auth configures optional bearer-token validation on the producer API.
// Empty PublicKeyPEM disables auth entirely.
type Auth struct {
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

// FakeEndpoint configures the test destination binary.
type FakeEndpoint struct {
	FailFirstN      int           // requests to fail with 500 before succeeding
	Secret          string        // HMAC secret for signature verification
	Tolerance       time.Duration // allowed timestamp skew
	ResponseDelayMS int           // simulated processing delay
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

type Config struct {
	AppName  string
	Version  string
	HTTPPort string // :8080

	Destinations map[category.Category]Destination
	Secrets      map[category.Category]string
	Profiles     map[category.Category]category.Profile

	MetricsWindow time.Duration

	Pipeline     Pipeline
	RateLimit    RateLimit
	Breaker      Breaker
	Webhook      Webhook
	Archive      Archive
	DLQ          DLQ
	Auth         Auth
	FakeEndpoint FakeEndpoint
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envKey renders a category as its env-var segment: sensitive -> SENSITIVE.
func envKey(cat category.Category) string {
	return strings.ToUpper(cat.String())
}

// destinationsFromEnv reads DEST_<CATEGORY>_URL and DEST_<CATEGORY>_TOKEN for
// every known category. Categories without a URL are left unconfigured;
// Enqueue rejects them synchronously.
func destinationsFromEnv() map[category.Category]Destination {
	dests := make(map[category.Category]Destination)
	for _, cat := range category.All() {
		url := getenv("DEST_"+envKey(cat)+"_URL", "")
		if url == "" {
			continue
		}
		dests[cat] = Destination{
			URL:   url,
			Token: getenv("DEST_"+envKey(cat)+"_TOKEN", ""),
		}
	}
	return dests
}

// secretsFromEnv resolves the HMAC secret per category: WEBHOOK_SECRET_<CAT>
// wins over the shared WEBHOOK_SECRET. Categories resolving to no secret at
// all deliver unsigned (degraded mode, reported through health).
func secretsFromEnv() map[category.Category]string {
	shared := getenv("WEBHOOK_SECRET", "")
	secrets := make(map[category.Category]string)
	for _, cat := range category.All() {
		if s := getenv("WEBHOOK_SECRET_"+envKey(cat), shared); s != "" {
			secrets[cat] = s
		}
	}
	return secrets
}

// profilesFromEnv starts from the built-in per-category profiles and applies
// MAX_ATTEMPTS_<CAT> and HTTP_TIMEOUT_<CAT> overrides.
func profilesFromEnv() map[category.Category]category.Profile {
	profiles := category.DefaultProfiles()
	for cat, p := range profiles {
		p.MaxAttempts = getenvInt("MAX_ATTEMPTS_"+envKey(cat), p.MaxAttempts)
		p.HTTPTimeout = getenvDuration("HTTP_TIMEOUT_"+envKey(cat), p.HTTPTimeout)
		profiles[cat] = p
	}
	return profiles
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "thought-relay"),
		Version:  getenv("SERVICE_VERSION", "dev"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),

		Destinations: destinationsFromEnv(),
		Secrets:      secretsFromEnv(),
		Profiles:     profilesFromEnv(),

		MetricsWindow: getenvDuration("METRICS_WINDOW", 5*time.Minute),

		Pipeline: Pipeline{
			MaxConcurrency: getenvInt("MAX_CONCURRENCY", 5),
			QueueCapacity:  getenvInt("QUEUE_CAPACITY", 1024),
			BaseBackoff:    getenvDuration("BASE_BACKOFF", 1*time.Second),
			MaxBackoff:     getenvDuration("MAX_BACKOFF", 5*time.Minute),
			JitterPct:      getenvInt("RETRY_JITTER_PCT", 0),
			GlobalRate:     getenvFloat("GLOBAL_RATE", 0),
		},
		RateLimit: RateLimit{
			Window:        getenvDuration("RATE_WINDOW", 60*time.Second),
			Max:           getenvInt("RATE_MAX", 20),
			SweepInterval: getenvDuration("SWEEP_INTERVAL", 5*time.Minute),
		},
		Breaker: Breaker{
			Threshold: getenvInt("BREAKER_THRESHOLD", 5),
			Cooldown:  getenvDuration("BREAKER_COOLDOWN", 60*time.Second),
		},
		Webhook: Webhook{
			SignatureHeader:    getenv("WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"),
			TimestampHeader:    getenv("WEBHOOK_TIMESTAMP_HEADER", "X-Webhook-Timestamp"),
			NonceHeader:        getenv("WEBHOOK_NONCE_HEADER", "X-Webhook-Nonce"),
			TimestampTolerance: getenvDuration("TIMESTAMP_TOLERANCE", 5*time.Minute),
		},
		Archive: Archive{
			Driver:     getenv("ARCHIVE_DRIVER", "memory"),
			SQLitePath: getenv("ARCHIVE_SQLITE_PATH", "thought_relay.db"),
			DB: DB{
				User: getenv("DB_USER", "postgres"),
				Pass: getenv("DB_PASS", "postgres"),
				Host: getenv("DB_HOST", "postgres"),
				Port: getenv("DB_PORT", "5432"),
				Name: getenv("DB_NAME", "thought_relay"),
			},
		},
		DLQ: DLQ{
			Publish:     getenvBool("DLQ_PUBLISH", false),
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			Topic:       getenv("NSQ_DLQ_TOPIC", "relay_dlq"),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("AUTH_JWT_PUBLIC_KEY", ""),
			Issuer:       getenv("AUTH_JWT_ISSUER", "thought-relay"),
			Audience:     getenv("AUTH_JWT_AUDIENCE", "thought-relay-api"),
		},
		FakeEndpoint: FakeEndpoint{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			Secret:          getenv("ENDPOINT_SECRET", ""),
			Tolerance:       getenvDuration("ENDPOINT_TOLERANCE", 5*time.Minute),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_ENDPOINT_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_ENDPOINT_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_ENDPOINT_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_ENDPOINT_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

// UserAgent is the outbound User-Agent header value.
func (c Config) UserAgent() string {
	return fmt.Sprintf("%s/%s", c.AppName, c.Version)
}

// DSN renders the postgres connection string for the archive driver.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.Archive.DB.User, c.Archive.DB.Pass, c.Archive.DB.Host, c.Archive.DB.Port, c.Archive.DB.Name)
}

// Package config provides noderecon's configuration from flags and
// environment, in the same envOr/flag.*Var layering the teacher uses.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds noderecon's process configuration. Values come from flags,
// env vars, or defaults, in that priority order.
type Config struct {
	// CRIEndpoint is the CRI runtime's unix socket (env: CRI_ENDPOINT).
	CRIEndpoint string

	// TargetSource selects the desired-state source: "static", "k8s" or
	// "nats" (env: TARGET_SOURCE).
	TargetSource string

	// NodeName restricts the k8s target source to pods scheduled to this
	// node (env: NODE_NAME).
	NodeName string

	// Namespace restricts the k8s target source's informer, empty means
	// every namespace (env: NAMESPACE).
	Namespace string

	// KubeConfig is the path to kubeconfig file (env: KUBECONFIG). Empty
	// means use in-cluster config.
	KubeConfig string

	// NatsURL is the NATS server URL for the nats target source (env:
	// NATS_URL).
	NatsURL string

	// NatsToken is the optional NATS auth token (env: NATS_TOKEN).
	NatsToken string

	// NatsSubject is the JetStream subject carrying target deployment
	// messages (env: NATS_SUBJECT).
	NatsSubject string

	// NatsConsumerName is the durable JetStream consumer name (env:
	// NATS_CONSUMER_NAME).
	NatsConsumerName string

	// StatusAddr is the address the read-only /healthz and /state HTTP
	// server listens on (env: STATUS_ADDR). Empty disables the server.
	StatusAddr string

	// LogLevel controls log verbosity: debug, info, warn, error (env:
	// LOG_LEVEL).
	LogLevel string

	// Process constants (spec §6), all overridable for testing.
	StateRefreshInterval  time.Duration // STATE_REFRESH_INTERVAL
	EventsBufferMax       int           // EVENTS_BUFFER_MAX
	EventsFlushInterval   time.Duration // EVENTS_FLUSH_INTERVAL
	EventsRetryInterval   time.Duration // EVENTS_RETRY_INTERVAL
	TargetRefreshInterval time.Duration // TARGET_REFRESH_INTERVAL
	CRIRetryInterval      time.Duration // CRI_RETRY_INTERVAL

	// ImageCacheTTL bounds how long a successful image pull is trusted
	// without re-pulling (SPEC_FULL §4 enrichment). 0 disables caching.
	ImageCacheTTL time.Duration
}

// Parse reads configuration from flags and environment variables.
// Environment variables override defaults; flags override everything.
func Parse() *Config {
	cfg := &Config{
		CRIEndpoint:      envOr("CRI_ENDPOINT", "unix:///run/containerd/containerd.sock"),
		TargetSource:     envOr("TARGET_SOURCE", "static"),
		NodeName:         envOr("NODE_NAME", ""),
		Namespace:        envOr("NAMESPACE", ""),
		KubeConfig:       os.Getenv("KUBECONFIG"),
		NatsURL:          envOr("NATS_URL", "nats://localhost:4222"),
		NatsToken:        os.Getenv("NATS_TOKEN"),
		NatsSubject:      envOr("NATS_SUBJECT", "deployments.>"),
		NatsConsumerName: envOr("NATS_CONSUMER_NAME", "noderecon"),
		StatusAddr:       envOr("STATUS_ADDR", ":8080"),
		LogLevel:         envOr("LOG_LEVEL", "info"),

		StateRefreshInterval:  envDurationOr("STATE_REFRESH_INTERVAL", 20*time.Second),
		EventsBufferMax:       envIntOr("EVENTS_BUFFER_MAX", 100),
		EventsFlushInterval:   envDurationOr("EVENTS_FLUSH_INTERVAL", 4*time.Second),
		EventsRetryInterval:   envDurationOr("EVENTS_RETRY_INTERVAL", 5*time.Second),
		TargetRefreshInterval: envDurationOr("TARGET_REFRESH_INTERVAL", 15*time.Second),
		CRIRetryInterval:      envDurationOr("CRI_RETRY_INTERVAL", 200*time.Millisecond),

		ImageCacheTTL: envDurationOr("IMAGE_CACHE_TTL", 5*time.Minute),
	}

	flag.StringVar(&cfg.CRIEndpoint, "cri-endpoint", cfg.CRIEndpoint, "CRI runtime unix socket")
	flag.StringVar(&cfg.TargetSource, "target-source", cfg.TargetSource, "Target source: static, k8s, nats")
	flag.StringVar(&cfg.NodeName, "node-name", cfg.NodeName, "Node name for the k8s target source")
	flag.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Kubernetes namespace (empty for all)")
	flag.StringVar(&cfg.KubeConfig, "kubeconfig", cfg.KubeConfig, "Path to kubeconfig (empty for in-cluster)")
	flag.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "NATS server URL")
	flag.StringVar(&cfg.NatsSubject, "nats-subject", cfg.NatsSubject, "JetStream subject for target messages")
	flag.StringVar(&cfg.NatsConsumerName, "nats-consumer-name", cfg.NatsConsumerName, "Durable JetStream consumer name")
	flag.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "Address for the status HTTP server (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.Parse()

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Connector names for Config.Connector.
const (
	ConnectorJetstream = "jetstream"
	ConnectorRelay     = "relay"
)

// Config holds all configuration for the service.
type Config struct {
	// Hostname is the public hostname where this service is reachable (used for did:web).
	Hostname string

	// Port is the HTTP server port.
	Port int

	// ServiceDID is the identity of the bot account whose likes and commands are monitored.
	ServiceDID string

	// BotMention is the @handle prefix that addresses the bot in post text.
	BotMention string

	// SQLiteLocation is the path of the SQLite database file.
	SQLiteLocation string

	// SubscriptionEndpoint is the firehose WebSocket endpoint.
	SubscriptionEndpoint string

	// SubscriptionReconnectDelay is how long to wait before re-dialing after
	// a connection error.
	SubscriptionReconnectDelay time.Duration

	// Connector selects the push-based (jetstream) or cursor-tracking
	// (relay) event source.
	Connector string
}

// Load reads configuration from environment variables with sensible
// defaults, after loading a .env file if one is present.
func Load() (*Config, error) {
	godotenv.Load()

	port := 3000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
	}

	reconnectDelayMS := 3000
	if d := os.Getenv("FEEDGEN_SUBSCRIPTION_RECONNECT_DELAY"); d != "" {
		var err error
		reconnectDelayMS, err = strconv.Atoi(d)
		if err != nil {
			return nil, fmt.Errorf("invalid FEEDGEN_SUBSCRIPTION_RECONNECT_DELAY: %w", err)
		}
	}

	connector := envOrDefault("FEEDGEN_CONNECTOR", ConnectorJetstream)
	if connector != ConnectorJetstream && connector != ConnectorRelay {
		return nil, fmt.Errorf("invalid FEEDGEN_CONNECTOR %q: must be %q or %q",
			connector, ConnectorJetstream, ConnectorRelay)
	}

	hostname := envOrDefault("FEEDGEN_HOSTNAME", "example.com")

	return &Config{
		Hostname:                   hostname,
		Port:                       port,
		ServiceDID:                 envOrDefault("FEEDGEN_SERVICE_DID", "did:web:"+hostname),
		BotMention:                 envOrDefault("FEEDGEN_BOT_MENTION", "@"+hostname),
		SQLiteLocation:             envOrDefault("FIREHOSE_SQLITE_LOCATION", "gamebot.sqlite"),
		SubscriptionEndpoint:       envOrDefault("FEEDGEN_SUBSCRIPTION_ENDPOINT", "wss://bsky.network"),
		SubscriptionReconnectDelay: time.Duration(reconnectDelayMS) * time.Millisecond,
		Connector:                  connector,
	}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

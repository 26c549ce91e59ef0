// Package config loads the gateway's configuration from config.json
// (plus environment overrides) via spf13/viper, the way the teacher
// repository's apiserver loads its own config.json.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Backend enumerates the supported upstream chain backends. The process
// picks exactly one per run, selected by the first CLI positional argument.
type Backend string

const (
	BackendHardhat   Backend = "hardhat"
	BackendAnkr      Backend = "ankr"
	BackendSolana    Backend = "solana"
	BackendTron      Backend = "tron"
	BackendTonCenter Backend = "toncenter"
)

// ValidBackends lists every accepted backend name, in the order they are
// tried when printing the usage error.
var ValidBackends = []Backend{BackendHardhat, BackendAnkr, BackendSolana, BackendTron, BackendTonCenter}

// Server holds the transport-facing settings.
type Server struct {
	// JSONRPCBindAddress is where POST /jsonrpc and POST /ping listen.
	JSONRPCBindAddress string `mapstructure:"jsonrpc_bind_address"`

	// WebSocketBindAddress is where the subscribeAccount WS endpoint listens.
	// Defaults to ":8181" per spec.
	WebSocketBindAddress string `mapstructure:"ws_bind_address"`
}

// Upstream holds one chain backend's connection details.
type Upstream struct {
	// URI is the upstream node/provider endpoint. Required.
	URI string `mapstructure:"uri"`

	// APIKey is an optional provider API key (e.g. Ankr, TonCenter).
	APIKey string `mapstructure:"api_key"`

	// GraphQLAggregatorURI is only used by the Solana backend.
	GraphQLAggregatorURI string `mapstructure:"graphql_aggregator_uri"`

	// SolidityNodeURI is only used by the Tron backend, alongside URI
	// (the full node): transaction-info/receipt lookups prefer the
	// solidity node when configured, falling back to the full node.
	SolidityNodeURI string `mapstructure:"solidity_node_uri"`

	// BlockReadIntervalMS overrides the poller's wake period. Zero means
	// "use the per-backend default" (5000ms, 2000ms for Tron, 1000ms for
	// Solana).
	BlockReadIntervalMS int `mapstructure:"block_read_interval_ms"`
}

// Store configures the optional historical-query read-through cache.
type Store struct {
	MongoURI   string `mapstructure:"mongo_uri"`
	MongoDB    string `mapstructure:"mongo_db"`
	CacheBytes int    `mapstructure:"cache_bytes"`
}

// Config is the full process configuration.
type Config struct {
	Server    Server              `mapstructure:"server"`
	Upstreams map[string]Upstream `mapstructure:"upstreams"`
	Store     Store               `mapstructure:"store"`
}

// Load reads config.json from the working directory (and any
// CHAINGATEWAY_-prefixed environment overrides) into a Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.SetEnvPrefix("chaingateway")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.jsonrpc_bind_address", ":8080")
	v.SetDefault("server.ws_bind_address", ":8181")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("can not read config.json: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("can not parse configuration: %w", err)
	}

	return &cfg, nil
}

// UpstreamFor returns the Upstream block for the given backend, validating
// that a required URI was actually configured.
func (c *Config) UpstreamFor(b Backend) (Upstream, error) {
	u, ok := c.Upstreams[string(b)]
	if !ok || u.URI == "" {
		return Upstream{}, fmt.Errorf("missing required upstream uri for backend %q", b)
	}
	return u, nil
}

// ParseBackend validates a CLI-supplied backend name.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(name))
	for _, valid := range ValidBackends {
		if b == valid {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q; expected one of %v", name, ValidBackends)
}

// Package config loads the engine's runtime configuration from
// environment variables (spec §6) via spf13/viper, the teacher's own
// configuration dependency. The teacher's own pkg/config package
// arrived in the retrieval pack as test files only (see DESIGN.md), so
// this package is a fresh build against spec §6's variable list,
// following the binding style the teacher's cmd/thv/app commands use
// (viper.BindPFlag, viper.AutomaticEnv).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend selects the storage implementation.
type Backend string

// Supported storage backends.
const (
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
)

// Config is the fully resolved runtime configuration (spec §6: "backend
// selection, connection parameters, table/prefix overrides, TTL,
// thread-pool size, indexed properties, use-lookup-table toggle,
// devtest flag").
type Config struct {
	// Storage backend selection and connection.
	DatabaseBackend Backend
	SQLitePath      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	TablePrefix     string

	// Actor behavior.
	UniqueCreator        bool
	ForceEmailAsCreator  bool
	IndexedProperties    []string
	UseLookupTable       bool
	DevtestEnabled       bool

	// Trust/capability caching.
	CapabilitiesTTL time.Duration

	// Fan-out concurrency and delivery tuning.
	FanoutConcurrency         int64
	FanoutCompressionBytesMin int64
	FanoutMaxHighGranularity  int64
	FanoutSynchronous         bool

	// OAuth2 authorization server.
	OAuth2Issuer          string
	OAuth2SigningKeyPath  string
	GoogleClientID        string
	GoogleClientSecret    string
	GitHubClientID        string
	GitHubClientSecret    string

	// BotToken authenticates the app-level /bot callback (spec §6:
	// "bearer via configured bot token"). Empty disables the endpoint.
	BotToken string

	// HTTP server.
	ListenAddr string

	// SelfBaseURL is this node's own externally-reachable base URL
	// (spec §3: actor addresses are "{proto}{fqdn}/{actor_id}"), used to
	// build the baseuri embedded in outbound /trust requests and the
	// resource URLs advertised in low-granularity callbacks.
	SelfBaseURL string
}

const envPrefix = "ACTINGWEB"

func defaults(v *viper.Viper) {
	v.SetDefault("database_backend", string(BackendSQLite))
	v.SetDefault("sqlite_path", "")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "aw:")
	v.SetDefault("table_prefix", "aw_")

	v.SetDefault("unique_creator", false)
	v.SetDefault("force_email_as_creator", false)
	v.SetDefault("indexed_properties", []string{"email"})
	v.SetDefault("use_lookup_table", true)
	v.SetDefault("devtest_enabled", false)

	v.SetDefault("capabilities_ttl", "1h")

	v.SetDefault("fanout_concurrency", 32)
	v.SetDefault("fanout_compression_bytes_min", 1024)
	v.SetDefault("fanout_max_high_granularity_bytes", 65536)
	v.SetDefault("fanout_synchronous", false)

	v.SetDefault("oauth2_issuer", "http://localhost:8080")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("self_base_url", "http://localhost:8080")
}

// Load reads configuration from the process environment, following the
// teacher's viper.AutomaticEnv + BindPFlag idiom (cmd/thv/app/commands.go)
// generalized to a dedicated ACTINGWEB_ prefix so the engine's env vars
// never collide with a host application's own.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	defaults(v)

	ttl, err := time.ParseDuration(v.GetString("capabilities_ttl"))
	if err != nil {
		ttl = time.Hour
	}

	cfg := &Config{
		DatabaseBackend: Backend(strings.ToLower(v.GetString("database_backend"))),
		SQLitePath:      v.GetString("sqlite_path"),
		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		RedisPrefix:     v.GetString("redis_prefix"),
		TablePrefix:     v.GetString("table_prefix"),

		UniqueCreator:       v.GetBool("unique_creator"),
		ForceEmailAsCreator: v.GetBool("force_email_as_creator"),
		IndexedProperties:   v.GetStringSlice("indexed_properties"),
		UseLookupTable:      v.GetBool("use_lookup_table"),
		DevtestEnabled:      v.GetBool("devtest_enabled"),

		CapabilitiesTTL: ttl,

		FanoutConcurrency:         v.GetInt64("fanout_concurrency"),
		FanoutCompressionBytesMin: v.GetInt64("fanout_compression_bytes_min"),
		FanoutMaxHighGranularity:  v.GetInt64("fanout_max_high_granularity_bytes"),
		FanoutSynchronous:         v.GetBool("fanout_synchronous"),

		OAuth2Issuer:         v.GetString("oauth2_issuer"),
		OAuth2SigningKeyPath: v.GetString("oauth2_signing_key_path"),
		GoogleClientID:       v.GetString("google_client_id"),
		GoogleClientSecret:   v.GetString("google_client_secret"),
		GitHubClientID:       v.GetString("github_client_id"),
		GitHubClientSecret:   v.GetString("github_client_secret"),
		BotToken:             v.GetString("bot_token"),

		ListenAddr:  v.GetString("listen_addr"),
		SelfBaseURL: strings.TrimRight(v.GetString("self_base_url"), "/"),
	}
	return cfg, nil
}

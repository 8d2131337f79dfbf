package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for lexicon-gate.yaml/.yml
// in standard locations. The search requires an explicit YAML extension so
// the binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("lexicon-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: LEXICON_GATE_AUTH_ENABLED etc.
	viper.SetEnvPrefix("LEXICON_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a lexicon-gate config
// file with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".lexicon-gate"),
		"/etc/lexicon-gate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "lexicon-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Viper's AutomaticEnv does not see nested keys that are absent
// from the config file, so each overridable key is bound explicitly.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.host",
		"server.port",
		"server.environment",
		"server.docs_url",
		"server.policy_uri",
		"server.tos_uri",
		"logging.level",
		"auth.enabled",
		"auth.server_canonical_uri",
		"auth.auth_server_url",
		"auth.client_id",
		"auth.token_cache_seconds",
		"auth.max_token_age_seconds",
		"auth.require_audience_validation",
		"auth.verify_signatures",
		"rate_limit.enabled",
		"rate_limit.store",
		"rate_limit.redis_url",
		"rate_limit.default.window_ms",
		"rate_limit.default.max_requests",
		"rate_limit.tool.window_ms",
		"rate_limit.tool.max_requests",
		"validation.policy_file",
		"policy.rules_file",
		"safe_mode.enabled",
		"audit.enabled",
		"audit.db_path",
		"admin.api_key_hash",
		"observability.tracing_enabled",
		"fullstory.api_base_url",
		"fullstory.api_token",
		"fullstory.requests_per_second",
		"warehouse.platform",
		"warehouse.dsn",
	} {
		_ = viper.BindEnv(key)
	}
	// rate_limit.categories and rate_limit.tools are maps; configure
	// them through the YAML file.
}

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result. A validation failure here must
// abort process start.
func Load() (*Config, error) {
	cfg, err := LoadRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRaw reads the configuration file and applies defaults without
// validating, for callers that layer CLI flag overrides first.
func LoadRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file: continue with env vars and defaults only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or
// empty when running from environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

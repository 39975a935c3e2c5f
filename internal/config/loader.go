package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.AuthToken = expandEnvVars(cfg.Gateway.AuthToken)
}

// DefaultPath is used when no config file is given.
const DefaultPath = "fichabot.yaml"

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Pool.MaxSessions == 0 {
		cfg.Pool.MaxSessions = def.Pool.MaxSessions
	}
	if cfg.Pool.SessionTimeoutMinutes == 0 {
		cfg.Pool.SessionTimeoutMinutes = def.Pool.SessionTimeoutMinutes
	}
	if cfg.Pool.SweepIntervalSeconds == 0 {
		cfg.Pool.SweepIntervalSeconds = def.Pool.SweepIntervalSeconds
	}
	if cfg.Conversation.DisambiguationTTLMinutes == 0 {
		cfg.Conversation.DisambiguationTTLMinutes = def.Conversation.DisambiguationTTLMinutes
	}
	if cfg.Conversation.SweepIntervalSeconds == 0 {
		cfg.Conversation.SweepIntervalSeconds = def.Conversation.SweepIntervalSeconds
	}
	if cfg.Recovery.FailureThreshold == 0 {
		cfg.Recovery.FailureThreshold = def.Recovery.FailureThreshold
	}
	if cfg.Driver.BaseURL == "" {
		cfg.Driver.BaseURL = def.Driver.BaseURL
	}
	if cfg.Driver.TimeoutSeconds == 0 {
		cfg.Driver.TimeoutSeconds = def.Driver.TimeoutSeconds
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
}

// applyEnvOverrides reads FICHABOT_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FICHABOT_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("FICHABOT_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("FICHABOT_POOL_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pool.MaxSessions = n
		}
	}
	if v := os.Getenv("FICHABOT_DRIVER_BASE_URL"); v != "" {
		cfg.Driver.BaseURL = v
	}
	if v := os.Getenv("FICHABOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

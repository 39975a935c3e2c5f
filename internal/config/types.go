package config

// Config is the root configuration for fichabot.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway,omitempty"`
	Pool         PoolConfig         `yaml:"pool,omitempty"`
	Conversation ConversationConfig `yaml:"conversation,omitempty"`
	Recovery     RecoveryConfig     `yaml:"recovery,omitempty"`
	Driver       DriverConfig       `yaml:"driver,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
}

// GatewayConfig controls the gateway HTTP server.
type GatewayConfig struct {
	Port           int    `yaml:"port,omitempty"`
	Bind           string `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string `yaml:"customBindHost,omitempty"`
	AuthToken      string `yaml:"authToken,omitempty"` // empty disables auth
}

// PoolConfig bounds the automation session pool.
type PoolConfig struct {
	MaxSessions           int `yaml:"maxSessions,omitempty"`
	SessionTimeoutMinutes int `yaml:"sessionTimeoutMinutes,omitempty"`
	SweepIntervalSeconds  int `yaml:"sweepIntervalSeconds,omitempty"`
}

// ConversationConfig controls short-lived conversational state.
type ConversationConfig struct {
	DisambiguationTTLMinutes int `yaml:"disambiguationTTLMinutes,omitempty"`
	SweepIntervalSeconds     int `yaml:"sweepIntervalSeconds,omitempty"`
}

// RecoveryConfig controls forced session refresh after repeated failures.
type RecoveryConfig struct {
	FailureThreshold int `yaml:"failureThreshold,omitempty"`
}

// DriverConfig points at the browser-automation sidecar.
type DriverConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // ":memory:" for ephemeral
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

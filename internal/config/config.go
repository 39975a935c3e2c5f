package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Pool: PoolConfig{
			MaxSessions:           25,
			SessionTimeoutMinutes: 3,
			SweepIntervalSeconds:  30,
		},
		Conversation: ConversationConfig{
			DisambiguationTTLMinutes: 5,
			SweepIntervalSeconds:     60,
		},
		Recovery: RecoveryConfig{
			FailureThreshold: 2,
		},
		Driver: DriverConfig{
			BaseURL:        "http://127.0.0.1:9515",
			TimeoutSeconds: 60,
		},
		Store: StoreConfig{
			Path: "fichabot.db",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

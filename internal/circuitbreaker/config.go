package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// ConfigFromEnv returns breaker tuning, with the CB_* environment
// variables overriding the built-in defaults. These values seed the
// engine configuration's defaults, so they apply whenever neither the
// config file nor an ORCHESTRATOR_ override sets the breaker section.
func ConfigFromEnv() Config {
	return Config{
		FailureThreshold: getEnvInt("CB_FAILURE_THRESHOLD", 3),
		Cooldown:         getEnvDuration("CB_COOLDOWN", 60*time.Second),
	}
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

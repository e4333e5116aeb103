package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Engine run modes. Sim mode binds every manifest slot to the in-process
// simulated adapter; live mode requires real adapter factories to be
// registered before the engine starts.
const (
	EngineModeSim  = "sim"
	EngineModeLive = "live"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// LogLevel controls the global log verbosity (trace, debug, info, warn, error).
	LogLevel string
	// LogFormat selects the log output format ("console" or "json").
	LogFormat string

	// WebPort is the TCP port the operations API listens on.
	WebPort int
	// OperatorToken is the bearer token required on mutating API routes.
	OperatorToken string

	// EngineMode selects between the simulated and live adapter stacks.
	EngineMode string
	// BaseDenom is the vault accounting denomination.
	BaseDenom string
	// RebalanceSchedule is the cron spec for the periodic rebalance cycle.
	RebalanceSchedule string
	// StrategyManifest is the path to the YAML strategy roster.
	StrategyManifest string
	// PriceFeedURL is the HTTP price feed endpoint. Empty means the static
	// in-process oracle is used (always the case in sim mode).
	PriceFeedURL string

	// Database connection settings.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	LogLevel = getEnvOr("LOG_LEVEL", "info")
	LogFormat = getEnvOr("LOG_FORMAT", "console")

	WebPort, err = getEnvAsIntOr("WEB_PORT", 8080)
	if err != nil {
		return err
	}

	OperatorToken, err = getEnv("OPERATOR_TOKEN")
	if err != nil {
		return err
	}

	EngineMode = getEnvOr("ENGINE_MODE", EngineModeSim)
	if EngineMode != EngineModeSim && EngineMode != EngineModeLive {
		return errors.New("ENGINE_MODE must be \"sim\" or \"live\", got: " + EngineMode)
	}

	BaseDenom, err = getEnv("BASE_DENOM")
	if err != nil {
		return err
	}

	RebalanceSchedule = getEnvOr("REBALANCE_SCHEDULE", "@every 1h")

	StrategyManifest, err = getEnv("STRATEGY_MANIFEST")
	if err != nil {
		return err
	}

	PriceFeedURL = getEnvOr("PRICE_FEED_URL", "")
	if EngineMode == EngineModeLive && PriceFeedURL == "" {
		return errors.New("PRICE_FEED_URL is required when ENGINE_MODE is \"live\"")
	}

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsIntOr("DB_PORT", 5432)
	if err != nil {
		return err
	}

	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode = getEnvOr("DB_SSLMODE", "disable")

	log.Debug().
		Str("EngineMode", EngineMode).
		Str("BaseDenom", BaseDenom).
		Str("RebalanceSchedule", RebalanceSchedule).
		Int("WebPort", WebPort).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOr retrieves a string environment variable, falling back to a default.
func getEnvOr(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsIntOr retrieves an environment variable as an int, falling back to a
// default when unset. Returns an error only for malformed values.
func getEnvAsIntOr(key string, fallback int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

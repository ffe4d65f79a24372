// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/federico-bidone/FAIR-sub001/internal/modules/execution"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the ledger database (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	Engine EngineConfig
}

// EngineConfig carries the execution-decision defaults applied when a
// request does not override them.
type EngineConfig struct {
	DriftBand       float64 // policy band for weight / risk-contribution drift
	Alpha           float64 // bootstrap quantile for the EB lower bound
	BlockSize       int     // bootstrap block length in observations
	Resamples       int     // bootstrap draw count
	Seed            int64   // base bootstrap seed; draw i uses Seed + i
	TaxMethod       string  // fifo, lifo, or min_tax
	StampDutyRate   float64
	StandardRate    float64
	GoviesRate      float64
	GoviesThreshold float64
}

// BootstrapOptions converts the engine defaults into bootstrap options.
func (e EngineConfig) BootstrapOptions() execution.BootstrapOptions {
	return execution.BootstrapOptions{
		BlockSize: e.BlockSize,
		Resamples: e.Resamples,
		Alpha:     e.Alpha,
		Seed:      e.Seed,
	}
}

// TaxRules converts the engine defaults into tax rules for one resolution.
// The minus bag and portfolio value are supplied per call.
func (e EngineConfig) TaxRules() execution.TaxRules {
	rules := execution.NewTaxRules(e.TaxMethod)
	rules.StampDutyRate = e.StampDutyRate
	rules.StandardRate = e.StandardRate
	rules.GoviesRate = e.GoviesRate
	rules.GoviesThreshold = e.GoviesThreshold
	return rules
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FAIR_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("FAIR_PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Engine: EngineConfig{
			DriftBand:       getEnvAsFloat("FAIR_DRIFT_BAND", 0.05),
			Alpha:           getEnvAsFloat("FAIR_EB_ALPHA", 0.05),
			BlockSize:       getEnvAsInt("FAIR_EB_BLOCK_SIZE", 60),
			Resamples:       getEnvAsInt("FAIR_EB_RESAMPLES", 1000),
			Seed:            int64(getEnvAsInt("FAIR_EB_SEED", 42)),
			TaxMethod:       getEnv("FAIR_TAX_METHOD", execution.MethodFIFO),
			StampDutyRate:   getEnvAsFloat("FAIR_STAMP_DUTY_RATE", execution.DefaultStampDutyRate),
			StandardRate:    getEnvAsFloat("FAIR_STANDARD_RATE", execution.DefaultStandardRate),
			GoviesRate:      getEnvAsFloat("FAIR_GOVIES_RATE", execution.DefaultGoviesRate),
			GoviesThreshold: getEnvAsFloat("FAIR_GOVIES_THRESHOLD", execution.DefaultGoviesThreshold),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.Engine.TaxMethod {
	case execution.MethodFIFO, execution.MethodLIFO, execution.MethodMinTax:
	default:
		return fmt.Errorf("invalid FAIR_TAX_METHOD: %q", c.Engine.TaxMethod)
	}
	if c.Engine.Alpha <= 0 || c.Engine.Alpha >= 1 {
		return fmt.Errorf("FAIR_EB_ALPHA must fall in (0, 1), got %f", c.Engine.Alpha)
	}
	if c.Engine.DriftBand < 0 {
		return fmt.Errorf("FAIR_DRIFT_BAND must be non-negative, got %f", c.Engine.DriftBand)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

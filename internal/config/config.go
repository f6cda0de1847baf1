package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	CORS       CORSConfig
	Counties   CountyConfig
	Scoring    ScoringConfig
	Prediction PredictionConfig
	Promotion  PromotionConfig
	Cycle      CycleConfig
	Sources    SourcesConfig
	Compliance ComplianceConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Driver         string
	Host           string
	Port           string
	Name           string
	User           string
	Password       string
	PoolMin        int
	PoolMax        int
	ConnectMaxWait time.Duration
	MigrateOnStart bool
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// CountyConfig lists the canonical counties and the fallback for unknown names.
type CountyConfig struct {
	Known   []string
	Default string
}

// ScoringConfig overrides deterministic model constants.
type ScoringConfig struct {
	HalfLifeDays       float64
	SignalScale        float64
	SignalCap          float64
	StackCap           float64
	BaselineConversion float64
	// ConversionRates maps a signal combination key (sorted event types
	// joined by "+") to its historical conversion rate.
	ConversionRates map[string]float64
}

// PredictionConfig overrides predictive model constants.
type PredictionConfig struct {
	HorizonDays float64
}

// PromotionConfig holds the promotion bars and blend weight.
type PromotionConfig struct {
	NarrowThreshold     float64
	BroadThreshold      float64
	PartnerThreshold    float64
	DeterministicWeight float64
}

// CycleConfig holds ingestion cycle limits.
type CycleConfig struct {
	AdapterTimeout   time.Duration
	Workers          int
	BatchConcurrency int
}

// SourcesConfig configures the pull adapters. An empty URL disables the adapter.
type SourcesConfig struct {
	CommercialURL     string
	CommercialName    string
	CommercialAPIKey  string
	CommercialTimeout time.Duration
	CrawlerURL        string
	CrawlerName       string
	CrawlerMaxPages   int
	CrawlerTimeout    time.Duration
}

// ComplianceConfig configures the do-not-contact gate.
type ComplianceConfig struct {
	URL     string
	Timeout time.Duration
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Load reads configuration from .env files and environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	loadEnv(os.Getenv("ENV_PATH"))

	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "parcelheat")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("DB_CONNECT_MAX_WAIT", "30s")
	v.SetDefault("DB_MIGRATE", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("COUNTIES", "Montgomery,Harris,Fort Bend,Travis")
	v.SetDefault("COUNTY_DEFAULT", "Montgomery")
	v.SetDefault("SCORING_HALF_LIFE_DAYS", 120)
	v.SetDefault("SCORING_SIGNAL_SCALE", 3.2)
	v.SetDefault("SCORING_SIGNAL_CAP", 45)
	v.SetDefault("SCORING_STACK_CAP", 15)
	v.SetDefault("SCORING_BASELINE_CONVERSION", 0.05)
	v.SetDefault("SCORING_CONVERSION_RATES", "")
	v.SetDefault("PREDICTION_HORIZON_DAYS", 365)
	v.SetDefault("PROMOTION_NARROW_THRESHOLD", 75)
	v.SetDefault("PROMOTION_BROAD_THRESHOLD", 60)
	v.SetDefault("PROMOTION_PARTNER_THRESHOLD", 70)
	v.SetDefault("PROMOTION_DETERMINISTIC_WEIGHT", 0.6)
	v.SetDefault("CYCLE_ADAPTER_TIMEOUT", "5m")
	v.SetDefault("CYCLE_WORKERS", 4)
	v.SetDefault("CYCLE_BATCH_CONCURRENCY", 8)
	v.SetDefault("COMMERCIAL_API_URL", "")
	v.SetDefault("COMMERCIAL_NAME", "propdata")
	v.SetDefault("COMMERCIAL_TIMEOUT", "30s")
	v.SetDefault("CRAWLER_URL", "")
	v.SetDefault("CRAWLER_NAME", "county_records")
	v.SetDefault("CRAWLER_MAX_PAGES", 5)
	v.SetDefault("CRAWLER_TIMEOUT", "20s")
	v.SetDefault("COMPLIANCE_URL", "")
	v.SetDefault("COMPLIANCE_TIMEOUT", "5s")

	// Bind environment variables
	v.AutomaticEnv()

	rates, err := parseConversionRates(v.GetString("SCORING_CONVERSION_RATES"))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Build configuration
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(v.GetString("DB_DRIVER")),
			Host:           v.GetString("DB_HOST"),
			Port:           v.GetString("DB_PORT"),
			Name:           v.GetString("DB_NAME"),
			User:           v.GetString("DB_USER"),
			Password:       v.GetString("DB_PASSWORD"),
			PoolMin:        v.GetInt("DB_POOL_MIN"),
			PoolMax:        v.GetInt("DB_POOL_MAX"),
			ConnectMaxWait: v.GetDuration("DB_CONNECT_MAX_WAIT"),
			MigrateOnStart: v.GetBool("DB_MIGRATE"),
		},
		CORS: CORSConfig{
			Origins: parseList(v.GetString("CORS_ORIGINS")),
		},
		Counties: CountyConfig{
			Known:   parseList(v.GetString("COUNTIES")),
			Default: strings.TrimSpace(v.GetString("COUNTY_DEFAULT")),
		},
		Scoring: ScoringConfig{
			HalfLifeDays:       v.GetFloat64("SCORING_HALF_LIFE_DAYS"),
			SignalScale:        v.GetFloat64("SCORING_SIGNAL_SCALE"),
			SignalCap:          v.GetFloat64("SCORING_SIGNAL_CAP"),
			StackCap:           v.GetFloat64("SCORING_STACK_CAP"),
			BaselineConversion: v.GetFloat64("SCORING_BASELINE_CONVERSION"),
			ConversionRates:    rates,
		},
		Prediction: PredictionConfig{
			HorizonDays: v.GetFloat64("PREDICTION_HORIZON_DAYS"),
		},
		Promotion: PromotionConfig{
			NarrowThreshold:     v.GetFloat64("PROMOTION_NARROW_THRESHOLD"),
			BroadThreshold:      v.GetFloat64("PROMOTION_BROAD_THRESHOLD"),
			PartnerThreshold:    v.GetFloat64("PROMOTION_PARTNER_THRESHOLD"),
			DeterministicWeight: v.GetFloat64("PROMOTION_DETERMINISTIC_WEIGHT"),
		},
		Cycle: CycleConfig{
			AdapterTimeout:   v.GetDuration("CYCLE_ADAPTER_TIMEOUT"),
			Workers:          v.GetInt("CYCLE_WORKERS"),
			BatchConcurrency: v.GetInt("CYCLE_BATCH_CONCURRENCY"),
		},
		Sources: SourcesConfig{
			CommercialURL:     v.GetString("COMMERCIAL_API_URL"),
			CommercialName:    v.GetString("COMMERCIAL_NAME"),
			CommercialAPIKey:  v.GetString("COMMERCIAL_API_KEY"),
			CommercialTimeout: v.GetDuration("COMMERCIAL_TIMEOUT"),
			CrawlerURL:        v.GetString("CRAWLER_URL"),
			CrawlerName:       v.GetString("CRAWLER_NAME"),
			CrawlerMaxPages:   v.GetInt("CRAWLER_MAX_PAGES"),
			CrawlerTimeout:    v.GetDuration("CRAWLER_TIMEOUT"),
		},
		Compliance: ComplianceConfig{
			URL:     v.GetString("COMPLIANCE_URL"),
			Timeout: v.GetDuration("COMPLIANCE_TIMEOUT"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// Validate database config
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Port == "" {
			return fmt.Errorf("DB_PORT is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
		if c.Database.PoolMin < 0 {
			return fmt.Errorf("DB_POOL_MIN must be non-negative")
		}
		if c.Database.PoolMax < 1 {
			return fmt.Errorf("DB_POOL_MAX must be at least 1")
		}
		if c.Database.PoolMin > c.Database.PoolMax {
			return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}

	// Validate CORS config
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	// Validate counties
	if len(c.Counties.Known) == 0 {
		return fmt.Errorf("COUNTIES is required")
	}
	if c.Counties.Default == "" {
		return fmt.Errorf("COUNTY_DEFAULT is required")
	}

	// Validate model overrides
	if c.Scoring.HalfLifeDays <= 0 {
		return fmt.Errorf("SCORING_HALF_LIFE_DAYS must be positive")
	}
	if c.Scoring.BaselineConversion < 0 || c.Scoring.BaselineConversion > 1 {
		return fmt.Errorf("SCORING_BASELINE_CONVERSION must be between 0 and 1")
	}
	if c.Prediction.HorizonDays <= 0 {
		return fmt.Errorf("PREDICTION_HORIZON_DAYS must be positive")
	}
	if c.Promotion.DeterministicWeight < 0 || c.Promotion.DeterministicWeight > 1 {
		return fmt.Errorf("PROMOTION_DETERMINISTIC_WEIGHT must be between 0 and 1")
	}

	// Validate cycle limits
	if c.Cycle.AdapterTimeout <= 0 {
		return fmt.Errorf("CYCLE_ADAPTER_TIMEOUT must be positive")
	}
	if c.Cycle.Workers < 1 {
		return fmt.Errorf("CYCLE_WORKERS must be at least 1")
	}
	if c.Cycle.BatchConcurrency < 1 {
		return fmt.Errorf("CYCLE_BATCH_CONCURRENCY must be at least 1")
	}

	return nil
}

// loadEnv overlays .env files onto the process environment. Later files win.
func loadEnv(envPath string) {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, envFile))
	}
}

// parseList splits a comma-separated string into a trimmed slice.
func parseList(values string) []string {
	if values == "" {
		return []string{}
	}

	parts := strings.Split(values, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseConversionRates parses "probate+vacant=0.12,tax_lien=0.04".
func parseConversionRates(raw string) (map[string]float64, error) {
	rates := map[string]float64{}
	for _, pair := range parseList(raw) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("SCORING_CONVERSION_RATES entry %q must be key=rate", pair)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || rate < 0 || rate > 1 {
			return nil, fmt.Errorf("SCORING_CONVERSION_RATES entry %q must have a rate between 0 and 1", pair)
		}
		rates[strings.TrimSpace(key)] = rate
	}
	return rates, nil
}

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	BlazeURL          string        `mapstructure:"BLAZE_URL"`
	BlazeWaitAttempts int           `mapstructure:"BLAZE_WAIT_ATTEMPTS"`
	InputDir          string        `mapstructure:"INPUT_DIR"`
	InputFormat       string        `mapstructure:"INPUT_FORMAT"`
	ParsingMapFile    string        `mapstructure:"PARSING_MAP_FILE"`
	LookupsFile       string        `mapstructure:"LOOKUPS_FILE"`
	BiobankFile       string        `mapstructure:"BIOBANK_FILE"`
	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`

	APITokenSecret string `mapstructure:"API_TOKEN_SECRET"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	SMTPHost      string        `mapstructure:"SMTP_HOST"`
	SMTPPort      string        `mapstructure:"SMTP_PORT"`
	SMTPFrom      string        `mapstructure:"SMTP_FROM"`
	SMTPTo        string        `mapstructure:"SMTP_TO"`
	StaleInputAge time.Duration `mapstructure:"STALE_INPUT_AGE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BLAZE_URL", "http://localhost:8080/fhir")
	v.SetDefault("BLAZE_WAIT_ATTEMPTS", 10)
	v.SetDefault("INPUT_DIR", "/data/input")
	v.SetDefault("INPUT_FORMAT", "csv")
	v.SetDefault("SYNC_INTERVAL", "0")
	v.SetDefault("SMTP_PORT", "25")
	v.SetDefault("STALE_INPUT_AGE", "0")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BLAZE_URL")
	v.BindEnv("BLAZE_WAIT_ATTEMPTS")
	v.BindEnv("INPUT_DIR")
	v.BindEnv("INPUT_FORMAT")
	v.BindEnv("PARSING_MAP_FILE")
	v.BindEnv("LOOKUPS_FILE")
	v.BindEnv("BIOBANK_FILE")
	v.BindEnv("SYNC_INTERVAL")
	v.BindEnv("API_TOKEN_SECRET")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("SMTP_HOST")
	v.BindEnv("SMTP_PORT")
	v.BindEnv("SMTP_FROM")
	v.BindEnv("SMTP_TO")
	v.BindEnv("STALE_INPUT_AGE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can drive a sync run.
func (c *Config) Validate() error {
	if c.BlazeURL == "" {
		return fmt.Errorf("BLAZE_URL is required")
	}
	if c.ParsingMapFile == "" {
		return fmt.Errorf("PARSING_MAP_FILE is required")
	}
	if c.BiobankFile == "" {
		return fmt.Errorf("BIOBANK_FILE is required")
	}
	switch c.InputFormat {
	case "csv", "xml", "json":
	default:
		return fmt.Errorf("INPUT_FORMAT must be \"csv\", \"xml\", or \"json\", got %q", c.InputFormat)
	}
	if c.StaleInputAge > 0 && (c.SMTPHost == "" || c.SMTPTo == "") {
		return fmt.Errorf("STALE_INPUT_AGE requires SMTP_HOST and SMTP_TO")
	}
	return nil
}

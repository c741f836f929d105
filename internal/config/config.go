// Package config loads relay configuration from a config file and RALLY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the relay reads.
const EnvPrefix = "RALLY"

// Config is the relay configuration. The `mapstructure` tags map config
// keys (and RALLY_SECTION_KEY variables) onto the struct.
type Config struct {
	Database struct {
		URL string `mapstructure:"url" validate:"required"`
	} `mapstructure:"database"`
	Auth struct {
		Username string `mapstructure:"username" validate:"required"`
		Password string `mapstructure:"password" validate:"required"`
	} `mapstructure:"auth"`
	Rally struct {
		Domain   string `mapstructure:"domain" validate:"required"`
		FromName string `mapstructure:"from_name"`
	} `mapstructure:"rally"`
	Postmark struct {
		ServerToken   string `mapstructure:"server_token"`
		APIBase       string `mapstructure:"api_base"`
		MessageStream string `mapstructure:"message_stream"`
	} `mapstructure:"postmark"`
	OpenAI struct {
		APIKey  string `mapstructure:"api_key"`
		APIBase string `mapstructure:"api_base"`
	} `mapstructure:"openai"`
	Bedrock struct {
		Enabled      bool   `mapstructure:"enabled"`
		SummaryModel string `mapstructure:"summary_model"`
	} `mapstructure:"bedrock"`
	Storage struct {
		Bucket            string `mapstructure:"bucket"`
		UploadConcurrency int    `mapstructure:"upload_concurrency" validate:"gte=1"`
	} `mapstructure:"storage"`
	Claims struct {
		Table     string        `mapstructure:"table"`
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"claims"`
	Sightings struct {
		QueueURL string `mapstructure:"queue_url"`
	} `mapstructure:"sightings"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
}

var defaults = map[string]any{
	"database.url":               "",
	"auth.username":              "",
	"auth.password":              "",
	"rally.domain":               "",
	"rally.from_name":            "Rally",
	"postmark.server_token":      "",
	"postmark.api_base":          "https://api.postmarkapp.com",
	"postmark.message_stream":    "outbound",
	"openai.api_key":             "",
	"openai.api_base":            "https://api.openai.com/v1",
	"bedrock.enabled":            false,
	"bedrock.summary_model":      "",
	"storage.bucket":             "",
	"storage.upload_concurrency": 4,
	"claims.table":               "",
	"claims.retention":           "168h",
	"sightings.queue_url":        "",
	"server.addr":                ":8080",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bind registers defaults and environment lookup on v. Every key gets a
// default so AutomaticEnv can resolve it during Unmarshal.
func Bind(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ReadFile reads config.yaml from the given directories when present.
// A missing file is not an error.
func ReadFile(v *viper.Viper, paths ...string) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading the configuration file: %w", err)
	}
	return nil
}

// Load binds v and maps it onto a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	Bind(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not map the configuration to the struct: %w", err)
	}
	cfg.Rally.Domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Rally.Domain), "@"))

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

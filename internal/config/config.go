/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the tipping-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	ZBDAPIBaseURL            string `mapstructure:"ZBD_API_BASE_URL"`
	ZBDAPIKey                string `mapstructure:"ZBD_API_KEY"`
	ZBDWebhookSecret         string `mapstructure:"ZBD_WEBHOOK_SECRET"`
	AuthJWKSURL              string `mapstructure:"AUTH_JWKS_URL"`
	AllowedOrigins           string `mapstructure:"ALLOWED_ORIGINS"`
	ChargeExpiryMinutes      int    `mapstructure:"CHARGE_EXPIRY_MINUTES"`
	TipRateLimitPerMinute    int    `mapstructure:"TIP_RATE_LIMIT_PER_MINUTE"`
	StatusRateLimitPerMinute int    `mapstructure:"STATUS_RATE_LIMIT_PER_MINUTE"`
	SweeperSchedule          string `mapstructure:"SWEEPER_SCHEDULE"`
	SweeperStaleMinutes      int    `mapstructure:"SWEEPER_STALE_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ZBD_API_BASE_URL", "https://api.zebedee.io")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "tipjar:rate_limit")
	viper.SetDefault("CHARGE_EXPIRY_MINUTES", 10)
	viper.SetDefault("TIP_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("STATUS_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("SWEEPER_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("SWEEPER_STALE_MINUTES", 15)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TIPPING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ZBD_API_BASE_URL")
	_ = viper.BindEnv("ZBD_API_KEY")
	_ = viper.BindEnv("ZBD_WEBHOOK_SECRET")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("CHARGE_EXPIRY_MINUTES")
	_ = viper.BindEnv("TIP_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("STATUS_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SWEEPER_SCHEDULE")
	_ = viper.BindEnv("SWEEPER_STALE_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "tipjar:rate_limit"
	}
	config.ZBDAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.ZBDAPIBaseURL), "/")

	if config.ChargeExpiryMinutes <= 0 {
		config.ChargeExpiryMinutes = 10
	}
	if config.TipRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative tip rate limit configured; coercing to zero\" limit=%d", config.TipRateLimitPerMinute)
		config.TipRateLimitPerMinute = 0
	}
	if config.StatusRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative status rate limit configured; coercing to zero\" limit=%d", config.StatusRateLimitPerMinute)
		config.StatusRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.SweeperSchedule) == "" {
		config.SweeperSchedule = "*/5 * * * *"
	}
	// The sweeper must not touch tips the gateway could still complete, so the
	// stale window has to exceed the charge expiry.
	if config.SweeperStaleMinutes <= config.ChargeExpiryMinutes {
		config.SweeperStaleMinutes = config.ChargeExpiryMinutes + 5
	}

	return
}

// Origins splits the configured comma-separated CORS origin list.
func (c Config) Origins() []string {
	raw := strings.TrimSpace(c.AllowedOrigins)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized way to manage settings.
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

// Config holds all the configuration variables for the marketplace service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	MidtransServerKey          string `mapstructure:"MIDTRANS_SERVER_KEY"`
	JWKSURL                    string `mapstructure:"JWKS_URL"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	PaymentExpiryMinutes       int    `mapstructure:"PAYMENT_EXPIRY_MINUTES"`
	BoostPricePerDayRupiah     int64  `mapstructure:"BOOST_PRICE_PER_DAY_RUPIAH"`
	BoostCreditDurationDays    int    `mapstructure:"BOOST_CREDIT_DURATION_DAYS"`
	SweepSchedule              string `mapstructure:"SWEEP_SCHEDULE"`
	CallbackRateLimitPerMinute int    `mapstructure:"CALLBACK_RATE_LIMIT_PER_MINUTE"`
	QuotaRateLimitPerMinute    int    `mapstructure:"QUOTA_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "iklan:rate_limit")
	viper.SetDefault("PAYMENT_EXPIRY_MINUTES", 1440) // pending payments auto-fail after 24h
	viper.SetDefault("BOOST_PRICE_PER_DAY_RUPIAH", 10000)
	viper.SetDefault("BOOST_CREDIT_DURATION_DAYS", 7)
	viper.SetDefault("SWEEP_SCHEDULE", "*/15 * * * *") // every 15 minutes
	viper.SetDefault("CALLBACK_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("QUOTA_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("MIDTRANS_SERVER_KEY")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYMENT_EXPIRY_MINUTES")
	_ = viper.BindEnv("BOOST_PRICE_PER_DAY_RUPIAH")
	_ = viper.BindEnv("BOOST_CREDIT_DURATION_DAYS")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("CALLBACK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("QUOTA_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
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
		config.RedisRateLimitPrefix = "iklan:rate_limit"
	}
	if config.PaymentExpiryMinutes <= 0 {
		config.PaymentExpiryMinutes = 1440
	}
	if config.BoostPricePerDayRupiah < 0 {
		log.Printf("level=warn component=config msg=\"negative boost price configured; coercing to zero\" price_rupiah=%d", config.BoostPricePerDayRupiah)
		config.BoostPricePerDayRupiah = 0
	}
	if config.BoostCreditDurationDays <= 0 {
		config.BoostCreditDurationDays = 7
	}
	if strings.TrimSpace(config.SweepSchedule) == "" {
		config.SweepSchedule = "*/15 * * * *"
	}
	if config.CallbackRateLimitPerMinute <= 0 {
		config.CallbackRateLimitPerMinute = 120
	}
	if config.QuotaRateLimitPerMinute <= 0 {
		config.QuotaRateLimitPerMinute = 60
	}

	return
}

package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	sslModeDisable = "disable"
	sslModeRequire = "require"

	defaultCatalogURL = "https://www.googleapis.com/books/v1/volumes"
)

type (
	Config struct {
		Host            string `mapstructure:"HOST"`
		Port            string `mapstructure:"PORT"`
		DBHost          string `mapstructure:"DB_HOST"`
		DBPort          string `mapstructure:"DB_PORT"`
		DBUser          string `mapstructure:"DB_USER"`
		DBPassword      string `mapstructure:"DB_PASSWORD"`
		DBName          string `mapstructure:"DB_NAME"`
		DBSSLMode       string `mapstructure:"DB_SSL_MODE"`
		JWTSecret       string `mapstructure:"JWT_SECRET"`
		TokenTTLMinutes int    `mapstructure:"TOKEN_TTL_MINUTES"`
		CatalogURL      string `mapstructure:"CATALOG_URL"`
		CatalogAPIKey   string `mapstructure:"CATALOG_API_KEY"`
		BcryptCost      int    `mapstructure:"BCRYPT_COST"`
	}
)

func NewConfig() (*Config, error) {
	viper.SetEnvPrefix("LIBRARYLOOKUP")

	viper.SetDefault("HOST", "0.0.0.0")
	viper.SetDefault("PORT", "3000")
	viper.SetDefault("DB_HOST", "0.0.0.0")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "library")
	viper.SetDefault("DB_SSL_MODE", sslModeDisable)
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("TOKEN_TTL_MINUTES", 60)
	viper.SetDefault("CATALOG_URL", defaultCatalogURL)
	viper.SetDefault("CATALOG_API_KEY", "")
	viper.SetDefault("BCRYPT_COST", 10)

	envs := []string{
		"HOST", "PORT",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
		"JWT_SECRET", "TOKEN_TTL_MINUTES",
		"CATALOG_URL", "CATALOG_API_KEY",
		"BCRYPT_COST",
	}
	for _, key := range envs {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT secret must be provided via LIBRARYLOOKUP_JWT_SECRET")
	}
	if cfg.TokenTTLMinutes <= 0 {
		return errors.New(fmt.Sprintf("token TTL is invalid: %d", cfg.TokenTTLMinutes))
	}

	validSSLValues := []string{sslModeDisable, sslModeRequire}
	for _, validValue := range validSSLValues {
		if cfg.DBSSLMode == validValue {
			return nil
		}
	}
	return errors.New(fmt.Sprintf("DB SSL mode is invalid: %s", cfg.DBSSLMode))
}

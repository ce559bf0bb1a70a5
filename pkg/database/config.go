package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MinConns       int32
	MaxConns       int32
	CommandTimeout time.Duration
}

// LoadConfigFromEnv loads database configuration from POSTGRES_* variables.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}

	return Config{
		Host:           getEnvOrDefault("POSTGRES_HOST", "localhost"),
		Port:           port,
		User:           getEnvOrDefault("POSTGRES_USER", "mundi"),
		Password:       os.Getenv("POSTGRES_PASSWORD"),
		Database:       getEnvOrDefault("POSTGRES_DB", "mundi"),
		SSLMode:        getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		MinConns:       1,
		MaxConns:       10,
		CommandTimeout: 60 * time.Second,
	}, nil
}

// DSN returns a pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

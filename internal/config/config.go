package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration.
type Config struct {
	Port     string
	JWT      JWTConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
}

type JWTConfig struct {
	SecretKey string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type DatabaseConfig struct {
	Host             string
	Port             string
	User             string
	Password         string
	Name             string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	if c.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", c.StatementTimeout.Milliseconds())
	}
	return dsn
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type LedgerConfig struct {
	Timezone          string
	NotificationQueue string
	InactivityDays    int
	CustomerGraceDays int
	SweepHour         int
	SweepBatchSize    int
}

// Location resolves the ledger timezone.
func (c LedgerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stdout")

	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "password")
	v.SetDefault("DATABASE_NAME", "susu_ledger")
	v.SetDefault("DATABASE_SSL_MODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("DATABASE_STATEMENT_TIMEOUT", 30*time.Second)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET_KEY", "")

	v.SetDefault("LEDGER_TIMEZONE", "UTC")
	v.SetDefault("LEDGER_NOTIFICATION_QUEUE", "ledger:notifications")
	v.SetDefault("LEDGER_INACTIVITY_DAYS", 30)
	v.SetDefault("LEDGER_CUSTOMER_GRACE_DAYS", 20)
	v.SetDefault("LEDGER_SWEEP_HOUR", 2)
	v.SetDefault("LEDGER_SWEEP_BATCH_SIZE", 500)
}

// Load reads configuration from the optional .env file and the environment. Environment
// variables win over the file. A missing file is not an error.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		Port: v.GetString("PORT"),
		JWT:  JWTConfig{SecretKey: v.GetString("JWT_SECRET_KEY")},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
		},
		Database: DatabaseConfig{
			Host:             v.GetString("DATABASE_HOST"),
			Port:             v.GetString("DATABASE_PORT"),
			User:             v.GetString("DATABASE_USER"),
			Password:         v.GetString("DATABASE_PASSWORD"),
			Name:             v.GetString("DATABASE_NAME"),
			SSLMode:          v.GetString("DATABASE_SSL_MODE"),
			MaxOpenConns:     v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:     v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime:  v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
			StatementTimeout: v.GetDuration("DATABASE_STATEMENT_TIMEOUT"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Ledger: LedgerConfig{
			Timezone:          v.GetString("LEDGER_TIMEZONE"),
			NotificationQueue: v.GetString("LEDGER_NOTIFICATION_QUEUE"),
			InactivityDays:    v.GetInt("LEDGER_INACTIVITY_DAYS"),
			CustomerGraceDays: v.GetInt("LEDGER_CUSTOMER_GRACE_DAYS"),
			SweepHour:         v.GetInt("LEDGER_SWEEP_HOUR"),
			SweepBatchSize:    v.GetInt("LEDGER_SWEEP_BATCH_SIZE"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if c.Ledger.SweepHour < 0 || c.Ledger.SweepHour > 23 {
		return fmt.Errorf("LEDGER_SWEEP_HOUR must be between 0 and 23, got %d", c.Ledger.SweepHour)
	}
	if c.Ledger.InactivityDays <= 0 || c.Ledger.CustomerGraceDays <= 0 {
		return errors.New("LEDGER_INACTIVITY_DAYS and LEDGER_CUSTOMER_GRACE_DAYS must be positive")
	}
	if c.Ledger.SweepBatchSize <= 0 {
		return errors.New("LEDGER_SWEEP_BATCH_SIZE must be positive")
	}
	if _, err := c.Ledger.Location(); err != nil {
		return err
	}
	return nil
}

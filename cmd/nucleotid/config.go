package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/palicode/nucleotid-back/internal/logger"
	"github.com/palicode/nucleotid-back/internal/service/session"
)

// Session storage backends
const (
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

const (
	defaultListenAddr    = "localhost:8000"
	defaultLoggingLevel  = logger.LevelInfo
	defaultEnvironment   = logger.EnvProd
	defaultStorage       = StoragePostgres
	defaultRedisAddr     = "localhost:6379"
	defaultSweepInterval = session.DefaultSweepInterval
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	// Users always live there, sessions too unless redis storage is chosen
	DatabaseDSN string

	// Where sessions are kept: 'postgres' or 'redis'
	Storage string

	// Redis address, used with redis storage only
	RedisAddr string

	// Secret key
	// Signs both token classes unless the specific keys are set
	SecretKey string

	AccessKey  string
	RefreshKey string

	// Access token validity and refresh throttling window, minutes
	MaxValidity int
	MinValidity int

	// Sessions not refreshed for that long are swept. Zero disables sweeping
	IdleTimeout time.Duration

	// How often idle sessions are looked for
	SweepInterval time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:      defaultLoggingLevel,
		ListenAddr:    defaultListenAddr,
		Storage:       defaultStorage,
		RedisAddr:     defaultRedisAddr,
		MaxValidity:   int(session.DefaultMaxValidity / time.Minute),
		MinValidity:   int(session.DefaultMinValidity / time.Minute),
		SweepInterval: defaultSweepInterval,
		Environment:   defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":     setString(&c.ListenAddr),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"SESSION_STORAGE": setString(&c.Storage),
		"REDIS_ADDRESS":   setString(&c.RedisAddr),
		"SECRET_KEY":      setString(&c.SecretKey),
		"ACCESS_KEY":      setString(&c.AccessKey),
		"REFRESH_KEY":     setString(&c.RefreshKey),
		"MAX_VALIDITY":    setInt(&c.MaxValidity),
		"MIN_VALIDITY":    setInt(&c.MinValidity),
		"IDLE_TIMEOUT":    setDuration(&c.IdleTimeout),
		"SWEEP_INTERVAL":  setDuration(&c.SweepInterval),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("nucleotid", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.Storage, "storage", c.Storage, "Session storage (postgres, redis)")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVar(&c.AccessKey, "access-key", c.AccessKey, "Access token key (secret key if empty)")
	fs.StringVar(&c.RefreshKey, "refresh-key", c.RefreshKey, "Refresh token key (secret key if empty)")
	fs.IntVar(&c.MaxValidity, "max-validity", c.MaxValidity, "Access token validity, minutes")
	fs.IntVar(&c.MinValidity, "min-validity", c.MinValidity, "Minimum time between refreshes, minutes")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Sweep sessions not refreshed for that long (0 disables)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "How often idle sessions are swept")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// Session config for the authority and the gate
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		SharedKey:   []byte(c.SecretKey),
		AccessKey:   []byte(c.AccessKey),
		RefreshKey:  []byte(c.RefreshKey),
		MaxValidity: time.Duration(c.MaxValidity) * time.Minute,
		MinValidity: time.Duration(c.MinValidity) * time.Minute,
		IdleTimeout: c.IdleTimeout,
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN must be set"))
	}
	switch c.Storage {
	case StoragePostgres:
	case StorageRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address must be set for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session storage %q", c.Storage))
	}
	if c.MaxValidity <= 0 {
		errs = append(errs, fmt.Errorf("max validity must be positive, got %d", c.MaxValidity))
	}
	if err := c.SessionConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dukerupert/heirloom/internal/backup"
	"github.com/dukerupert/heirloom/internal/database"
)

// Prefix is prepended to every environment variable name.
const Prefix = "HEIRLOOM_"

// Config is the runtime configuration of the server and CLI.
type Config struct {
	Port      string
	DBDriver  string
	DBDSN     string
	LogLevel  string
	LogFormat string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	S3                  backup.S3Config
	BackupScheduleHour  int
	BackupRetentionDays int

	RegistrySize int
	WSOrigins    []string

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads an optional .env file and then the HEIRLOOM_ environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(Prefix + key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:        get("PORT", "8080"),
		DBDriver:    get("DB_DRIVER", "sqlite"),
		DBDSN:       get("DB_DSN", "heirloom.db"),
		LogLevel:    get("LOG_LEVEL", "info"),
		LogFormat:   get("LOG_FORMAT", "text"),
		JWTSecret:   getenv(Prefix + "JWT_SECRET"),
		JWTIssuer:   get("JWT_ISSUER", ""),
		JWTAudience: get("JWT_AUDIENCE", ""),
		S3: backup.S3Config{
			Endpoint:  get("S3_ENDPOINT", ""),
			Bucket:    get("S3_BUCKET", ""),
			Region:    get("S3_REGION", "us-east-1"),
			AccessKey: get("S3_ACCESS_KEY", ""),
			SecretKey: get("S3_SECRET_KEY", ""),
		},
		WSOrigins: splitList(get("WS_ORIGINS", "")),
	}

	var err error
	if cfg.BackupScheduleHour, err = intVar(get, "BACKUP_SCHEDULE_HOUR", 3); err != nil {
		return nil, err
	}
	if cfg.BackupRetentionDays, err = intVar(get, "BACKUP_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.RegistrySize, err = intVar(get, "REGISTRY_SIZE", 128); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intVar(get, "RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}
	rps := get("RATE_LIMIT_RPS", "10")
	if cfg.RateLimitPerSecond, err = strconv.ParseFloat(rps, 64); err != nil {
		return nil, fmt.Errorf("%sRATE_LIMIT_RPS: invalid number %q", Prefix, rps)
	}

	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if _, err := database.ParseDriver(c.DBDriver); err != nil {
		return err
	}
	if c.DBDSN == "" {
		return errors.New("database DSN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("%sJWT_SECRET is required", Prefix)
	}
	if c.BackupScheduleHour > 23 {
		return fmt.Errorf("backup schedule hour %d out of range", c.BackupScheduleHour)
	}
	if c.RateLimitPerSecond <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("rate limit must be positive")
	}
	return nil
}

// Backup returns the backup manager settings.
func (c *Config) Backup() backup.Config {
	return backup.Config{
		S3:            c.S3,
		ScheduleHour:  c.BackupScheduleHour,
		RetentionDays: c.BackupRetentionDays,
	}
}

func intVar(get func(string, string) string, key string, def int) (int, error) {
	raw := get(key, strconv.Itoa(def))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid integer %q", Prefix, key, raw)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	SMTP      SMTPConfig
	Metrics   MetricsConfig
	Sweep     SweepConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	// Interval is the tick period; Window the symmetric due window around
	// "now". The window must exceed the interval so no task scheduled
	// between two ticks is ever skipped.
	Interval         time.Duration
	Window           time.Duration
	StaleAfter       time.Duration
	TriggerThreshold time.Duration
	UpcomingLimit    int
}

type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	FromName      string
	RatePerSecond int
	MaxElapsed    time.Duration
}

type MetricsConfig struct {
	Address string
}

type SweepConfig struct {
	// Token guards the external sweep endpoint. Empty means development
	// mode: the endpoint is open.
	Token string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}

	smtpHost, err := requireEnv("SMTP_HOST")
	if err != nil {
		errs = append(errs, err)
	}

	intervalSec, err := getEnvInt("SCHED_INTERVAL_SECONDS", 30)
	if err != nil {
		errs = append(errs, err)
	}
	windowSec, err := getEnvInt("SCHED_WINDOW_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}
	staleMin, err := getEnvInt("TASK_STALE_MINUTES", 15)
	if err != nil {
		errs = append(errs, err)
	}
	triggerSec, err := getEnvInt("TRIGGER_THRESHOLD_SECONDS", intervalSec)
	if err != nil {
		errs = append(errs, err)
	}
	upcoming, err := getEnvInt("HEALTH_UPCOMING_LIMIT", 5)
	if err != nil {
		errs = append(errs, err)
	}

	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		errs = append(errs, err)
	}
	ratePerSecond, err := getEnvInt("MAIL_RATE_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, err)
	}
	maxElapsedSec, err := getEnvInt("MAIL_RETRY_MAX_ELAPSED_SECONDS", 30)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Scheduler: SchedulerConfig{
			Interval:         time.Duration(intervalSec) * time.Second,
			Window:           time.Duration(windowSec) * time.Second,
			StaleAfter:       time.Duration(staleMin) * time.Minute,
			TriggerThreshold: time.Duration(triggerSec) * time.Second,
			UpcomingLimit:    upcoming,
		},
		SMTP: SMTPConfig{
			Host:          smtpHost,
			Port:          smtpPort,
			Username:      os.Getenv("SMTP_USER"),
			Password:      os.Getenv("SMTP_PASSWORD"),
			From:          getEnv("SMTP_FROM", "noreply@lumenshop.io"),
			FromName:      getEnv("SMTP_FROM_NAME", "Lumenshop"),
			RatePerSecond: ratePerSecond,
			MaxElapsed:    time.Duration(maxElapsedSec) * time.Second,
		},
		Metrics: MetricsConfig{
			Address: getEnv("METRICS_ADDRESS", ":9090"),
		},
		Sweep: SweepConfig{
			Token: os.Getenv("SWEEP_TOKEN"),
		},
		Redis: redisCfg,
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttlSec, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttlSec) * time.Second,
	}, nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.Window <= 0 {
		errs = append(errs, errors.New("SCHED_WINDOW_SECONDS must be > 0"))
	}
	if cfg.Scheduler.Window <= cfg.Scheduler.Interval {
		errs = append(errs, errors.New("SCHED_WINDOW_SECONDS must be greater than SCHED_INTERVAL_SECONDS"))
	}
	if cfg.SMTP.Port <= 0 {
		errs = append(errs, errors.New("SMTP_PORT must be > 0"))
	}
	if cfg.SMTP.RatePerSecond <= 0 {
		errs = append(errs, errors.New("MAIL_RATE_PER_SECOND must be > 0"))
	}

	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env          string `validate:"required,oneof=dev prod"`
	DeploymentID string `validate:"required,max=128"`
	HTTP         struct {
		Addr          string `validate:"required"`
		TriggerSecret string
		// RateLimit is the minimum interval between trigger requests of one client.
		RateLimit time.Duration `validate:"gte=0"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	CMA struct {
		// APIToken may be empty at startup; a pass without a token fails
		// with a configuration error.
		APIToken string
		BaseURL  string        `validate:"required,url"`
		Timeout  time.Duration `validate:"gt=0"`
		Retries  int           `validate:"gte=0,lte=10"`
		// MaxBackoff caps a single wait between retries.
		MaxBackoff time.Duration `validate:"gte=0"`
		// RetryBudget bounds the time one request spends retrying.
		RetryBudget  time.Duration `validate:"gte=0"`
		PollInterval time.Duration `validate:"gt=0"`
	}
	Schedule struct {
		TimezoneFallback string
		CronEnabled      bool
		CronUseSlot      bool
		// SlotGate holds scheduled passes until the deployment's slot hour.
		SlotGate bool
	}
	Store struct {
		Driver        string `validate:"required,oneof=sqlite postgres redis memory"`
		SQLitePath    string `validate:"required_if=Driver sqlite"`
		DatabaseURL   string `validate:"required_if=Driver postgres"`
		RedisAddr     string `validate:"required_if=Driver redis"`
		RedisPassword string
		RedisDB       int `validate:"gte=0,lte=15"`
	}
	Lock struct {
		Enabled bool
		TTL     time.Duration `validate:"gt=0"`
	}
	Telegram struct {
		Token  string
		ChatID int64
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c    Config
		errs []error
	)
	c.Env = getenv("ENV", "prod")
	c.DeploymentID = getenv("DEPLOYMENT_ID", "default")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.HTTP.TriggerSecret = os.Getenv("TRIGGER_SECRET")
	c.HTTP.RateLimit = getDuration("HTTP_RATE_LIMIT", time.Second, &errs)
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/envbackup.log")

	c.CMA.APIToken = os.Getenv("CMA_API_TOKEN")
	c.CMA.BaseURL = getenv("CMA_BASE_URL", "https://site-api.datocms.com")
	c.CMA.Timeout = getDuration("CMA_TIMEOUT", 30*time.Second, &errs)
	c.CMA.Retries = getInt("CMA_RETRIES", 2, &errs)
	c.CMA.MaxBackoff = getDuration("CMA_MAX_BACKOFF", 10*time.Second, &errs)
	c.CMA.RetryBudget = getDuration("CMA_RETRY_BUDGET", 2*time.Minute, &errs)
	c.CMA.PollInterval = getDuration("CMA_POLL_INTERVAL", time.Second, &errs)

	c.Schedule.TimezoneFallback = getenv("SCHEDULE_TIMEZONE_FALLBACK", "UTC")
	c.Schedule.CronEnabled = getBool("CRON_ENABLED", true, &errs)
	c.Schedule.CronUseSlot = getBool("CRON_USE_SLOT", false, &errs)
	c.Schedule.SlotGate = getBool("SCHEDULE_SLOT_GATE", true, &errs)

	c.Store.Driver = strings.ToLower(getenv("STORE_DRIVER", "sqlite"))
	c.Store.SQLitePath = getenv("SQLITE_PATH", "data/envbackup.db")
	c.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	c.Store.RedisAddr = os.Getenv("REDIS_ADDR")
	c.Store.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.Store.RedisDB = getInt("REDIS_DB", 0, &errs)

	c.Lock.Enabled = getBool("PASS_LOCK", false, &errs)
	c.Lock.TTL = getDuration("PASS_LOCK_TTL", 15*time.Minute, &errs)

	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.ChatID = int64(getInt("TELEGRAM_CHAT_ID", 0, &errs))

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Lock.Enabled && c.Store.RedisAddr == "" {
		return errors.New("REDIS_ADDR required when PASS_LOCK is enabled")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errors.New("TELEGRAM_CHAT_ID required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func getBool(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

func getDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Scanner  ScannerConfig  `yaml:"scanner"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Market   MarketConfig   `yaml:"market"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Telegram TelegramConfig `yaml:"telegram"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
}

type ScannerConfig struct {
	RSIOverbought float64  `yaml:"rsi_overbought" default:"70" validate:"gt=0,lte=100"`
	RSIOversold   float64  `yaml:"rsi_oversold" default:"30" validate:"gte=0,ltfield=RSIOverbought"`
	MaxSignals    int      `yaml:"max_signals" default:"10" validate:"gte=0"`
	Watchlist     []string `yaml:"watchlist"`
}

type TrackerConfig struct {
	ExpiryDays     int `yaml:"expiry_days" default:"30" validate:"gt=0"`
	DuplicateHours int `yaml:"duplicate_hours" default:"24" validate:"gt=0"`
	QueryLimit     int `yaml:"query_limit" default:"100" validate:"gt=0"`
}

type MarketConfig struct {
	ScreenerURL    string `yaml:"screener_url" validate:"omitempty,url"`
	QuotesURL      string `yaml:"quotes_url" validate:"omitempty,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" default:"30" validate:"gt=0"`
}

type ScheduleConfig struct {
	Scan            string `yaml:"scan" default:"@every 60m"`
	Reconcile       string `yaml:"reconcile" default:"@every 15m"`
	MarketHoursOnly bool   `yaml:"market_hours_only" default:"true"`
	Timezone        string `yaml:"timezone" default:"America/New_York"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" default:"data/predictions.db" validate:"required"`
}

var validate = validator.New()

// Load reads the YAML file at path, applies defaults and environment
// overrides, then validates. A missing file is not an error: the
// scanner runs on defaults plus environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration built only from defaults.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Scanner.Watchlist = append([]string(nil), NASDAQ100...)
	return cfg
}

func finish(cfg *Config) error {
	applyEnv(cfg)
	if len(cfg.Scanner.Watchlist) == 0 {
		cfg.Scanner.Watchlist = append([]string(nil), NASDAQ100...)
	}
	for i, s := range cfg.Scanner.Watchlist {
		cfg.Scanner.Watchlist[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("SCREENER_URL"); v != "" {
		cfg.Market.ScreenerURL = v
	}
	if v := os.Getenv("QUOTES_URL"); v != "" {
		cfg.Market.QuotesURL = v
	}
	if v := os.Getenv("RSI_OVERBOUGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scanner.RSIOverbought = f
		}
	}
	if v := os.Getenv("RSI_OVERSOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scanner.RSIOversold = f
		}
	}
	if v := os.Getenv("PREDICTIONS_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return nil
}

func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}

func (c *Config) MarketTimeout() time.Duration {
	return time.Duration(c.Market.TimeoutSeconds) * time.Second
}

func (c *Config) DuplicateWindow() time.Duration {
	return time.Duration(c.Tracker.DuplicateHours) * time.Hour
}

package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	apiKeyENV         = "KITE_API_KEY"
	apiSecretENV      = "KITE_API_SECRET"
	databaseDSN       = "DATABASE_DSN"
	telegramTokenENV  = "TELEGRAM_TOKEN"
)

// Config ...
type Config struct {
	Kite struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		// Access token lives in its own file so the running process can
		// rewrite it on rotation without touching the config.
		TokenFile string `yaml:"token_file"`
	} `yaml:"kite"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"service"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	// Risk parameters for the single paper position.
	LotSize   int     `yaml:"lot_size"`
	SLPct     float64 `yaml:"sl_pct"`       // initial stop distance, 0.30 => -30% from entry
	TargetPct float64 `yaml:"target_pct"`   // profit target, 0.90 => +90% from entry
	TrailPct  float64 `yaml:"trail_sl_pct"` // trailing stop distance from the last price

	MaxTradeDuration time.Duration `yaml:"max_trade_duration"` // hard time exit
	CheckInterval    time.Duration `yaml:"check_interval"`     // monitor loop period

	// Underlying index and option chain selection.
	UnderlyingToken uint32  `yaml:"underlying_token"` // NIFTY 50 index
	UnderlyingName  string  `yaml:"underlying_name"`
	StrikeStep      float64 `yaml:"strike_step"`

	// Bounded wait for the first tick of a freshly subscribed option.
	EntryPollAttempts int           `yaml:"entry_poll_attempts"`
	EntryPollInterval time.Duration `yaml:"entry_poll_interval"`

	// Streaming transport retry budget before the session is declared dead.
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		LotSize:   intFromEnv("LOT_SIZE", 1),
		SLPct:     floatFromEnv("SL_PCT", 0.30),
		TargetPct: floatFromEnv("TARGET_PCT", 0.90),
		TrailPct:  floatFromEnv("TRAIL_SL_PCT", 0.30),

		MaxTradeDuration: durationFromEnv("MAX_TRADE_DURATION", "15m"),
		CheckInterval:    durationFromEnv("CHECK_INTERVAL", "5s"),

		UnderlyingToken: 256265,
		UnderlyingName:  getenvDefault("UNDERLYING_NAME", "NIFTY"),
		StrikeStep:      floatFromEnv("STRIKE_STEP", 50),

		EntryPollAttempts: intFromEnv("ENTRY_POLL_ATTEMPTS", 30),
		EntryPollInterval: durationFromEnv("ENTRY_POLL_INTERVAL", "100ms"),

		ReconnectMaxAttempts: intFromEnv("RECONNECT_MAX_ATTEMPTS", 50),
	}
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	if v := os.Getenv(apiKeyENV); v != "" {
		config.Kite.APIKey = v
	}
	if v := os.Getenv(apiSecretENV); v != "" {
		config.Kite.APISecret = v
	}
	if v := os.Getenv(databaseDSN); v != "" {
		config.DB = v
	}
	if v := os.Getenv(telegramTokenENV); v != "" {
		config.Telegram.Token = v
	}
	if config.Kite.TokenFile == "" {
		config.Kite.TokenFile = "config/access_token.txt"
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

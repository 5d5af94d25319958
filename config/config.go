package config

import (
	"github.com/spf13/viper"
	"strings"
	"sync"
	"time"
)

var once sync.Once

// Config is a snapshot of the settings used to wire the bot
type Config struct {
	TelegramBotToken string
	Debug            bool
	Lang             string
	MetricsPort      int
	DBPath           string
	LogFile          string

	RefreshInterval time.Duration
	RefreshWorkers  int

	FeedProvider string
	FeedURL      string
	FeedQuote    string
	FeedTimeout  time.Duration
	APIProKey    string

	Markets []string
}

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("api_pro_key", "API_PRO_KEY")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("log_file", "LOG_FILE")
		viper.BindEnv("refresh_interval", "REFRESH_INTERVAL")
		viper.BindEnv("refresh_workers", "REFRESH_WORKERS")
		viper.BindEnv("feed_provider", "FEED_PROVIDER")
		viper.BindEnv("feed_url", "FEED_URL")
		viper.BindEnv("feed_quote", "FEED_QUOTE")
		viper.BindEnv("feed_timeout", "FEED_TIMEOUT")
		viper.BindEnv("markets", "MARKETS")

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
		viper.SetDefault("db_path", "/app/data/bot.db")
		viper.SetDefault("refresh_interval", "60s")
		viper.SetDefault("refresh_workers", 4)
		viper.SetDefault("feed_provider", "coinpaprika")
		viper.SetDefault("feed_quote", "USD")
		viper.SetDefault("feed_timeout", "10s")
		viper.SetDefault("markets", "btc-bitcoin,eth-ethereum")
	})
}

// Load reads every known key into a Config
func Load() Config {
	InitConfig()
	return Config{
		TelegramBotToken: GetString("telegram_bot_token"),
		Debug:            GetBool("debug"),
		Lang:             GetString("lang"),
		MetricsPort:      GetInt("metrics_port"),
		DBPath:           GetString("db_path"),
		LogFile:          GetString("log_file"),
		RefreshInterval:  GetDuration("refresh_interval"),
		RefreshWorkers:   GetInt("refresh_workers"),
		FeedProvider:     GetString("feed_provider"),
		FeedURL:          GetString("feed_url"),
		FeedQuote:        GetString("feed_quote"),
		FeedTimeout:      GetDuration("feed_timeout"),
		APIProKey:        GetString("api_pro_key"),
		Markets:          GetStringSlice("markets"),
	}
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

func GetDuration(key string) time.Duration {
	InitConfig()
	return viper.GetDuration(key)
}

// GetStringSlice accepts both a list value and a comma separated env string
func GetStringSlice(key string) []string {
	InitConfig()
	var out []string
	for _, v := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

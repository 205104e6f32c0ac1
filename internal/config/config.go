package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	DataDir     string

	Broker struct {
		Name        string
		APIKey      string
		Host        string
		Paper       bool
		Product     string
		PaperMargin float64
		PaperEquity float64
	}

	Execution struct {
		MaxLotsPerOrder   int
		SliceDelay        time.Duration
		OrderTimeout      time.Duration
		ReconcileInterval time.Duration
		QueueSize         int
	}

	Risk struct {
		LimitsFile       string
		MaxDailyLossPct  float64
		MaxDrawdownPct   float64
		MaxGrossLeverage float64
		MaxConcentration float64
	}

	Monitoring struct {
		PrometheusPort int
		HealthPort     int
	}

	Notifications struct {
		TelegramToken  string
		TelegramChatID string
	}
}

// Load reads configuration from the environment, honoring a local
// .env file when present
func Load() *Config {
	godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DataDir:     getEnv("DATA_DIR", "data"),
	}

	cfg.Broker.Name = getEnv("BROKER_NAME", "paper")
	cfg.Broker.APIKey = getEnv("BROKER_API_KEY", "")
	cfg.Broker.Host = getEnv("BROKER_HOST", "http://127.0.0.1:5000")
	cfg.Broker.Paper = getEnvBool("BROKER_PAPER", true)
	cfg.Broker.Product = getEnv("BROKER_PRODUCT", "INTRADAY")
	cfg.Broker.PaperMargin = getEnvFloat("PAPER_MARGIN", 1000000)
	cfg.Broker.PaperEquity = getEnvFloat("PAPER_EQUITY", 1000000)

	cfg.Execution.MaxLotsPerOrder = getEnvInt("MAX_LOTS_PER_ORDER", 9)
	cfg.Execution.SliceDelay = getEnvDuration("SLICE_DELAY", 1100*time.Millisecond)
	cfg.Execution.OrderTimeout = getEnvDuration("ORDER_TIMEOUT", 10*time.Second)
	cfg.Execution.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", time.Minute)
	cfg.Execution.QueueSize = getEnvInt("EXECUTION_QUEUE_SIZE", 64)

	cfg.Risk.LimitsFile = getEnv("RISK_LIMITS_FILE", "configs/risk_limits.yaml")
	cfg.Risk.MaxDailyLossPct = getEnvFloat("MAX_DAILY_LOSS_PCT", 0.03)
	cfg.Risk.MaxDrawdownPct = getEnvFloat("MAX_DRAWDOWN_PCT", 0.10)
	cfg.Risk.MaxGrossLeverage = getEnvFloat("MAX_GROSS_LEVERAGE", 2.0)
	cfg.Risk.MaxConcentration = getEnvFloat("MAX_CONCENTRATION", 0.25)

	cfg.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", 8080)
	cfg.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", 8081)

	cfg.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	cfg.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

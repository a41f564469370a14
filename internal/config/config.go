package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config centralizes runtime settings for the trading agent.
type Config struct {
	HTTPAddr  string
	SQLiteDSN string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	BinanceBaseURL   string
	BinanceAPIKey    string
	BinanceSecretKey string

	// 交易币种（基础币，如 BTC,ETH）
	Currencies []string

	// 周期执行参数
	CycleTimeoutSec    int
	CollectWorkers     int
	AgentMaxIterations int
	AgentPromptFile    string

	// 定时任务
	AutoRunEnabled  bool
	AutoRunInterval int // 秒
}

func Load() Config {
	// Auto-load .env file if present (won't override existing env vars)
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		SQLiteDSN: getEnv("SQLITE_DSN", "file:./futures_agent.db?_pragma=busy_timeout(5000)"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		BinanceBaseURL:   getEnv("BINANCE_FUTURES_BASE_URL", "https://fapi.binance.com"),
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceSecretKey: getEnv("BINANCE_SECRET_KEY", ""),

		Currencies: splitCurrencies(getEnv("CURRENCIES", "BTC,ETH")),

		CycleTimeoutSec:    getEnvInt("CYCLE_TIMEOUT_SEC", 480),
		CollectWorkers:     getEnvInt("COLLECT_WORKERS", 4),
		AgentMaxIterations: getEnvInt("AGENT_MAX_ITERATIONS", 40),
		AgentPromptFile:    getEnv("AGENT_PROMPT_FILE", ""),

		AutoRunEnabled:  getEnvBool("AUTO_RUN_ENABLED", false),
		AutoRunInterval: getEnvInt("AUTO_RUN_INTERVAL_SEC", 3600),
	}
}

func splitCurrencies(raw string) []string {
	out := []string{}
	for _, c := range strings.Split(raw, ",") {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = []string{"BTC"}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

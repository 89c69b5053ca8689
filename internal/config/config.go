package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var defaultTaxRate = decimal.RequireFromString("0.17")

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	HoldTTLMinutes        int
	DefaultTaxRate        decimal.Decimal
	StoreName             string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	KafkaBrokers          string
	KafkaTopic            string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	holdTTL, err := strconv.Atoi(getEnv("HOLD_TTL_MINUTES", "240"))
	if err != nil || holdTTL < 1 {
		holdTTL = 240
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	taxRate, err := decimal.NewFromString(getEnv("DEFAULT_TAX_RATE", "0.17"))
	if err != nil || taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(1)) {
		taxRate = defaultTaxRate
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		HoldTTLMinutes:        holdTTL,
		DefaultTaxRate:        taxRate,
		StoreName:             getEnv("STORE_NAME", "CaixaPOS"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		KafkaBrokers:          os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "caixapos.sales"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var AppEnv Config

type Config struct {
	MongoURI  string
	DBName    string
	JWTSecret string

	Currency    string
	TaxRate     float64
	ShippingFee float64
	CartTTLDays int

	PaymentBaseURL       string
	PaymentAPIKey        string
	PaymentWebhookSecret string

	LowStockThreshold int
	RequestTimeout    time.Duration
}

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not loaded:", err)
	}
	AppEnv = Config{
		MongoURI:  getEnvOrDefault("MONGO_URI", ""),
		DBName:    getEnvOrDefault("DB_NAME", "storefront"),
		JWTSecret: getEnvOrDefault("JWT_SECRET", ""),

		Currency:    getEnvOrDefault("CURRENCY", "USD"),
		TaxRate:     getFloatEnv("TAX_RATE", 0),
		ShippingFee: getFloatEnv("SHIPPING_FEE", 0),
		CartTTLDays: getIntEnv("CART_TTL_DAYS", 30),

		PaymentBaseURL:       getEnvOrDefault("PAYMENT_BASE_URL", ""),
		PaymentAPIKey:        getEnvOrDefault("PAYMENT_API_KEY", ""),
		PaymentWebhookSecret: getEnvOrDefault("PAYMENT_WEBHOOK_SECRET", ""),

		LowStockThreshold: getIntEnv("LOW_STOCK_THRESHOLD", 5),
		RequestTimeout:    getDurationEnv("REQUEST_TIMEOUT_SECONDS", 5, time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int, unit time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * unit
		}
	}
	return time.Duration(defaultValue) * unit
}

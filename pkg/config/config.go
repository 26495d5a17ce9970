package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Company is the lender identity printed on receipts.
type Company struct {
	Name    string
	TaxID   string
	Address string
	Phone   string
	Email   string
}

// Config holds the server configuration.
type Config struct {
	Port             int
	DatabasePath     string
	ReceiptsDir      string
	ArrearsDailyRate decimal.Decimal
	LogLevel         string
	LogFormat        string
	OTELEndpoint     string
	OTELServiceName  string
	Company          Company
}

// Load reads an optional .env file and then the process environment.
// ARREARS_DAILY_RATE has no default and must be a non-negative decimal.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	rate, err := requireEnvDecimal("ARREARS_DAILY_RATE")
	if err != nil {
		return nil, err
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("config: ARREARS_DAILY_RATE must not be negative, got %s", rate)
	}

	cfg := &Config{
		Port:             getEnvInt("PORT", 8080),
		DatabasePath:     getEnvString("DATABASE_PATH", "loanbook.db"),
		ReceiptsDir:      getEnvString("RECEIPTS_DIR", "receipts"),
		ArrearsDailyRate: rate,
		LogLevel:         getEnvString("LOG_LEVEL", "info"),
		LogFormat:        getEnvString("LOG_FORMAT", "json"),
		OTELEndpoint:     getEnvString("OTEL_ENDPOINT", ""),
		OTELServiceName:  getEnvString("OTEL_SERVICE_NAME", "loanbook"),
		Company: Company{
			Name:    getEnvString("COMPANY_NAME", ""),
			TaxID:   getEnvString("COMPANY_TAX_ID", ""),
			Address: getEnvString("COMPANY_ADDRESS", ""),
			Phone:   getEnvString("COMPANY_PHONE", ""),
			Email:   getEnvString("COMPANY_EMAIL", ""),
		},
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func requireEnvDecimal(key string) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return decimal.Zero, fmt.Errorf("config: %s is required", key)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: invalid decimal %q: %w", key, value, err)
	}
	return d, nil
}

package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Automation AutomationConfig
	Payment    PaymentConfig
	Uploads    UploadConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr    string
	FrontendURL string
	BackendURL  string
}

// AutomationConfig holds job runner and registry configuration
type AutomationConfig struct {
	Workers        int
	QueueSize      int
	StageTimeout   time.Duration
	OTPTimeout     time.Duration
	CaptchaTimeout time.Duration
	PaymentTimeout time.Duration
	ReaperInterval time.Duration
}

// PaymentConfig holds SSLCommerz gateway configuration
type PaymentConfig struct {
	StoreID       string
	StorePassword string
	APIURL        string
	ValidationURL string
	Timeout       time.Duration
}

// UploadConfig holds directories for uploaded and produced files
type UploadConfig struct {
	PhotoDir      string
	DocumentDir   string
	DiagnosticDir string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", "sqlite://admitflow.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
			BackendURL:  getEnv("BACKEND_URL", "http://localhost:8080"),
		},
		Automation: AutomationConfig{
			Workers:        getEnvAsInt("AUTOMATION_WORKERS", 4),
			QueueSize:      getEnvAsInt("AUTOMATION_QUEUE_SIZE", 64),
			StageTimeout:   getEnvAsDuration("STAGE_TIMEOUT", 3*time.Minute),
			OTPTimeout:     getEnvAsDuration("OTP_TIMEOUT", 10*time.Minute),
			CaptchaTimeout: getEnvAsDuration("CAPTCHA_TIMEOUT", 5*time.Minute),
			PaymentTimeout: getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Minute),
			ReaperInterval: getEnvAsDuration("REAPER_INTERVAL", 30*time.Second),
		},
		Payment: PaymentConfig{
			StoreID:       getEnv("SSLCOMMERZ_STORE_ID", "testbox"),
			StorePassword: getEnv("SSLCOMMERZ_STORE_PASSWORD", "qwerty"),
			APIURL:        getEnv("SSLCOMMERZ_API_URL", "https://sandbox.sslcommerz.com/gwprocess/v4/api.php"),
			ValidationURL: getEnv("SSLCOMMERZ_VALIDATION_URL", "https://sandbox.sslcommerz.com/validator/api/validationserverAPI.php"),
			Timeout:       getEnvAsDuration("SSLCOMMERZ_TIMEOUT", 30*time.Second),
		},
		Uploads: UploadConfig{
			PhotoDir:      getEnv("UPLOAD_PHOTO_DIR", "./uploads/photos"),
			DocumentDir:   getEnv("UPLOAD_DOC_DIR", "./uploads/docs"),
			DiagnosticDir: getEnv("DIAGNOSTIC_DIR", "./uploads/diagnostics"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Automation.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "AUTOMATION_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Payment.StoreID == "" || c.Payment.StorePassword == "" {
		return NewAppError("CONFIG_ERROR", "SSLCommerz credentials are required", ErrInvalidInput)
	}
	return nil
}

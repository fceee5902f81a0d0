package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server
	Port string

	// Database (service state)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth (single admin user)
	AdminUsername    string
	AdminPassword    string // plaintext in env for initial setup, hashed on boot
	AdminDisplayName string
	AdminRole        string
	JWTSecret        string

	// Credential Encryption
	EncryptionKey string // 32-byte hex for AES-256-GCM

	// JIT account policy
	JITUsernamePrefix  string
	JITUsernameDigits  int
	JITRandomLength    int
	JITPasswordLength  int
	JITPasswordSymbols bool

	// Reaper
	ReaperIntervalSeconds int
	DriverTimeoutSeconds  int
}

func Load() *Config {
	reaperInterval, _ := strconv.Atoi(getEnv("REAPER_INTERVAL", "60"))
	driverTimeout, _ := strconv.Atoi(getEnv("DRIVER_TIMEOUT", "15"))
	usernameDigits, _ := strconv.Atoi(getEnv("JIT_USERNAME_DIGITS", "3"))
	randomLength, _ := strconv.Atoi(getEnv("JIT_RANDOM_LENGTH", "5"))
	passwordLength, _ := strconv.Atoi(getEnv("JIT_PASSWORD_LENGTH", "16"))

	return &Config{
		Port:                  getEnv("PORT", "8098"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                getEnv("DB_USER", "postgres"),
		DBPassword:            getEnv("DB_PASSWORD", ""),
		DBName:                getEnv("DB_NAME", "argus_db"),
		DBSSLMode:             getEnv("DB_SSLMODE", "disable"),
		AdminUsername:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:         getEnv("ADMIN_PASSWORD", ""),
		AdminDisplayName:      getEnv("ADMIN_DISPLAY_NAME", "Administrator"),
		AdminRole:             getEnv("ADMIN_ROLE", "admin"),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		EncryptionKey:         getEnv("ENCRYPTION_KEY", ""),
		JITUsernamePrefix:     getEnv("JIT_USERNAME_PREFIX", "argus"),
		JITUsernameDigits:     usernameDigits,
		JITRandomLength:       randomLength,
		JITPasswordLength:     passwordLength,
		JITPasswordSymbols:    getEnv("JIT_PASSWORD_SYMBOLS", "true") == "true",
		ReaperIntervalSeconds: reaperInterval,
		DriverTimeoutSeconds:  driverTimeout,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Session  SessionConfig
	Login    LoginConfig
	Threat   ThreatConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	// Secret signs session handles (HS256)
	Secret string
	// Timeout is the idle duration after which a session expires
	Timeout time.Duration
	// RotationInterval bounds how long a single session identifier stays valid
	RotationInterval time.Duration
	Issuer           string
}

// LoginConfig holds brute-force throttling configuration
type LoginConfig struct {
	// MaxAttempts is the failed-attempt budget before lockout
	MaxAttempts int
	// LockoutDuration is how long an account or source stays locked out
	LockoutDuration time.Duration
}

// ThreatConfig holds threat-detection configuration.
// Signature lists are data, not code: operators can replace the defaults
// without a rebuild.
type ThreatConfig struct {
	// SuspiciousMaxAttempts is the attempt budget for a client that has
	// already triggered a detection
	SuspiciousMaxAttempts int
	// SuspiciousWindow is the window for the suspicious-client budget
	SuspiciousWindow time.Duration
	// SQLPatterns, MarkupPatterns and TraversalPatterns are regular
	// expressions matched against request-supplied values
	SQLPatterns       []string
	MarkupPatterns    []string
	TraversalPatterns []string
	// UserAgentDenylist is matched as case-insensitive substrings
	UserAgentDenylist []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "admincore"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Session: SessionConfig{
			Secret:           getEnv("SESSION_SECRET", ""),
			Timeout:          getDurationEnv("SESSION_TIMEOUT", 30*time.Minute),
			RotationInterval: getDurationEnv("ROTATION_INTERVAL", 30*time.Minute),
			Issuer:           getEnv("SESSION_ISSUER", "admincore"),
		},
		Login: LoginConfig{
			MaxAttempts:     getIntEnv("MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration: getDurationEnv("LOGIN_LOCKOUT_DURATION", 15*time.Minute),
		},
		Threat: ThreatConfig{
			SuspiciousMaxAttempts: getIntEnv("THREAT_MAX_ATTEMPTS", 5),
			SuspiciousWindow:      getDurationEnv("THREAT_WINDOW", 5*time.Minute),
			SQLPatterns:           getListEnv("THREAT_SQL_PATTERNS", nil),
			MarkupPatterns:        getListEnv("THREAT_MARKUP_PATTERNS", nil),
			TraversalPatterns:     getListEnv("THREAT_TRAVERSAL_PATTERNS", nil),
			UserAgentDenylist:     getListEnv("THREAT_UA_DENYLIST", nil),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns a duration from an environment variable holding
// seconds, or the default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getIntEnv returns an integer from an environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// getListEnv returns a comma-separated list from an environment variable
// or default
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

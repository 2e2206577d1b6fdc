// Package config provides centralized default values for GuideRail
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if valStr := os.Getenv(key); valStr != "" {
		var out []string
		for _, part := range strings.Split(valStr, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			log.Printf("Config override: %s=%v", key, out)
			return out
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Database
	DatabaseDriver           string
	DatabaseDSN              string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int

	// State Store
	StateStoreDriver   string
	StateStoreDSN      string
	ConnectionStateTTL time.Duration
	JanitorInterval    time.Duration

	// Concurrency Guard
	LockTTL        time.Duration
	LockMaxRetries int
	LockBackoff    time.Duration
	LockBackoffMax time.Duration

	// Socket Configuration
	SocketReadLimit      int64
	SocketWriteTimeout   time.Duration
	SocketPingInterval   time.Duration
	SocketPongTimeout    time.Duration
	SocketSendBufferSize int

	// Room fan-out
	MaxRoomConnections int

	// Provisioning
	ActivationTokenTTL time.Duration
	AdminTokenTTL      time.Duration

	// Admin dashboard origins admitted by CORS
	DashboardOrigins []string
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Database
	DatabaseDriver = getEnvString("DATABASE_DRIVER", "sqlite3")
	DatabaseDSN = getEnvString("DATABASE_DSN", "guiderail.db")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)

	// State Store
	StateStoreDriver = getEnvString("STATE_STORE_DRIVER", "memory")
	StateStoreDSN = getEnvString("STATE_STORE_DSN", "")
	ConnectionStateTTL = getEnvDuration("CONNECTION_STATE_TTL", 30*time.Minute)
	JanitorInterval = getEnvDuration("STATE_JANITOR_INTERVAL", 5*time.Minute)

	// Concurrency Guard
	LockTTL = getEnvDuration("LOCK_TTL", 10*time.Second)
	LockMaxRetries = getEnvInt("LOCK_MAX_RETRIES", 20)
	LockBackoff = getEnvDuration("LOCK_BACKOFF", 50*time.Millisecond)
	LockBackoffMax = getEnvDuration("LOCK_BACKOFF_MAX", 1*time.Second)

	// Socket Configuration
	SocketReadLimit = int64(getEnvInt("SOCKET_READ_LIMIT_BYTES", 65536))
	SocketWriteTimeout = getEnvDuration("SOCKET_WRITE_TIMEOUT", 10*time.Second)
	SocketPingInterval = getEnvDuration("SOCKET_PING_INTERVAL", 25*time.Second)
	SocketPongTimeout = getEnvDuration("SOCKET_PONG_TIMEOUT", 60*time.Second)
	SocketSendBufferSize = getEnvInt("SOCKET_SEND_BUFFER_SIZE", 32)

	// Room fan-out
	MaxRoomConnections = getEnvInt("MAX_ROOM_CONNECTIONS", 100)

	// Provisioning
	ActivationTokenTTL = getEnvDuration("ACTIVATION_TOKEN_TTL", 48*time.Hour)
	AdminTokenTTL = getEnvDuration("ADMIN_TOKEN_TTL", 24*time.Hour)

	// Local dashboard dev servers by default; production sets its own list.
	DashboardOrigins = getEnvList("DASHBOARD_ORIGINS", []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	})
}

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all hub-server configuration
type Config struct {
	// Server configuration (health/status HTTP)
	Server ServerConfig `json:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database"`

	// MQTT configuration
	MQTT MQTTConfig `json:"mqtt"`

	// CSV persistence configuration
	CSV CSVConfig `json:"csv"`

	// Push notification configuration
	Push PushConfig `json:"push"`

	// Socket configuration
	Socket SocketConfig `json:"socket"`

	// Telemetry worker configuration
	Worker WorkerConfig `json:"worker"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"broker_pass"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	ClientID    string        `json:"client_id"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
	QueueSize   int           `json:"queue_size"`
	Workers     int           `json:"workers"`
}

// CSVConfig holds CSV persistence configuration
type CSVConfig struct {
	Dir string `json:"dir"`
}

// PushConfig holds FCM push notification configuration
type PushConfig struct {
	Enabled        bool          `json:"enabled"`
	CredentialPath string        `json:"credential_path"`
	Cooldown       time.Duration `json:"cooldown"`
}

// SocketConfig holds websocket hub configuration
type SocketConfig struct {
	JWTSecret    string        `json:"jwt_secret"`
	PingInterval time.Duration `json:"ping_interval"`
	WriteTimeout time.Duration `json:"write_timeout"`
	SendBuffer   int           `json:"send_buffer"`
}

// WorkerConfig holds telemetry broadcast worker configuration
type WorkerConfig struct {
	BatchSize            int           `json:"batch_size"`
	ProcessInterval      time.Duration `json:"process_interval"`
	BroadcastInterval    time.Duration `json:"broadcast_interval"`
	MinBroadcastInterval time.Duration `json:"min_broadcast_interval"`
	RingSize             int           `json:"ring_size"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil {
		// Environment variables may be set directly
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "9010"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getRequiredEnv("POSTGRES_USER"),
			Password: getRequiredEnv("POSTGRES_PASSWORD"),
			DBName:   getEnv("POSTGRES_DB", "talktail"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getInt("POSTGRES_MAX_CONNS", 25),
		},
		MQTT: MQTTConfig{
			BrokerHost:  getEnv("BROKER_HOST", "localhost"),
			BrokerPort:  getInt("BROKER_PORT", 1883),
			BrokerUser:  getEnv("BROKER_USER", ""),
			BrokerPass:  getEnv("BROKER_PASS", ""),
			UseTLS:      getBool("BROKER_TLS", false),
			CACertPath:  getEnv("BROKER_CA_FILE", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "hub-telemetry-server"),
			KeepAlive:   getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout: getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
			QueueSize:   getInt("MQTT_QUEUE_SIZE", 4096),
			Workers:     getInt("MQTT_WORKERS", 8),
		},
		CSV: CSVConfig{
			Dir: getEnv("CSV_DIR", "./data/csv"),
		},
		Push: PushConfig{
			Enabled:        getBool("FCM_ENABLED", false),
			CredentialPath: getEnv("FCM_CREDENTIAL_PATH", ""),
			Cooldown:       getDuration("DISCONNECT_COOLDOWN", 5*time.Minute),
		},
		Socket: SocketConfig{
			JWTSecret:    getEnv("JWT_SECRET_KEY", "change-this-secret-in-production"),
			PingInterval: getDuration("SOCKET_PING_INTERVAL", 30*time.Second),
			WriteTimeout: getDuration("SOCKET_WRITE_TIMEOUT", 10*time.Second),
			SendBuffer:   getInt("SOCKET_SEND_BUFFER", 64),
		},
		Worker: WorkerConfig{
			BatchSize:            getInt("WORKER_BATCH_SIZE", 100),
			ProcessInterval:      getDuration("WORKER_PROCESS_INTERVAL", 50*time.Millisecond),
			BroadcastInterval:    getDuration("WORKER_BROADCAST_INTERVAL", 1*time.Second),
			MinBroadcastInterval: getDuration("WORKER_MIN_BROADCAST_INTERVAL", 500*time.Millisecond),
			RingSize:             getInt("WORKER_RING_SIZE", 1000),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.User == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if c.Socket.JWTSecret == "change-this-secret-in-production" {
		log.Println("WARNING: Using default JWT secret key. Change JWT_SECRET_KEY in production!")
	}
	if c.MQTT.QueueSize < 1 {
		return fmt.Errorf("MQTT_QUEUE_SIZE must be at least 1")
	}
	if c.MQTT.Workers < 1 {
		return fmt.Errorf("MQTT_WORKERS must be at least 1")
	}
	if c.Push.Cooldown <= 0 {
		return fmt.Errorf("DISCONNECT_COOLDOWN must be positive")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("missing required environment variable: %s", key)
	}
	return value
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config aggregates every runtime setting of the relay.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	WebSocket WebSocketConfig
	Simulator SimulatorConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ws, err := loadWebSocketConfig()
	if err != nil {
		return nil, err
	}

	sim, err := loadSimulatorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		CORS:      loadCORSConfig(),
		Log:       logCfg,
		WebSocket: ws,
		Simulator: sim,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, ":") {
		// ":5000" and "127.0.0.1:5000" are accepted as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// CORSConfig is the cross-origin policy shared by the REST routes and the
// WebSocket upgrade.
type CORSConfig struct {
	AllowedOrigins []string
}

func loadCORSConfig() CORSConfig {
	raw := getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return CORSConfig{AllowedOrigins: origins}
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  logrus.Level
	Format string
}

func loadLogConfig() (LogConfig, error) {
	rawLevel := getEnvOrDefault("LOG_LEVEL", "info")
	level, err := logrus.ParseLevel(rawLevel)
	if err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", rawLevel, err)
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value: %q", format)
	}

	return LogConfig{Level: level, Format: format}, nil
}

// WebSocketConfig bounds per-connection resources.
type WebSocketConfig struct {
	MaxMessageSize int64
	SendBuffer     int
}

func loadWebSocketConfig() (WebSocketConfig, error) {
	cfg := WebSocketConfig{
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}

	size, err := parseOptionalIntEnv("WS_MAX_MESSAGE_SIZE")
	if err != nil {
		return WebSocketConfig{}, err
	}
	if size != nil {
		if *size <= 0 {
			return WebSocketConfig{}, fmt.Errorf("invalid WS_MAX_MESSAGE_SIZE value: %d", *size)
		}
		cfg.MaxMessageSize = int64(*size)
	}

	buffer, err := parseOptionalIntEnv("WS_SEND_BUFFER")
	if err != nil {
		return WebSocketConfig{}, err
	}
	if buffer != nil {
		if *buffer <= 0 {
			return WebSocketConfig{}, fmt.Errorf("invalid WS_SEND_BUFFER value: %d", *buffer)
		}
		cfg.SendBuffer = *buffer
	}

	return cfg, nil
}

// SimulatorConfig toggles the synthetic activity generator.
type SimulatorConfig struct {
	Enabled bool
}

func loadSimulatorConfig() (SimulatorConfig, error) {
	enabled, err := parseBoolEnv("SIMULATOR_ENABLED", true)
	if err != nil {
		return SimulatorConfig{}, err
	}
	return SimulatorConfig{Enabled: enabled}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

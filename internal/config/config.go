package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds liveclass-gateway configuration (shape as streaming-service template).
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // APP_PORT or HTTP_PORT
	LogLevel string // LOG_LEVEL

	// Tuition backend
	BackendBaseURL string // BACKEND_BASE_URL, e.g. http://localhost:6001
	ChannelURL     string // CHANNEL_URL, e.g. ws://localhost:6001/socket

	// Identity the gateway acts for (resolved at login, passed via env)
	Identity struct {
		ID     string
		Name   string
		Role   string
		Cohort string // the student's class, unused for teachers
	}

	// Realtime channel
	ReconnectAttempts int           // CHANNEL_RECONNECT_ATTEMPTS
	ReconnectDelay    time.Duration // CHANNEL_RECONNECT_DELAY (seconds)
	WSReadBufferSize  int
	WSWriteBufferSize int

	// Intents
	IntentTimeout time.Duration // INTENT_TIMEOUT (seconds) for backend round trips

	// External video rooms
	MeetBaseURL string // MEET_BASE_URL (default https://meet.jit.si)

	// Local meeting-record store
	StorePath string // STORE_PATH (sqlite file)
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	readBuf, _ := strconv.Atoi(getEnv("WS_READ_BUFFER_SIZE", "4096"))
	writeBuf, _ := strconv.Atoi(getEnv("WS_WRITE_BUFFER_SIZE", "4096"))
	attempts, _ := strconv.Atoi(getEnv("CHANNEL_RECONNECT_ATTEMPTS", "5"))
	delaySec, _ := strconv.Atoi(getEnv("CHANNEL_RECONNECT_DELAY", "3"))
	intentSec, _ := strconv.Atoi(getEnv("INTENT_TIMEOUT", "10"))

	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		AppHost:           getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:          firstEnv("APP_PORT", "HTTP_PORT", "6080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		BackendBaseURL:    getEnv("BACKEND_BASE_URL", "http://localhost:6001"),
		ChannelURL:        getEnv("CHANNEL_URL", ""),
		ReconnectAttempts: attempts,
		ReconnectDelay:    time.Duration(delaySec) * time.Second,
		WSReadBufferSize:  readBuf,
		WSWriteBufferSize: writeBuf,
		IntentTimeout:     time.Duration(intentSec) * time.Second,
		MeetBaseURL:       getEnv("MEET_BASE_URL", "https://meet.jit.si"),
		StorePath:         getEnv("STORE_PATH", "meetings.db"),
	}
	cfg.Identity.ID = getEnv("USER_ID", "")
	cfg.Identity.Name = getEnv("USER_NAME", "")
	cfg.Identity.Role = getEnv("USER_ROLE", "")
	cfg.Identity.Cohort = getEnv("USER_CLASS", "")
	if cfg.ChannelURL == "" {
		cfg.ChannelURL = deriveChannelURL(cfg.BackendBaseURL)
	}
	return cfg, nil
}

// Validate checks required fields and known roles.
func (c *Config) Validate() error {
	if c.BackendBaseURL == "" {
		return errors.New("config: BACKEND_BASE_URL is required")
	}
	if _, err := url.Parse(c.BackendBaseURL); err != nil {
		return fmt.Errorf("config: BACKEND_BASE_URL: %w", err)
	}
	if c.ChannelURL == "" {
		return errors.New("config: CHANNEL_URL is required")
	}
	if c.Identity.ID == "" {
		return errors.New("config: USER_ID is required")
	}
	switch c.Identity.Role {
	case "teacher", "student", "admin":
	default:
		return fmt.Errorf("config: USER_ROLE must be teacher, student or admin, got %q", c.Identity.Role)
	}
	if c.ReconnectAttempts < 0 {
		return errors.New("config: CHANNEL_RECONNECT_ATTEMPTS must be >= 0")
	}
	if c.IntentTimeout <= 0 {
		return errors.New("config: INTENT_TIMEOUT must be positive")
	}
	return nil
}

// Addr returns listen address for HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// deriveChannelURL maps the backend base URL to its websocket endpoint
// (http -> ws, https -> wss) when CHANNEL_URL is not set explicitly.
func deriveChannelURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/socket"
	return u.String()
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	keys := keysAndDef[:len(keysAndDef)-1]
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

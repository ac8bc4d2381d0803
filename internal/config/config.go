package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"poputka/internal/models"
)

const DefaultPollInterval = 5 * time.Second

type Transport string

const (
	TransportPoll   Transport = "poll"
	TransportStream Transport = "stream"
)

// Server configures the development chat server.
type Server struct {
	DBFile   string
	APIAddr  string
	SeedDemo bool
	LogLevel string
	LogSink  string
}

func LoadServer() (*Server, error) {
	seed, err := strconv.ParseBool(getEnv("SEED_DEMO", "true"))
	if err != nil {
		return nil, fmt.Errorf("SEED_DEMO: %w", err)
	}

	cfg := &Server{
		DBFile:   getEnv("POPUTKA_DB", "poputka.db"),
		APIAddr:  getEnv("API_ADDR", ":8080"),
		SeedDemo: seed,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogSink:  getEnv("LOG_SINK", "stderr"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Server) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("POPUTKA_DB is required")
	}
	return nil
}

// Client configures the chat client. The user id and token come from the
// session collaborator and are read-only here.
type Client struct {
	ServerURL    string
	UserID       string
	Role         models.Role
	Token        string
	PollInterval time.Duration
	Transport    Transport
	AutoSelect   bool
	LogLevel     string
	LogSink      string
}

func LoadClient() (*Client, error) {
	interval, err := time.ParseDuration(getEnv("POLL_INTERVAL", DefaultPollInterval.String()))
	if err != nil {
		return nil, fmt.Errorf("POLL_INTERVAL: %w", err)
	}

	cfg := &Client{
		ServerURL:    getEnv("POPUTKA_SERVER", "http://localhost:8080"),
		UserID:       os.Getenv("POPUTKA_USER"),
		Role:         models.Role(os.Getenv("POPUTKA_ROLE")),
		Token:        os.Getenv("POPUTKA_TOKEN"),
		PollInterval: interval,
		Transport:    Transport(getEnv("POPUTKA_TRANSPORT", string(TransportPoll))),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogSink:      getEnv("LOG_SINK", "file:poputka.log"),
	}

	cfg.AutoSelect = cfg.Role.DefaultAutoSelect()
	if v, ok := os.LookupEnv("AUTO_SELECT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("AUTO_SELECT: %w", err)
		}
		cfg.AutoSelect = b
	}

	return cfg, nil
}

func (c *Client) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("POPUTKA_USER is required")
	}
	if _, err := models.ParseRole(string(c.Role)); err != nil {
		return fmt.Errorf("POPUTKA_ROLE: %w", err)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be greater than 0")
	}
	switch c.Transport {
	case TransportPoll, TransportStream:
	default:
		return fmt.Errorf("POPUTKA_TRANSPORT must be %q or %q", TransportPoll, TransportStream)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("POPUTKA_SERVER must be an absolute URL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

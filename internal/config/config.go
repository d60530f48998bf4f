package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile         string
	AdminAddr      string
	APIAddr        string
	BaseURL        string
	UploadsPath    string
	RecentMessages int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
}

func Load() (*Config, error) {
	recent, err := strconv.Atoi(getEnv("RECENT_MESSAGES", "50"))
	if err != nil {
		return nil, fmt.Errorf("RECENT_MESSAGES is not a number: %w", err)
	}

	cfg := &Config{
		DBFile:          getEnv("CHAT_DB", "chatterbox.db"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:     getEnv("UPLOADS_PATH", "uploads"),
		RecentMessages:  recent,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return errors.New("CHAT_DB is required")
	}

	if c.RecentMessages <= 0 {
		return errors.New("RECENT_MESSAGES must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

type ClientConfig struct {
	ServerURL       string
	UserID          string
	NotificationTTL time.Duration
}

func LoadClient() (*ClientConfig, error) {
	ttl, err := time.ParseDuration(getEnv("NOTIFICATION_TTL", "4s"))
	if err != nil {
		return nil, fmt.Errorf("NOTIFICATION_TTL is not a duration: %w", err)
	}

	cfg := &ClientConfig{
		ServerURL:       getEnv("CHAT_SERVER_URL", "http://localhost:8080"),
		UserID:          os.Getenv("CHAT_USER_ID"),
		NotificationTTL: ttl,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.UserID == "" {
		return errors.New("CHAT_USER_ID is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CHAT_SERVER_URL %q is not an http(s) URL", c.ServerURL)
	}

	if c.NotificationTTL < 0 {
		return errors.New("NOTIFICATION_TTL must not be negative")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

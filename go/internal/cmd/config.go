package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from a yaml file.
// Database settings come from DB_* environment variables instead, see
// the dbconfig package.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Billing struct {
		QuantumSeconds int64  `yaml:"quantum_seconds"`
		SessionURLBase string `yaml:"session_url_base"`
		WebhookSecret  string `yaml:"webhook_secret"`
	} `yaml:"billing"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Outbox struct {
		PollIntervalMS int   `yaml:"poll_interval_ms"`
		BatchSize      int32 `yaml:"batch_size"`
	} `yaml:"outbox"`

	Auth struct {
		// DevTokens maps static bearer tokens to user ids for local
		// development. Production replaces the verifier entirely.
		DevTokens map[string]string `yaml:"dev_tokens"`
	} `yaml:"auth"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.Port = "8080"
	config.Billing.QuantumSeconds = 900
	config.Billing.SessionURLBase = "http://localhost:5173/sessions/"
	config.NATS.URL = "nats://localhost:4222"
	config.Outbox.PollIntervalMS = 1000
	config.Outbox.BatchSize = 100
	return &config
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Secrets prefer the environment over the checked-in file.
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		config.Billing.WebhookSecret = secret
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

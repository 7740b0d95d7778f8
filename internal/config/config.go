// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads and parses a configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML, expanding ${ENV}
// references before unmarshaling.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no source
// set; callers must fill in Source before use.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Source.LinkPattern == "" {
		c.Source.LinkPattern = "/offers/"
	}
	if c.Discovery.TargetMatches == 0 {
		c.Discovery.TargetMatches = 1
	}
	if c.Discovery.MaxPages == 0 {
		c.Discovery.MaxPages = 200
	}
	if c.Discovery.PageParam == "" {
		c.Discovery.PageParam = "page"
	}
	if c.Discovery.PageDelay == 0 {
		c.Discovery.PageDelay = 3 * time.Second
	}
	if c.Discovery.SkipTopListings == 0 {
		c.Discovery.SkipTopListings = 3
	}
	if c.Discovery.PageLoadTimeout == 0 {
		c.Discovery.PageLoadTimeout = 30 * time.Second
	}
	if c.Fetcher.RequestTimeout == 0 {
		c.Fetcher.RequestTimeout = 10 * time.Second
	}
	if c.Fetcher.MaxAttempts == 0 {
		c.Fetcher.MaxAttempts = 3
	}
	if c.Fetcher.RateLimitWait == 0 {
		c.Fetcher.RateLimitWait = 10 * time.Second
	}
	if c.Fetcher.TimeoutWait == 0 {
		c.Fetcher.TimeoutWait = 3 * time.Second
	}
	if c.Fetcher.MinDelay == 0 {
		c.Fetcher.MinDelay = 1 * time.Second
	}
	if c.Fetcher.MaxDelay == 0 {
		c.Fetcher.MaxDelay = 3 * time.Second
	}
	if c.Fetcher.BatchMinDelay == 0 {
		c.Fetcher.BatchMinDelay = 3 * time.Second
	}
	if c.Fetcher.BatchMaxDelay == 0 {
		c.Fetcher.BatchMaxDelay = 6 * time.Second
	}
	if c.Fetcher.CheckpointEvery == 0 {
		c.Fetcher.CheckpointEvery = 20
	}
	if c.Fetcher.CheckpointPause == 0 {
		c.Fetcher.CheckpointPause = 10 * time.Second
	}
	if c.Files.MainLinks == "" {
		c.Files.MainLinks = "car_links.txt"
	}
	if c.Files.NewLinks == "" {
		c.Files.NewLinks = "new_links.txt"
	}
	if c.Files.LatestLinks == "" {
		c.Files.LatestLinks = "latest_links.txt"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "vehicles"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "listings"
	}
	if c.Mongo.StatsCollection == "" {
		c.Mongo.StatsCollection = "scraping_stats"
	}
	if c.Mongo.Timeout == 0 {
		c.Mongo.Timeout = 10 * time.Second
	}
	if c.Archive.Table == "" {
		c.Archive.Table = "vehicles"
	}
	if c.Schedule.Hour == 0 && c.Schedule.Minute == 0 && c.Schedule.IntervalHours == 0 {
		c.Schedule.Hour = 2
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

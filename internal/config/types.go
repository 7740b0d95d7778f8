// internal/config/types.go
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for the scraper service.
type Config struct {
	Source    SourceConfig    `yaml:"source" json:"source"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Fetcher   FetcherConfig   `yaml:"fetcher" json:"fetcher"`
	Files     FilesConfig     `yaml:"files" json:"files"`
	Mongo     MongoConfig     `yaml:"mongo" json:"mongo"`
	Archive   ArchiveConfig   `yaml:"archive" json:"archive"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	LogLevel  string          `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// SourceConfig describes the listings site being crawled.
type SourceConfig struct {
	ListURL     string `yaml:"list_url" json:"list_url"`
	LinkPattern string `yaml:"link_pattern" json:"link_pattern"` // substring a listing href must contain
	Domain      string `yaml:"domain" json:"domain"`
}

// DiscoveryConfig controls the incremental link-discovery crawl.
type DiscoveryConfig struct {
	TargetMatches   int           `yaml:"target_matches" json:"target_matches"`
	MaxPages        int           `yaml:"max_pages" json:"max_pages"`
	PageParam       string        `yaml:"page_param" json:"page_param"`
	PageDelay       time.Duration `yaml:"page_delay" json:"page_delay"`
	SkipTopListings int           `yaml:"skip_top_listings" json:"skip_top_listings"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout" json:"page_load_timeout"`
	Headless        bool          `yaml:"headless" json:"headless"`
	UserAgent       string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// FetcherConfig controls per-vehicle detail fetching.
type FetcherConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	RateLimitWait   time.Duration `yaml:"rate_limit_wait" json:"rate_limit_wait"`
	TimeoutWait     time.Duration `yaml:"timeout_wait" json:"timeout_wait"`
	MinDelay        time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay        time.Duration `yaml:"max_delay" json:"max_delay"`
	BatchMinDelay   time.Duration `yaml:"batch_min_delay" json:"batch_min_delay"`
	BatchMaxDelay   time.Duration `yaml:"batch_max_delay" json:"batch_max_delay"`
	CheckpointEvery int           `yaml:"checkpoint_every" json:"checkpoint_every"`
	CheckpointPause time.Duration `yaml:"checkpoint_pause" json:"checkpoint_pause"`
	UserAgent       string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// FilesConfig holds the link-file paths persisted between runs.
type FilesConfig struct {
	MainLinks   string `yaml:"main_links" json:"main_links"`
	NewLinks    string `yaml:"new_links" json:"new_links"`
	LatestLinks string `yaml:"latest_links" json:"latest_links"`
	WorkDir     string `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
}

// MongoConfig holds store connection settings. Credentials normally arrive
// via ${MONGODB_USER} / ${MONGODB_PASSWORD} expansion in the YAML.
type MongoConfig struct {
	User            string        `yaml:"user" json:"user"`
	Password        string        `yaml:"password" json:"-"`
	Cluster         string        `yaml:"cluster" json:"cluster"`
	Database        string        `yaml:"database" json:"database"`
	Collection      string        `yaml:"collection" json:"collection"`
	StatsCollection string        `yaml:"stats_collection" json:"stats_collection"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// ArchiveConfig enables the optional local SQLite mirror of cleaned records.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Table   string `yaml:"table" json:"table"`
}

// ScheduleConfig controls the periodic pipeline trigger.
type ScheduleConfig struct {
	Hour          int `yaml:"hour" json:"hour"`
	Minute        int `yaml:"minute" json:"minute"`
	IntervalHours int `yaml:"interval_hours" json:"interval_hours"`
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Source.ListURL == "" {
		return fmt.Errorf("source.list_url is required")
	}
	if c.Source.LinkPattern == "" {
		return fmt.Errorf("source.link_pattern is required")
	}
	if c.Discovery.TargetMatches <= 0 {
		return fmt.Errorf("discovery.target_matches must be positive")
	}
	if c.Discovery.MaxPages <= 0 {
		return fmt.Errorf("discovery.max_pages must be positive")
	}
	if c.Fetcher.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.max_attempts must be positive")
	}
	if c.Fetcher.MinDelay > c.Fetcher.MaxDelay {
		return fmt.Errorf("fetcher.min_delay cannot exceed fetcher.max_delay")
	}
	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		return fmt.Errorf("schedule.hour must be in [0,23]")
	}
	if c.Schedule.Minute < 0 || c.Schedule.Minute > 59 {
		return fmt.Errorf("schedule.minute must be in [0,59]")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when archive is enabled")
	}
	return nil
}

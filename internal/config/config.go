// Package config loads shelfgrab configuration from defaults, an optional
// YAML file, a .env file and SHELFGRAB_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Tracker      TrackerConfig      `mapstructure:"tracker" yaml:"tracker"`
	QBittorrent  QBittorrentConfig  `mapstructure:"qbittorrent" yaml:"qbittorrent"`
	Library      LibraryConfig      `mapstructure:"library" yaml:"library"`
	Search       SearchConfig       `mapstructure:"search" yaml:"search"`
	Autograbbers []GrabberConfig    `mapstructure:"autograbbers" yaml:"autograbbers"`
	Snatchlists  []GrabberConfig    `mapstructure:"snatchlists" yaml:"snatchlists"`
	ListImports  []ListImportConfig `mapstructure:"list_imports" yaml:"list_imports"`
	Downloader   DownloaderConfig   `mapstructure:"downloader" yaml:"downloader"`
	Cleaner      CleanerConfig      `mapstructure:"cleaner" yaml:"cleaner"`
	History      HistoryConfig      `mapstructure:"history" yaml:"history"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// TrackerConfig holds tracker API configuration.
type TrackerConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	MamID     string        `mapstructure:"mam_id" yaml:"mam_id"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	PageDelay time.Duration `mapstructure:"page_delay" yaml:"page_delay"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// QBittorrentConfig holds download client configuration.
type QBittorrentConfig struct {
	Client   string        `mapstructure:"client" yaml:"client"`
	URL      string        `mapstructure:"url" yaml:"url"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Category string        `mapstructure:"category" yaml:"category"`
	SavePath string        `mapstructure:"save_path" yaml:"save_path"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LibraryConfig lists linkers that move completed downloads into libraries.
type LibraryConfig struct {
	Linkers      []LinkerConfig `mapstructure:"linkers" yaml:"linkers"`
	LinkInterval time.Duration  `mapstructure:"link_interval" yaml:"link_interval"`
}

// LinkerConfig maps a download directory to a library root.
type LinkerConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	DownloadDir  string `mapstructure:"download_dir" yaml:"download_dir"`
	LibraryDir   string `mapstructure:"library_dir" yaml:"library_dir"`
	Category     string `mapstructure:"category" yaml:"category"`
	WriteSidecar bool   `mapstructure:"write_sidecar" yaml:"write_sidecar"`
}

// SearchConfig holds selection rules shared by every search pipeline.
type SearchConfig struct {
	AudioTypes     []string        `mapstructure:"audio_types" yaml:"audio_types"`
	EbookTypes     []string        `mapstructure:"ebook_types" yaml:"ebook_types"`
	IgnoreTorrents []int64         `mapstructure:"ignore_torrents" yaml:"ignore_torrents"`
	TagRules       []TagRuleConfig `mapstructure:"tag_rules" yaml:"tag_rules"`
}

// TagRuleConfig assigns a category and tags to matching candidates.
type TagRuleConfig struct {
	Categories []string `mapstructure:"categories" yaml:"categories"`
	Languages  []string `mapstructure:"languages" yaml:"languages"`
	Flags      []string `mapstructure:"flags" yaml:"flags"`
	Authors    []string `mapstructure:"authors" yaml:"authors"`
	Category   string   `mapstructure:"category" yaml:"category"`
	Tags       []string `mapstructure:"tags" yaml:"tags"`
}

// QueryConfig is the tracker search filter of a grabber.
type QueryConfig struct {
	Kind       string   `mapstructure:"kind" yaml:"kind"`
	Text       string   `mapstructure:"text" yaml:"text"`
	SearchIn   []string `mapstructure:"search_in" yaml:"search_in"`
	Categories []string `mapstructure:"categories" yaml:"categories"`
	Languages  []string `mapstructure:"languages" yaml:"languages"`
	Flags      []string `mapstructure:"flags" yaml:"flags"`
	MinSize    int64    `mapstructure:"min_size" yaml:"min_size"`
	MaxSize    int64    `mapstructure:"max_size" yaml:"max_size"`
}

// GrabberConfig configures an autograbber or snatchlist pipeline.
type GrabberConfig struct {
	Name        string        `mapstructure:"name" yaml:"name"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	RunOnStart  bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	Query       QueryConfig   `mapstructure:"query" yaml:"query"`
	Cost        string        `mapstructure:"cost" yaml:"cost"`
	UnsatBuffer *int          `mapstructure:"unsat_buffer" yaml:"unsat_buffer,omitempty"`
	WedgeBuffer *int          `mapstructure:"wedge_buffer" yaml:"wedge_buffer,omitempty"`
	Category    string        `mapstructure:"category" yaml:"category"`
	MaxPages    int           `mapstructure:"max_pages" yaml:"max_pages"`
	MaxAccept   *int          `mapstructure:"max_accept" yaml:"max_accept,omitempty"`
	DryRun      bool          `mapstructure:"dry_run" yaml:"dry_run"`
}

// ListImportConfig configures an RSS shelf import pipeline.
type ListImportConfig struct {
	Name        string        `mapstructure:"name" yaml:"name"`
	URL         string        `mapstructure:"url" yaml:"url"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	RunOnStart  bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	Cost        string        `mapstructure:"cost" yaml:"cost"`
	Categories  []string      `mapstructure:"categories" yaml:"categories"`
	UnsatBuffer *int          `mapstructure:"unsat_buffer" yaml:"unsat_buffer,omitempty"`
	WedgeBuffer *int          `mapstructure:"wedge_buffer" yaml:"wedge_buffer,omitempty"`
	Category    string        `mapstructure:"category" yaml:"category"`
	MaxAccept   *int          `mapstructure:"max_accept" yaml:"max_accept,omitempty"`
	DryRun      bool          `mapstructure:"dry_run" yaml:"dry_run"`
}

// DownloaderConfig configures the downloader pipeline.
type DownloaderConfig struct {
	Interval           time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxActiveDownloads int           `mapstructure:"max_active_downloads" yaml:"max_active_downloads"`
	UnsatBuffer        int           `mapstructure:"unsat_buffer" yaml:"unsat_buffer"`
	WedgeBuffer        int           `mapstructure:"wedge_buffer" yaml:"wedge_buffer"`
}

// CleanerConfig configures the cleaner pipeline.
type CleanerConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// HistoryConfig configures event retention.
type HistoryConfig struct {
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	CleanupCron   string `mapstructure:"cleanup_cron" yaml:"cleanup_cron"`
}

// Cost policies a grabber may be configured with.
const (
	CostFree            = "free"
	CostWedge           = "wedge"
	CostTryWedge        = "try_wedge"
	CostRatio           = "ratio"
	CostMetadataOnly    = "metadata_only"
	CostMetadataOnlyAdd = "metadata_only_add"
)

var validCosts = map[string]bool{
	CostFree:            true,
	CostWedge:           true,
	CostTryWedge:        true,
	CostRatio:           true,
	CostMetadataOnly:    true,
	CostMetadataOnlyAdd: true,
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.shelfgrab")
	}

	v.SetEnvPrefix("SHELFGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills per-pipeline fields that have no viper key.
func (c *Config) applyDefaults() {
	for i := range c.Snatchlists {
		if c.Snatchlists[i].Cost == "" {
			c.Snatchlists[i].Cost = CostMetadataOnlyAdd
		}
		if c.Snatchlists[i].Query.Kind == "" {
			c.Snatchlists[i].Query.Kind = "snatched"
		}
	}
	for i := range c.ListImports {
		if c.ListImports[i].Cost == "" {
			c.ListImports[i].Cost = CostFree
		}
	}
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("tracker.base_url", d.Tracker.BaseURL)
	v.SetDefault("tracker.mam_id", "")
	v.SetDefault("tracker.user_agent", d.Tracker.UserAgent)
	v.SetDefault("tracker.page_delay", d.Tracker.PageDelay)
	v.SetDefault("tracker.timeout", d.Tracker.Timeout)

	v.SetDefault("qbittorrent.client", d.QBittorrent.Client)
	v.SetDefault("qbittorrent.url", d.QBittorrent.URL)
	v.SetDefault("qbittorrent.username", "")
	v.SetDefault("qbittorrent.password", "")
	v.SetDefault("qbittorrent.category", d.QBittorrent.Category)
	v.SetDefault("qbittorrent.save_path", "")
	v.SetDefault("qbittorrent.timeout", d.QBittorrent.Timeout)

	v.SetDefault("library.link_interval", d.Library.LinkInterval)

	v.SetDefault("search.audio_types", d.Search.AudioTypes)
	v.SetDefault("search.ebook_types", d.Search.EbookTypes)

	v.SetDefault("downloader.interval", d.Downloader.Interval)
	v.SetDefault("downloader.max_active_downloads", d.Downloader.MaxActiveDownloads)
	v.SetDefault("downloader.unsat_buffer", d.Downloader.UnsatBuffer)
	v.SetDefault("downloader.wedge_buffer", d.Downloader.WedgeBuffer)

	v.SetDefault("cleaner.interval", d.Cleaner.Interval)

	v.SetDefault("history.retention_days", d.History.RetentionDays)
	v.SetDefault("history.cleanup_cron", d.History.CleanupCron)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3157,
		},
		Database: DatabaseConfig{
			Path: "./data/shelfgrab.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Tracker: TrackerConfig{
			BaseURL:   "https://www.myanonamouse.net",
			UserAgent: "shelfgrab/1.0",
			PageDelay: time.Second,
			Timeout:   30 * time.Second,
		},
		QBittorrent: QBittorrentConfig{
			Client:   "qbittorrent",
			URL:      "http://localhost:8080",
			Category: "shelfgrab",
			Timeout:  30 * time.Second,
		},
		Library: LibraryConfig{
			LinkInterval: 10 * time.Minute,
		},
		Search: SearchConfig{
			AudioTypes: []string{"m4b", "mp3", "m4a", "flac"},
			EbookTypes: []string{"epub", "azw3", "pdf", "mobi"},
		},
		Downloader: DownloaderConfig{
			Interval:           10 * time.Minute,
			MaxActiveDownloads: 5,
			UnsatBuffer:        10,
			WedgeBuffer:        0,
		},
		Cleaner: CleanerConfig{
			Interval: time.Hour,
		},
		History: HistoryConfig{
			RetentionDays: 365,
			CleanupCron:   "30 3 * * *",
		},
	}
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	var errs []error
	names := make(map[string]string)

	claim := func(kind, name string) {
		if name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", kind))
			return
		}
		if prev, ok := names[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q: name already used by a %s", kind, name, prev))
			return
		}
		names[name] = kind
	}

	for _, g := range c.Autograbbers {
		claim("autograbber", g.Name)
		errs = append(errs, validateGrabber("autograbber", g)...)
	}
	for _, g := range c.Snatchlists {
		claim("snatchlist", g.Name)
		errs = append(errs, validateGrabber("snatchlist", g)...)
	}
	for _, l := range c.ListImports {
		claim("list import", l.Name)
		if l.URL == "" {
			errs = append(errs, fmt.Errorf("list import %q: url is required", l.Name))
		}
		if l.Cost != "" && !validCosts[l.Cost] {
			errs = append(errs, fmt.Errorf("list import %q: unknown cost %q", l.Name, l.Cost))
		}
		if l.Interval < 0 {
			errs = append(errs, fmt.Errorf("list import %q: interval must not be negative", l.Name))
		}
		if negative(l.MaxAccept) {
			errs = append(errs, fmt.Errorf("list import %q: max_accept must not be negative", l.Name))
		}
	}
	for _, l := range c.Library.Linkers {
		claim("linker", l.Name)
		if l.LibraryDir == "" {
			errs = append(errs, fmt.Errorf("linker %q: library_dir is required", l.Name))
		}
	}

	if c.Downloader.Interval < 0 || c.Cleaner.Interval < 0 || c.Library.LinkInterval < 0 {
		errs = append(errs, errors.New("pipeline intervals must not be negative"))
	}
	if c.QBittorrent.Client != "" && c.QBittorrent.Client != "qbittorrent" && c.QBittorrent.Client != "mock" {
		errs = append(errs, fmt.Errorf("qbittorrent.client: unknown client %q", c.QBittorrent.Client))
	}
	if c.Downloader.MaxActiveDownloads < 0 {
		errs = append(errs, errors.New("downloader.max_active_downloads must not be negative"))
	}
	for _, rule := range c.Search.TagRules {
		if rule.Category == "" && len(rule.Tags) == 0 {
			errs = append(errs, errors.New("tag rule must set a category or tags"))
		}
	}

	return errors.Join(errs...)
}

func validateGrabber(kind string, g GrabberConfig) []error {
	var errs []error
	if !validCosts[g.Cost] {
		errs = append(errs, fmt.Errorf("%s %q: unknown cost %q", kind, g.Name, g.Cost))
	}
	if g.Interval < 0 {
		errs = append(errs, fmt.Errorf("%s %q: interval must not be negative", kind, g.Name))
	}
	if g.MaxPages < 0 || negative(g.MaxAccept) {
		errs = append(errs, fmt.Errorf("%s %q: max_pages and max_accept must not be negative", kind, g.Name))
	}
	return errs
}

func negative(n *int) bool {
	return n != nil && *n < 0
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

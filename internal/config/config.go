// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pcrawford/filescout/internal/crawler"
)

// Config captures every configuration knob, loadable from a file, env vars
// (FILESCOUT_ prefix), or flags.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Output   OutputConfig   `mapstructure:"output"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the crawl/discovery engine.
type CrawlerConfig struct {
	Seeds          []string `mapstructure:"seeds"`
	AllowedExts    []string `mapstructure:"allowed_exts"`
	UserAgent      string   `mapstructure:"user_agent"`
	DelaySeconds   float64  `mapstructure:"delay_seconds"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxDepth       int      `mapstructure:"max_depth"`
	MaxPages       int      `mapstructure:"max_pages"`
	MaxFiles       int      `mapstructure:"max_files"`
	Workers        int      `mapstructure:"workers"`
	SameDomainOnly bool     `mapstructure:"same_domain_only"`
	DeepDetect     bool     `mapstructure:"deep_detect"`
	UseSitemaps    bool     `mapstructure:"use_sitemaps"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	MaxSitemapURLs int      `mapstructure:"max_sitemap_urls"`
	DownloadParams []string `mapstructure:"download_params"`
	ListingParams  []string `mapstructure:"listing_params"`
}

// HeadlessConfig toggles the browser-backed fetch strategy.
type HeadlessConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	NavTimeoutSecs int  `mapstructure:"nav_timeout_seconds"`
}

// OutputConfig controls where the crawl command writes results.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"` // "csv" or "json"
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILESCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := crawler.DefaultPolicy()

	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", def.UserAgent)
	v.SetDefault("crawler.delay_seconds", def.Delay.Seconds())
	v.SetDefault("crawler.timeout_seconds", int(def.Timeout.Seconds()))
	v.SetDefault("crawler.max_depth", def.MaxDepth)
	v.SetDefault("crawler.max_pages", def.MaxPages)
	v.SetDefault("crawler.max_files", def.MaxFiles)
	v.SetDefault("crawler.workers", def.Workers)
	v.SetDefault("crawler.same_domain_only", def.SameDomainOnly)
	v.SetDefault("crawler.deep_detect", def.DeepDetect)
	v.SetDefault("crawler.use_sitemaps", def.UseSitemaps)
	v.SetDefault("crawler.respect_robots", def.RespectRobots)
	v.SetDefault("crawler.max_sitemap_urls", def.MaxSitemapURLs)
	v.SetDefault("crawler.download_params", def.DownloadParams)
	v.SetDefault("crawler.listing_params", def.ListingParams)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("output.path", "discovered_files.csv")
	v.SetDefault("output.format", "csv")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Policy-level
// bounds are checked again by the engine; this catches service-level
// problems early.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Output.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("output.format must be csv or json, got %q", c.Output.Format)
	}
	return nil
}

// Policy converts the crawler section into the engine's run policy.
func (c Config) Policy() crawler.Policy {
	p := crawler.DefaultPolicy()
	p.Delay = time.Duration(c.Crawler.DelaySeconds * float64(time.Second))
	p.Timeout = time.Duration(c.Crawler.TimeoutSeconds) * time.Second
	p.MaxDepth = c.Crawler.MaxDepth
	p.MaxPages = c.Crawler.MaxPages
	p.MaxFiles = c.Crawler.MaxFiles
	p.Workers = c.Crawler.Workers
	p.SameDomainOnly = c.Crawler.SameDomainOnly
	p.DeepDetect = c.Crawler.DeepDetect
	p.UseSitemaps = c.Crawler.UseSitemaps
	p.RespectRobots = c.Crawler.RespectRobots
	p.MaxSitemapURLs = c.Crawler.MaxSitemapURLs
	p.UserAgent = c.Crawler.UserAgent
	p.AllowedExts = c.Crawler.AllowedExts
	if len(c.Crawler.DownloadParams) > 0 {
		p.DownloadParams = c.Crawler.DownloadParams
	}
	if len(c.Crawler.ListingParams) > 0 {
		p.ListingParams = c.Crawler.ListingParams
	}
	return p
}

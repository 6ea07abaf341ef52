package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	catalogRepo    = "potatoqualitee/calm-the-chaos"
	catalogRawBase = "https://raw.githubusercontent.com/" + catalogRepo + "/main/keywords"
	catalogAPIBase = "https://api.github.com/repos/" + catalogRepo
)

type Config struct {
	Addr        string        `yaml:"addr"`
	Env         string        `yaml:"env"`
	LogLevel    string        `yaml:"log_level"`
	TokenSecret string        `yaml:"token_secret"`
	AccessTTL   time.Duration `yaml:"access_ttl"`
	CORSOrigin  string        `yaml:"cors_origin"`

	BskyServiceURL string        `yaml:"bsky_service_url"`
	BskyTimeout    time.Duration `yaml:"bsky_timeout"`

	// CatalogSource is one of http, git or dir.
	CatalogSource      string        `yaml:"catalog_source"`
	CatalogBaseURL     string        `yaml:"catalog_base_url"`
	CatalogListURL     string        `yaml:"catalog_list_url"`
	CatalogCommitsURL  string        `yaml:"catalog_commits_url"`
	CatalogContextsURL string        `yaml:"catalog_contexts_url"`
	CatalogDisplayURL  string        `yaml:"catalog_display_url"`
	CatalogGitURL      string        `yaml:"catalog_git_url"`
	CatalogGitDir      string        `yaml:"catalog_git_dir"`
	CatalogDir         string        `yaml:"catalog_dir"`
	CatalogWatch       bool          `yaml:"catalog_watch"`
	CatalogCacheTTL    time.Duration `yaml:"catalog_cache_ttl"`

	RedisURL       string `yaml:"redis_url"`
	DatabaseURL    string `yaml:"database_url"`
	MeiliURL       string `yaml:"meili_url"`
	MeiliMasterKey string `yaml:"meili_master_key"`

	SettleDelay time.Duration `yaml:"settle_delay"`
}

// Production reports whether APP_ENV selects production behavior.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads .env when present, then the environment, then the YAML file
// named by MUTESKY_CONFIG. Keys present in the file win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        getenv("API_ADDR", ":8787"),
		Env:         getenv("APP_ENV", "development"),
		LogLevel:    getenv("LOG_LEVEL", ""),
		TokenSecret: getenv("MUTESKY_TOKEN_SECRET", "mutesky-dev-secret"),
		AccessTTL:   time.Duration(getenvInt("MUTESKY_ACCESS_TTL_SECONDS", 86400)) * time.Second,
		CORSOrigin:  getenv("MUTESKY_CORS_ORIGIN", "*"),

		BskyServiceURL: getenv("BSKY_SERVICE_URL", "https://bsky.social"),
		BskyTimeout:    time.Duration(getenvInt("BSKY_TIMEOUT_SECONDS", 15)) * time.Second,

		CatalogSource:      getenv("CATALOG_SOURCE", "http"),
		CatalogBaseURL:     getenv("CATALOG_BASE_URL", catalogRawBase+"/categories"),
		CatalogListURL:     getenv("CATALOG_LIST_URL", catalogAPIBase+"/contents/keywords/categories"),
		CatalogCommitsURL:  getenv("CATALOG_COMMITS_URL", catalogAPIBase+"/commits?path=keywords/categories&per_page=1"),
		CatalogContextsURL: getenv("CATALOG_CONTEXTS_URL", catalogRawBase+"/context-groups.json"),
		CatalogDisplayURL:  getenv("CATALOG_DISPLAY_URL", catalogRawBase+"/display-config.json"),
		CatalogGitURL:      getenv("CATALOG_GIT_URL", "https://github.com/"+catalogRepo+".git"),
		CatalogGitDir:      getenv("CATALOG_GIT_DIR", "./data/catalog"),
		CatalogDir:         getenv("CATALOG_DIR", "./keywords"),
		CatalogWatch:       getenvBool("CATALOG_WATCH", false),
		CatalogCacheTTL:    time.Duration(getenvInt("CATALOG_CACHE_TTL_SECONDS", 3600)) * time.Second,

		RedisURL:       getenv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		SettleDelay: time.Duration(getenvInt("SETTLE_DELAY_MS", 16)) * time.Millisecond,
	}

	if path := strings.TrimSpace(os.Getenv("MUTESKY_CONFIG")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.CatalogSource {
	case "http", "git", "dir":
	default:
		return fmt.Errorf("config: unknown catalog source %q", c.CatalogSource)
	}
	if c.Production() && c.TokenSecret == "mutesky-dev-secret" {
		return fmt.Errorf("config: MUTESKY_TOKEN_SECRET must be set in production")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("config: access ttl must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("config: settle delay must not be negative")
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

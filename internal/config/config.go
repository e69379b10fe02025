// Package config loads the importer configuration from defaults, an
// optional config file and BOOKMARKS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. BOOKMARKS_REDIS_ADDR.
const EnvPrefix = "BOOKMARKS"

type (
	Config struct {
		Redis       Redis
		HTTP        HTTP
		API         API
		Import      Import
		Credentials Credentials
		Lock        Lock
		Sink        Sink
		Log         Log
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	API struct {
		BaseURL   string
		Timeout   time.Duration
		UserAgent string
	}
	Import struct {
		PageSize       int
		InitialBackoff time.Duration
		MaxBackoff     time.Duration // 0 = unbounded
		MaxAttempts    int           // 0 = unbounded
		PageDelay      time.Duration
		ClearOnStart   bool
	}
	Credentials struct {
		TTL time.Duration
	}
	Lock struct {
		Enabled bool // Share one run lock across processes via Redis
		TTL     time.Duration
	}
	Sink struct {
		Enabled bool
		URL     string
		Token   string
		Timeout time.Duration
	}
	Log struct {
		Level  string
		Pretty bool
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("api.base_url", "https://x.com/i/api/graphql/xLjCVTqYWz8CGSprLU349w/Bookmarks")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.user_agent", "")

	v.SetDefault("import.page_size", 100)
	v.SetDefault("import.initial_backoff", "60s")
	v.SetDefault("import.max_backoff", "0s")
	v.SetDefault("import.max_attempts", 0)
	v.SetDefault("import.page_delay", "1s")
	v.SetDefault("import.clear_on_start", true)

	v.SetDefault("credentials.ttl", "12h")

	v.SetDefault("lock.enabled", true)
	v.SetDefault("lock.ttl", "5m")

	v.SetDefault("sink.enabled", false)
	v.SetDefault("sink.url", "")
	v.SetDefault("sink.token", "")
	v.SetDefault("sink.timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads the configuration. path may be empty; a non-empty path must
// name a readable YAML, JSON or TOML file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		HTTP: HTTP{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		API: API{
			BaseURL:   v.GetString("api.base_url"),
			Timeout:   v.GetDuration("api.timeout"),
			UserAgent: v.GetString("api.user_agent"),
		},
		Import: Import{
			PageSize:       v.GetInt("import.page_size"),
			InitialBackoff: v.GetDuration("import.initial_backoff"),
			MaxBackoff:     v.GetDuration("import.max_backoff"),
			MaxAttempts:    v.GetInt("import.max_attempts"),
			PageDelay:      v.GetDuration("import.page_delay"),
			ClearOnStart:   v.GetBool("import.clear_on_start"),
		},
		Credentials: Credentials{
			TTL: v.GetDuration("credentials.ttl"),
		},
		Lock: Lock{
			Enabled: v.GetBool("lock.enabled"),
			TTL:     v.GetDuration("lock.ttl"),
		},
		Sink: Sink{
			Enabled: v.GetBool("sink.enabled"),
			URL:     v.GetString("sink.url"),
			Token:   v.GetString("sink.token"),
			Timeout: v.GetDuration("sink.timeout"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.Import.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("import.page_size must be > 0 (got %d)", c.Import.PageSize))
	}
	if c.Import.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("import.initial_backoff must be > 0 (got %s)", c.Import.InitialBackoff))
	}
	if c.Import.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("import.max_backoff must be >= 0 (got %s)", c.Import.MaxBackoff))
	}
	if c.Import.MaxBackoff > 0 && c.Import.MaxBackoff < c.Import.InitialBackoff {
		errs = append(errs, fmt.Errorf("import.max_backoff %s is below import.initial_backoff %s", c.Import.MaxBackoff, c.Import.InitialBackoff))
	}
	if c.Import.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("import.max_attempts must be >= 0 (got %d)", c.Import.MaxAttempts))
	}
	if c.Import.PageDelay < 0 {
		errs = append(errs, fmt.Errorf("import.page_delay must be >= 0 (got %s)", c.Import.PageDelay))
	}
	if c.Sink.Enabled && c.Sink.URL == "" {
		errs = append(errs, errors.New("sink.url is required when sink.enabled is set"))
	}

	return errors.Join(errs...)
}

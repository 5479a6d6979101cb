package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"app_env"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr         string `yaml:"addr"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`

	// Source: de dónde salen grants y catálogo de opciones.
	Source struct {
		Kind    string `yaml:"kind"` // http | postgres
		Gateway struct {
			BaseURL string `yaml:"base_url"`
			Token   string `yaml:"token"`
			Timeout string `yaml:"timeout"`
		} `yaml:"gateway"`
		PageSize    int `yaml:"page_size"`
		MaxParallel int `yaml:"max_parallel"`
	} `yaml:"source"`

	Storage struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		CatalogTTL string `yaml:"catalog_ttl"`
	} `yaml:"cache"`

	Auth struct {
		// Secreto HS256 compartido con el emisor de tokens.
		HMACSecret string `yaml:"hmac_secret"`
		Issuer     string `yaml:"issuer"`
	} `yaml:"auth"`

	Gate struct {
		DenyDebounce string `yaml:"deny_debounce"`
		MaxWait      string `yaml:"max_wait"`
	} `yaml:"gate"`

	Session struct {
		IdleTTL string `yaml:"idle_ttl"`
	} `yaml:"session"`

	// Rate limit por usuario sobre /v1/app (usa redis si cache.kind=redis).
	Rate struct {
		Enabled bool   `yaml:"enabled"`
		Max     int    `yaml:"max"`
		Window  string `yaml:"window"`
	} `yaml:"rate"`
}

// Load lee el YAML (si path != "" y existe), aplica defaults y overrides por env.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// sin archivo: solo defaults + env
		default:
			return nil, err
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = "http"
	}
	if c.Source.Gateway.Timeout == "" {
		c.Source.Gateway.Timeout = "15s"
	}
	if c.Source.PageSize <= 0 {
		c.Source.PageSize = 100
	}
	if c.Source.MaxParallel <= 0 {
		c.Source.MaxParallel = 4
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "permgate"
	}
	if c.Cache.CatalogTTL == "" {
		c.Cache.CatalogTTL = "10m"
	}
	if c.Gate.DenyDebounce == "" {
		c.Gate.DenyDebounce = "500ms"
	}
	if c.Gate.MaxWait == "" {
		c.Gate.MaxWait = "5s"
	}
	if c.Session.IdleTTL == "" {
		c.Session.IdleTTL = "30m"
	}
	if c.Rate.Max <= 0 {
		c.Rate.Max = 120
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
}

// Validate verifica valores críticos y que las duraciones parseen.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.read_timeout":    c.Server.ReadTimeout,
		"server.write_timeout":   c.Server.WriteTimeout,
		"source.gateway.timeout": c.Source.Gateway.Timeout,
		"cache.catalog_ttl":      c.Cache.CatalogTTL,
		"gate.deny_debounce":     c.Gate.DenyDebounce,
		"gate.max_wait":          c.Gate.MaxWait,
		"session.idle_ttl":       c.Session.IdleTTL,
		"rate.window":            c.Rate.Window,
	}
	for k, v := range durations {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", k, err)
		}
	}
	if Dur(c.Rate.Window) <= 0 {
		return fmt.Errorf("config: rate.window debe ser > 0")
	}

	switch c.Source.Kind {
	case "http":
		if strings.TrimSpace(c.Source.Gateway.BaseURL) == "" {
			return fmt.Errorf("config: source.gateway.base_url es requerido con source.kind=http")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.dsn es requerido con source.kind=postgres")
		}
	default:
		return fmt.Errorf("config: source.kind inválido %q (http|postgres)", c.Source.Kind)
	}

	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: cache.kind inválido %q (memory|redis)", c.Cache.Kind)
	}

	if strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth.hmac_secret es requerido")
	}
	if strings.EqualFold(c.App.Env, "prod") && len(c.Auth.HMACSecret) < 32 {
		return fmt.Errorf("config: auth.hmac_secret debe tener al menos 32 bytes en prod")
	}
	return nil
}

// Dur parsea una duración ya validada (0 si está vacía).
func Dur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// SOURCE
	if v, ok := getEnvStr("SOURCE_KIND"); ok {
		c.Source.Kind = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("GATEWAY_BASE_URL"); ok {
		c.Source.Gateway.BaseURL = v
	}
	if v, ok := getEnvStr("GATEWAY_TOKEN"); ok {
		c.Source.Gateway.Token = v
	}
	if v, ok := getEnvStr("GATEWAY_TIMEOUT"); ok {
		c.Source.Gateway.Timeout = v
	}
	if v, ok := getEnvInt("SOURCE_PAGE_SIZE"); ok {
		c.Source.PageSize = v
	}
	if v, ok := getEnvInt("SOURCE_MAX_PARALLEL"); ok {
		c.Source.MaxParallel = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.MaxIdleConns = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CACHE_CATALOG_TTL"); ok {
		c.Cache.CatalogTTL = v
	}

	// AUTH
	if v, ok := getEnvStr("AUTH_HMAC_SECRET"); ok {
		c.Auth.HMACSecret = v
	}
	if v, ok := getEnvStr("AUTH_ISSUER"); ok {
		c.Auth.Issuer = v
	}

	// GATE / SESSION
	if v, ok := getEnvStr("GATE_DENY_DEBOUNCE"); ok {
		c.Gate.DenyDebounce = v
	}
	if v, ok := getEnvStr("GATE_MAX_WAIT"); ok {
		c.Gate.MaxWait = v
	}
	if v, ok := getEnvStr("SESSION_IDLE_TTL"); ok {
		c.Session.IdleTTL = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_MAX"); ok {
		c.Rate.Max = v
	}
	if v, ok := getEnvStr("RATE_WINDOW"); ok {
		c.Rate.Window = v
	}
}

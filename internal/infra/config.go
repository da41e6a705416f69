package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/repository/postgres"
)

// Config — корневая структура конфигурации reqtrail.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Collector CollectorConfig `mapstructure:"collector"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AnalyticsConfig — параметры перехватчика запросов.
type AnalyticsConfig struct {
	ReportPath       string   `mapstructure:"report_path"`
	SessionAttribute string   `mapstructure:"session_attribute"` // неймспейс ключей в хранилище сессий
	SessionCookie    string   `mapstructure:"session_cookie"`
	MaxHistorySize   int      `mapstructure:"max_history_size"`
	ExcludeURLs      []string `mapstructure:"exclude_urls"`
	ExcludeParams    []string `mapstructure:"exclude_params"`
	Revision         string   `mapstructure:"revision"`        // статическая ревизия; пусто — берем из build info
	RevisionHeader   string   `mapstructure:"revision_header"` // если задан, ревизия берется из заголовка запроса
}

// StoreConfig выбирает хранилище сессий.
type StoreConfig struct {
	Kind string        `mapstructure:"kind"` // memory, redis, postgres
	TTL  time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (сессии и Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig — доставка отчетов во внешний коллектор.
type GatewayConfig struct {
	Kind    string        `mapstructure:"kind"` // "", http, redis, grpc, postgres
	URL     string        `mapstructure:"url"`  // http: адрес коллектора; grpc: host:port
	Timeout time.Duration `mapstructure:"timeout"`

	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`

	// Настройки Circuit Breaker для коллектора
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BufferSize    int           `mapstructure:"buffer_size"`
}

// IdentityConfig — откуда брать пользователя текущего запроса.
type IdentityConfig struct {
	Kind          string `mapstructure:"kind"` // "", jwt, header
	PublicKeyPath string `mapstructure:"public_key_path"`
	Header        string `mapstructure:"header"`
	PublicKey     []byte
}

// CollectorConfig — настройки сервиса-приемника отчетов.
type CollectorConfig struct {
	GRPCAddr       string `mapstructure:"grpc_addr"`
	SubscribeRedis bool   `mapstructure:"subscribe_redis"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// ANALYTICS_MAX_HISTORY_SIZE=10 перекроет analytics.max_history_size
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	cfg.Identity.PublicKey = loadKeyResource(cfg.Identity.PublicKeyPath, "IDENTITY_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	// Списки паттернов из ENV или однострочного YAML приходят одной строкой,
	// по одному паттерну на строку.
	cfg.Analytics.ExcludeURLs = splitPatterns(v.Get("analytics.exclude_urls"), cfg.Analytics.ExcludeURLs)
	cfg.Analytics.ExcludeParams = splitPatterns(v.Get("analytics.exclude_params"), cfg.Analytics.ExcludeParams)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("analytics.report_path", "/analytics")
	v.SetDefault("analytics.session_attribute", "analyticsSession")
	v.SetDefault("analytics.session_cookie", "REQTRAIL_SESSION")
	v.SetDefault("analytics.max_history_size", 50)

	v.SetDefault("store.kind", "memory")
	v.SetDefault("store.ttl", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("gateway.timeout", 5*time.Second)
	v.SetDefault("gateway.rate_limit", 20)
	v.SetDefault("gateway.burst", 5)
	v.SetDefault("gateway.cb_max_requests", 3)
	v.SetDefault("gateway.cb_interval", 5*time.Second)
	v.SetDefault("gateway.cb_timeout", 30*time.Second)
	v.SetDefault("gateway.batch_size", 100)
	v.SetDefault("gateway.flush_interval", 1*time.Second)
	v.SetDefault("gateway.buffer_size", 1000)

	v.SetDefault("identity.header", "X-Forwarded-User")
	v.SetDefault("collector.grpc_addr", ":50052")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("metrics.addr", ":9090")
}

// Validate проверяет конфигурацию при старте: битые регулярки
// и неизвестные режимы не должны всплывать на запросах.
func (c *Config) Validate() error {
	a := c.Analytics
	if a.MaxHistorySize < 0 {
		return fmt.Errorf("analytics.max_history_size must not be negative, got %d", a.MaxHistorySize)
	}
	if a.ReportPath == "" {
		return errors.New("analytics.report_path is required")
	}
	if a.SessionAttribute == "" {
		return errors.New("analytics.session_attribute is required")
	}
	if _, err := analytics.NewSanitizer(a.ExcludeURLs, a.ExcludeParams); err != nil {
		return fmt.Errorf("analytics: %w", err)
	}

	switch c.Store.Kind {
	case "memory", "redis":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for postgres store")
		}
	default:
		return fmt.Errorf("unknown store.kind %q", c.Store.Kind)
	}

	switch c.Gateway.Kind {
	case "", "redis":
	case "http", "grpc":
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url is required for %s gateway", c.Gateway.Kind)
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for postgres gateway")
		}
	default:
		return fmt.Errorf("unknown gateway.kind %q", c.Gateway.Kind)
	}

	if c.Gateway.BatchSize < 1 || c.Gateway.BatchSize > postgres.MaxBatchSize {
		return fmt.Errorf("gateway.batch_size must be between 1 and %d, got %d", postgres.MaxBatchSize, c.Gateway.BatchSize)
	}

	switch c.Identity.Kind {
	case "", "header":
	case "jwt":
		if len(c.Identity.PublicKey) == 0 {
			return errors.New("identity.public_key_path or IDENTITY_PUBLIC_KEY_DATA is required for jwt identity")
		}
	default:
		return fmt.Errorf("unknown identity.kind %q", c.Identity.Kind)
	}
	return nil
}

func splitPatterns(raw any, decoded []string) []string {
	s, ok := raw.(string)
	if !ok {
		return decoded
	}
	var out []string
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// loadKeyResource: ключ напрямую из ENV (PEM) или из файла по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}

package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"silo-bridge/internal/domain"
)

//go:embed domain_blacklist.txt
var defaultDomainBlacklist []byte

// Бэкенды хранилищ и очередей.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	PageCacheStore = "store"
	PageCacheRedis = "redis"

	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	PublicURL   string `envconfig:"PUBLIC_URL" default:"http://localhost:8080/"`

	Store struct {
		Backend string `envconfig:"STORE_BACKEND" default:"postgres"`
		PGDSN   string `envconfig:"PG_DSN"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	PageCache struct {
		Backend  string        `envconfig:"PAGE_CACHE_BACKEND" default:"store"`
		UsersTTL time.Duration `envconfig:"USERS_PAGE_TTL" default:"5m"`
	} `envconfig:""`

	Queue struct {
		Backend   string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Key       string `envconfig:"POLL_QUEUE_KEY" default:"poll_tasks"`
		RabbitURL string `envconfig:"RABBITMQ_URL"`
	} `envconfig:""`

	Fetch struct {
		Timeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
		MaxSize       int64         `envconfig:"MAX_HTTP_RESPONSE_SIZE" default:"5000000"`
		BlacklistFile string        `envconfig:"BLACKLIST_FILE"`
		URLBlacklist  []string      `envconfig:"URL_BLACKLIST"`
	} `envconfig:""`

	ScraperSelectorsFile string `envconfig:"SCRAPER_SELECTORS_FILE"`
	OAuthGatewayURL      string `envconfig:"OAUTH_GATEWAY_URL" default:"http://localhost:8081"`

	SMTP struct {
		Host     string   `envconfig:"SMTP_HOST"`
		Port     int      `envconfig:"SMTP_PORT" default:"587"`
		Username string   `envconfig:"SMTP_USERNAME"`
		Password string   `envconfig:"SMTP_PASSWORD"`
		From     string   `envconfig:"SMTP_FROM"`
		To       []string `envconfig:"NOTIFY_EMAIL_TO"`
	} `envconfig:""`

	Telegram struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		AdminChatID int64  `envconfig:"TG_ADMIN_CHAT_ID"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env, если есть, читается первым
// и не перекрывает уже заданные переменные.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse как Load, но возвращает ошибку.
func Parse() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.Store.Backend {
	case StorePostgres:
		if c.Store.PGDSN == "" {
			return fmt.Errorf("PG_DSN is required for STORE_BACKEND=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.PageCache.Backend {
	case PageCacheStore, PageCacheRedis:
	default:
		return fmt.Errorf("unknown PAGE_CACHE_BACKEND %q", c.PageCache.Backend)
	}
	switch c.Queue.Backend {
	case QueueRedis:
	case QueueRabbitMQ:
		if c.Queue.RabbitURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required for QUEUE_BACKEND=%s", QueueRabbitMQ)
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.Queue.Backend)
	}
	return nil
}

// LoadBlacklist собирает блеклист: встроенный список доменов или BLACKLIST_FILE
// плюс URL_BLACKLIST.
func (c AppConfig) LoadBlacklist() (*domain.Blacklist, error) {
	raw := defaultDomainBlacklist
	if c.Fetch.BlacklistFile != "" {
		data, err := os.ReadFile(c.Fetch.BlacklistFile)
		if err != nil {
			return nil, fmt.Errorf("read blacklist: %w", err)
		}
		raw = data
	}
	domains, err := domain.ParseDomainList(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse blacklist: %w", err)
	}
	return domain.NewBlacklist(domains, c.Fetch.URLBlacklist), nil
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"silo-bridge/internal/adapters/authgateway"
	"silo-bridge/internal/adapters/fetch"
	"silo-bridge/internal/adapters/httpapi"
	"silo-bridge/internal/adapters/memstore"
	"silo-bridge/internal/adapters/notify"
	"silo-bridge/internal/adapters/repo"
	"silo-bridge/internal/adapters/scraper"
	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/cache"
	"silo-bridge/internal/infra/config"
	"silo-bridge/internal/infra/db"
	httpinfra "silo-bridge/internal/infra/http"
	logpkg "silo-bridge/internal/infra/log"
	"silo-bridge/internal/infra/metrics"
	"silo-bridge/internal/infra/queue"
	"silo-bridge/internal/usecase/authz"
	"silo-bridge/internal/usecase/browser"
	"silo-bridge/internal/usecase/lifecycle"
	"silo-bridge/internal/usecase/pagecache"
	"silo-bridge/internal/usecase/sources"
)

type store interface {
	domain.AccountRepo
	domain.DomainRepo
	domain.ActivityRepo
	domain.PageStore
}

func main() {
	cfg := config.Load()
	log := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blacklist, err := cfg.LoadBlacklist()
	if err != nil {
		log.Fatal().Err(err).Msg("api: не удалось загрузить блеклист")
	}
	selectors, err := scraper.LoadSelectors(cfg.ScraperSelectorsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("api: не удалось загрузить селекторы")
	}

	st, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	var rdb *redis.Client
	if cfg.Queue.Backend == config.QueueRedis || cfg.PageCache.Backend == config.PageCacheRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	var pageStore domain.PageStore = st
	if cfg.PageCache.Backend == config.PageCacheRedis {
		pageStore = cache.NewRedisPageStore(rdb, "")
	}

	var pollQueue domain.PollQueue
	switch cfg.Queue.Backend {
	case config.QueueRabbitMQ:
		rq, err := queue.NewRabbitPollQueue(cfg.Queue.RabbitURL, cfg.Queue.Key)
		if err != nil {
			log.Fatal().Err(err).Msg("api: нет подключения к RabbitMQ")
		}
		defer rq.Close()
		pollQueue = rq
	default:
		pollQueue = queue.NewRedisPollQueue(rdb, cfg.Queue.Key)
	}

	fetcher := fetch.New(fetch.Config{Timeout: cfg.Fetch.Timeout, MaxSize: cfg.Fetch.MaxSize}, blacklist, logpkg.Component(log, "fetch"))

	pages := pagecache.NewService(pageStore, logpkg.Component(log, "pagecache"))
	authService := authz.NewService(st, st, logpkg.Component(log, "authz"))
	sourceService := sources.NewService(st, fetcher, pollQueue, logpkg.Component(log, "sources"), sources.WithBlacklist(blacklist))
	lifecycleService := lifecycle.NewService(st, sourceService, pages, authgateway.New(cfg.OAuthGatewayURL, cfg.Fetch.Timeout), cfg.PublicURL, logpkg.Component(log, "lifecycle"))
	browserService := browser.NewService(scraper.NewRegistry(domain.Sites(), selectors), authService, sourceService, st, logpkg.Component(log, "browser"))

	handler := httpapi.NewHandler(httpapi.Deps{
		Browser:   browserService,
		Lifecycle: lifecycleService,
		Pages:     pages,
		Accounts:  st,
		Notifier:  notifiers(cfg, log),
		UsersTTL:  cfg.PageCache.UsersTTL,
	}, logpkg.Component(log, "httpapi"), httpapi.WithMaxBody(cfg.Fetch.MaxSize))

	srv := httpinfra.NewServer(logpkg.Component(log, "http"))
	handler.Routes(srv.Router)

	metrics.StartServer(ctx, logpkg.Component(log, "metrics"), cfg.MetricsAddr)
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api: graceful shutdown failed")
	}
}

func openStore(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (store, func()) {
	if cfg.Store.Backend == config.StoreMemory {
		log.Warn().Msg("api: данные хранятся в памяти процесса")
		return memstore.New(), func() {}
	}
	pool, err := db.Connect(ctx, cfg.Store.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	pg := repo.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("api: не удалось применить схему")
	}
	return pg, pool.Close
}

func notifiers(cfg config.AppConfig, log zerolog.Logger) domain.Notifier {
	var out notify.Multi
	if cfg.SMTP.Host != "" && len(cfg.SMTP.To) > 0 {
		out = append(out, notify.NewEmail(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}, logpkg.Component(log, "notify_email")))
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.AdminChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error().Err(err).Msg("api: telegram недоступен, уведомления только по почте")
		} else {
			out = append(out, notify.NewTelegram(bot, cfg.Telegram.AdminChatID, logpkg.Component(log, "notify_telegram")))
		}
	}
	return out
}

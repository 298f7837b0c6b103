package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"silo-bridge/internal/adapters/fetch"
	"silo-bridge/internal/adapters/repo"
	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/cache"
	"silo-bridge/internal/infra/config"
	"silo-bridge/internal/infra/db"
	logpkg "silo-bridge/internal/infra/log"
	"silo-bridge/internal/usecase/authz"
	"silo-bridge/internal/usecase/pagecache"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// env открывает хранилище по конфигу окружения. Команды bridgectl работают
// только с postgres: данные memory-бэкенда живут внутри процесса api.
type env struct {
	cfg   config.AppConfig
	log   zerolog.Logger
	store *repo.Postgres
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Backend != config.StorePostgres {
		return nil, fmt.Errorf("bridgectl: STORE_BACKEND=%s не поддерживается, нужен %s", cfg.Store.Backend, config.StorePostgres)
	}
	pool, err := db.Connect(ctx, cfg.Store.PGDSN)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:   cfg,
		log:   logpkg.NewLogger(cfg.AppEnv),
		store: repo.NewPostgres(pool),
		close: pool.Close,
	}, nil
}

func withEnv(run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		return run(cmd, e, args)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bridgectl",
		Short:        "Administration tool for the silo bridge.",
		SilenceUsage: true,
	}
	root.AddCommand(newTokensCmd(), newCacheCmd(), newAccountsCmd(), newResolveCmd())
	return root
}

func newTokensCmd() *cobra.Command {
	tokens := &cobra.Command{
		Use:   "tokens",
		Short: "Manage extension tokens.",
	}
	tokens.AddCommand(&cobra.Command{
		Use:   "add DOMAIN TOKEN",
		Short: "Grants TOKEN access to DOMAIN.",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			d, err := e.store.AddToken(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"domain": d.ID, "tokens": len(d.Tokens)})
		}),
	})
	tokens.AddCommand(&cobra.Command{
		Use:   "domains TOKEN",
		Short: "Prints the domains TOKEN is authorized for.",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			names, err := authz.NewService(e.store, e.store, e.log).TokenDomains(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, names)
		}),
	})
	return tokens
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the page cache.",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "invalidate PATH...",
		Short: "Drops cached pages.",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			var store domain.PageStore = e.store
			if e.cfg.PageCache.Backend == config.PageCacheRedis {
				rdb := redis.NewClient(&redis.Options{Addr: e.cfg.RedisAddr})
				defer rdb.Close()
				store = cache.NewRedisPageStore(rdb, "")
			}
			pages := pagecache.NewService(store, e.log)
			for _, path := range args {
				if err := pages.Invalidate(cmd.Context(), path); err != nil {
					return err
				}
				cmd.Println("invalidated", path)
			}
			return nil
		}),
	})
	return cacheCmd
}

func newAccountsCmd() *cobra.Command {
	var activities int
	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect bridged accounts.",
	}
	show := &cobra.Command{
		Use:   "show SITE:ID",
		Short: "Prints an account and its latest activities.",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
			key, err := domain.ParseAccountKey(args[0])
			if err != nil {
				return err
			}
			account, err := e.store.GetAccount(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := map[string]any{"account": account}
			if activities > 0 {
				list, err := e.store.ListActivities(cmd.Context(), key, activities)
				if err != nil {
					return err
				}
				bodies := make([]domain.Object, 0, len(list))
				for _, a := range list {
					bodies = append(bodies, a.Body)
				}
				out["activities"] = bodies
			}
			return printJSON(cmd, out)
		}),
	}
	show.Flags().IntVar(&activities, "activities", 10, "number of latest activities to print")
	accounts.AddCommand(show)
	return accounts
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve URL",
		Short: "Follows redirects and reports whether URL accepts webmentions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			bl, err := cfg.LoadBlacklist()
			if err != nil {
				return err
			}
			client := fetch.New(fetch.Config{Timeout: cfg.Fetch.Timeout, MaxSize: cfg.Fetch.MaxSize}, bl, logpkg.NewLogger(cfg.AppEnv))
			return printJSON(cmd, client.ResolveTarget(cmd.Context(), args[0]))
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

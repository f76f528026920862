package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/reellytics-gateway/config"
	"github.com/raine/reellytics-gateway/internal/apiclient"
	"github.com/raine/reellytics-gateway/internal/auth"
	"github.com/raine/reellytics-gateway/internal/logging"
	"github.com/raine/reellytics-gateway/internal/server"
	"github.com/raine/reellytics-gateway/internal/storage"
	"github.com/raine/reellytics-gateway/internal/sweeper"
	"github.com/raine/reellytics-gateway/internal/web"
)

const logFileName = "reellytics-gateway.log"

func main() {
	config.LoadEnvFile()

	closeLog, err := logging.Setup(logFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer closeLog()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	storageKey, err := storage.DeriveKey(cfg.NextAuthSecret, "storage")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive storage key")
	}
	cookieHashKey, err := storage.DeriveKey(cfg.NextAuthSecret, "cookie-hash")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive cookie key")
	}
	cookieBlockKey, err := storage.DeriveKey(cfg.NextAuthSecret, "cookie-block")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive cookie key")
	}

	// The SQLite store also holds the user tokens and chat log the chat API reads.
	db, err := storage.NewSQLiteStore(cfg.DBPath, storageKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("store initialized")

	var sessions storage.SessionStore = db
	if cfg.SessionBackend == config.SessionBackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		sessions = storage.NewRedisSessionStore(rdb, storageKey, cfg.SessionMaxAge)
		defer sessions.Close()
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis session store")
	}

	provider := cfg.Provider()
	log.Info().Str("provider", provider.Name).Str("callback", cfg.CallbackURL()).Msg("identity provider configured")

	pipeline := auth.NewPipeline(auth.NewRefresher(provider, nil))
	srv := server.New(server.Options{
		Authorizer: auth.NewAuthorizer(provider, cfg.CallbackURL(), nil),
		Pipeline:   pipeline,
		Handshake:  auth.NewHandshake(provider, nil, cfg.LogoutTimeout),
		ChatAPI: apiclient.NewClient(apiclient.ClientOpts{
			BaseURL: cfg.APIBaseURL,
			Scheme:  cfg.AuthScheme(),
		}),
		Sessions:       sessions,
		UserTokens:     db,
		ChatLog:        db,
		CookieHashKey:  cookieHashKey,
		CookieBlockKey: cookieBlockKey,
		SecureCookies:  cfg.SecureCookies(),
		SessionMaxAge:  cfg.SessionMaxAge,
	})

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.Serve(ctx, "gateway", cfg.HTTPAddr, srv.Handler())
	})
	g.Go(func() error {
		return sweeper.New(sessions, 0, cfg.SessionMaxAge).Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

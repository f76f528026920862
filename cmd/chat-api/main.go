// Command chat-api serves the reel analytics chat API behind the gateway.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/reellytics-gateway/config"
	"github.com/raine/reellytics-gateway/internal/chatapi"
	"github.com/raine/reellytics-gateway/internal/llm"
	"github.com/raine/reellytics-gateway/internal/logging"
	"github.com/raine/reellytics-gateway/internal/storage"
	"github.com/raine/reellytics-gateway/internal/web"
)

const logFileName = "reellytics-chat-api.log"

func main() {
	config.LoadEnvFile()

	closeLog, err := logging.Setup(logFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer closeLog()

	cfg, err := config.LoadChatAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	storageKey, err := storage.DeriveKey(cfg.NextAuthSecret, "storage")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive storage key")
	}
	db, err := storage.NewSQLiteStore(cfg.DBPath, storageKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var responder llm.Responder = llm.StaticResponder{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiResponder(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize gemini")
		}
		responder = gemini
		log.Info().Msg("gemini responder initialized")
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, answering with static responses")
	}

	svc := chatapi.New(chatapi.Options{
		Tokens:      db,
		ChatLog:     db,
		Responder:   responder,
		CORSOrigins: cfg.CORSOrigins,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.Serve(ctx, "chat-api", cfg.ChatAPIAddr, svc.Handler())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

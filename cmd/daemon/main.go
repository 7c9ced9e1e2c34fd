// SPDX-License-Identifier: MIT

// Command daemon runs the affirmd HTTP service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mindloop/affirmd/internal/api"
	"github.com/mindloop/affirmd/internal/blob"
	"github.com/mindloop/affirmd/internal/cache"
	"github.com/mindloop/affirmd/internal/config"
	"github.com/mindloop/affirmd/internal/genlog"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/llm"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/matcher"
	"github.com/mindloop/affirmd/internal/pipeline"
	"github.com/mindloop/affirmd/internal/prefs"
	"github.com/mindloop/affirmd/internal/ratelimit"
	"github.com/mindloop/affirmd/internal/session"
	"github.com/mindloop/affirmd/internal/store"
	"github.com/mindloop/affirmd/internal/subscription"
	"github.com/mindloop/affirmd/internal/tts"
)

func main() {
	cfg := config.FromEnv()
	log.Configure(log.Config{Level: cfg.LogLevel, Output: os.Stderr, Service: "affirmd"})
	logger := log.Base()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
}

func run(cfg config.AppConfig) error {
	logger := log.Base()

	db, err := store.Open(cfg.DBPath, store.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	lib, err := library.NewStore(db)
	if err != nil {
		return err
	}
	if err := lib.Seed(context.Background()); err != nil {
		return err
	}
	sessStore, err := session.NewStore(db)
	if err != nil {
		return err
	}
	gate, err := subscription.NewGate(db)
	if err != nil {
		return err
	}
	glog, err := genlog.NewLog(db, lib)
	if err != nil {
		return err
	}

	// Cache: Redis primary when configured, in-memory always as fallback.
	mem := cache.NewMemoryStore(5 * time.Minute)
	defer mem.Stop()
	var primary cache.Store
	var redisStore *cache.RedisStore
	if cfg.RedisEnabled() {
		redisStore, err = cache.NewRedisStore(cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer func() { _ = redisStore.Close() }()
		primary = redisStore
	}
	kv := cache.New(primary, mem)

	pr, err := prefs.NewStore(db, kv)
	if err != nil {
		return err
	}

	var limiter *ratelimit.Limiter
	if redisStore != nil {
		limiter = ratelimit.New(redisStore.Client(), logger)
	} else {
		limiter = ratelimit.New(nil, logger)
	}

	var gen matcher.Generator
	if cfg.LLMEnabled() {
		client, err := llm.New(cfg.LLMAPIKey, cfg.LLMModel)
		if err != nil {
			return err
		}
		gen = client
		logger.Info().Str("model", cfg.LLMModel).Msg("generation route enabled")
	} else {
		logger.Info().Msg("no LLM key configured, generation route disabled")
	}

	var mat *tts.Materializer
	audioDir := ""
	if cfg.TTSEnabled() {
		audioDir = cfg.DataDir + "/audio"
		blobs, err := blob.NewDiskStore(audioDir, cfg.BaseURL)
		if err != nil {
			return err
		}
		mat = tts.NewMaterializer(lib, blobs, tts.NewElevenLabsProvider(cfg.TTSAPIKey))
		logger.Info().Msg("audio materialization enabled")
	} else {
		logger.Info().Msg("no TTS key configured, audio materialization disabled")
	}

	asm := session.NewAssembler(sessStore, lib, pr)
	orch := pipeline.New(limiter, gate, lib, gen, mat, asm, glog, pr,
		pipeline.Timeouts{Generate: cfg.GenerateTimeout, Playlist: cfg.PlaylistTimeout})

	srv := api.NewServer(api.Config{
		Orchestrator: orch,
		Assembler:    asm,
		Gate:         gate,
		Prefs:        pr,
		Limiter:      limiter,
		Auth:         api.StaticTokenAuth(cfg.AuthTokens),
		AudioDir:     audioDir,
		Ready: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

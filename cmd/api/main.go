/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linuxautomates/gitsei-sub041/internal/adapters/telegram"
	"github.com/linuxautomates/gitsei-sub041/internal/config"
	"github.com/linuxautomates/gitsei-sub041/internal/events"
	httpapi "github.com/linuxautomates/gitsei-sub041/internal/http"
	"github.com/linuxautomates/gitsei-sub041/internal/jobs"
	"github.com/linuxautomates/gitsei-sub041/internal/logger"
	"github.com/linuxautomates/gitsei-sub041/internal/repo"
	"github.com/linuxautomates/gitsei-sub041/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()
	repository := repo.NewRepository(db, log)
	if cfg.AutoMigrate {
		if err := repository.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate failed")
		}
	}

	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("policy file")
	}

	// Emitters
	sinks := events.Fanout{events.NewLogEmitter(log)}
	if tg := telegram.NewClient(cfg, log); tg.Enabled() {
		sinks = append(sinks, tg)
		log.Info().Int("chats", len(cfg.TelegramChatIDs)).Msg("telegram notifications enabled")
	}

	svc := services.New(cfg, log, repository, policies, sinks, nil)

	// Cron
	cron, err := jobs.NewCron(cfg, log, svc, repository)
	if err != nil {
		log.Fatal().Err(err).Msg("cron setup failed")
	}
	cron.Start()
	defer cron.Stop()

	// HTTP server (Gin)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, log, svc),
		ReadHeaderTimeout: cfg.HTTPTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

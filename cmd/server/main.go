package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moshengai/dubbing-gateway/internal/chat"
	"github.com/moshengai/dubbing-gateway/internal/config"
	"github.com/moshengai/dubbing-gateway/internal/history"
	"github.com/moshengai/dubbing-gateway/internal/observability"
	"github.com/moshengai/dubbing-gateway/internal/server"
	"github.com/moshengai/dubbing-gateway/internal/synth"
	"github.com/moshengai/dubbing-gateway/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not initialized yet
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("chat_base_url", cfg.ChatBaseURL).
		Str("voice_service_url", cfg.VoiceServiceURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Dubbing Gateway starting")

	store, err := history.Open(cfg.HistoryDSN, cfg.HistoryLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open history store")
	}

	chatClient := chat.NewClient(cfg)
	recommender := voice.NewRecommender(cfg)
	synthClient := synth.NewClient(cfg)

	deps := server.Deps{
		Config:      cfg,
		Chat:        chatClient,
		Recommender: recommender,
		Synthesizer: synthClient,
		Store:       store,
	}

	readiness := map[string]observability.HealthCheckFunc{
		"chat": chatClient.HealthCheck,
		"voice_service": func(ctx context.Context) (bool, error) {
			return recommender.HealthCheck(ctx)
		},
		"synthesis": synthClient.HealthCheck,
		"history": func(ctx context.Context) (bool, error) {
			if err := store.HealthCheck(); err != nil {
				return false, err
			}
			return true, nil
		},
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      server.Router(deps, readiness),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/chat", cfg.Port)).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

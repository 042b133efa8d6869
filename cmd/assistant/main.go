// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main runs the broiler assistant HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/app"
	"github.com/your-org/broiler-assistant/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("service", "assistant"),
		zap.String("environment", os.Getenv("ENVIRONMENT")),
		zap.String("chroma_url", masked.Chroma.URL),
		zap.String("collection_name", masked.Chroma.CollectionName),
		zap.String("performance_db_path", masked.Performance.DBPath),
		zap.String("session_storage", masked.Session.Storage),
		zap.String("redis_url", masked.Session.RedisURL),
		zap.String("openai_api_key", masked.OpenAI.APIKey),
		zap.String("registry_path", masked.Registry.Path))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer a.Close()

	if err := a.WatchRegistry(ctx); err != nil {
		logger.Warn("Breed registry hot reload disabled", zap.Error(err))
	}
	a.RefreshKeywordIndex(ctx)

	if *configPath != "" {
		err := config.WatchConfig(*configPath, logger, func(updated *config.Config) {
			if updated.Registry.Path == "" || updated.Registry.Path == cfg.Registry.Path {
				return
			}
			if err := app.ReloadRegistry(a.Extractor, updated.Registry.Path); err != nil {
				logger.Warn("Failed to switch breed registry", zap.Error(err))
				return
			}
			logger.Info("Breed registry switched", zap.String("path", updated.Registry.Path))
		})
		if err != nil {
			logger.Warn("Configuration hot reload disabled", zap.Error(err))
		}
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := newServer(a.Assistant, a.Router, a.Conversation, a.Health, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting assistant service", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Assistant service stopped")
}

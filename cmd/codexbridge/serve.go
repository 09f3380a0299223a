// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/config"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/httpapi"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/mcp"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/observability"
	"github.com/sealad886/codex-mcp-streaming-http-bridge/internal/streambridge"
)

var (
	envFile  string
	yamlFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge: supervise the codex child and serve HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&envFile, "env", ".env", "optional .env file to load before reading the environment")
	serveCmd.Flags().StringVar(&yamlFile, "config", "", "optional YAML config file, overridden by environment variables")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := config.Load(envFile, yamlFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	registry := streambridge.NewRegistry()

	var sup *mcp.Supervisor
	onNotify := func(n *mcp.Notification) {
		streambridge.HandleNotification(registry, n.Params)
	}
	onCrash := func(err error) {
		slog.Error("codex child crashed, failing all active streams", slog.String("error", err.Error()))
		registry.FailAll(err.Error())
	}
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer,
		func() float64 { return float64(registry.Count()) },
		func() float64 {
			if sup.Status().CircuitOpen {
				return 1
			}
			return 0
		})

	sup = mcp.NewSupervisor(mcp.SpawnConfig{
		Bin:        cfg.CodexBin,
		Profile:    cfg.CodexProfile,
		RpcTimeout: time.Duration(cfg.RpcTimeoutMs) * time.Millisecond,
	}, onNotify, onCrash, registry, metrics.ChildRestarts)

	sup.Start(ctx)
	defer sup.Shutdown()

	server := httpapi.NewServer(cfg, sup, registry, metrics)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.SetupRoutes(router, server)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("codexbridge listening", slog.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aleutian-oss/llmgateway/internal/access"
	"github.com/aleutian-oss/llmgateway/internal/config"
	"github.com/aleutian-oss/llmgateway/internal/generator"
	"github.com/aleutian-oss/llmgateway/internal/httpapi"
	"github.com/aleutian-oss/llmgateway/internal/lifecycle"
	"github.com/aleutian-oss/llmgateway/internal/observability"
	"github.com/aleutian-oss/llmgateway/internal/scheduler"
)

const version = "0.1.0"

// defaultGeneratorURL points at a local completion server; override
// with LLMGATEWAY_GENERATOR_URL.
const defaultGeneratorURL = "http://127.0.0.1:8081"

var (
	configPath   string
	port         int
	host         string
	debug        bool
	requireToken bool

	rootCmd = &cobra.Command{
		Use:   "gateway",
		Short: "Multi-tenant local LLM serving gateway",
		Long: `Serves a pool of locally-loaded language models behind a native
streaming chat API and an OpenAI-style chat completion API, executing
tool calls against each model's attached tool providers.`,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE:               runServe,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "./config.json", "path to the model configuration file")
	flags.IntVarP(&port, "port", "p", 9000, "port to listen on")
	flags.StringVarP(&host, "host", "h", "0.0.0.0", "address to bind")
	flags.BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	flags.BoolVarP(&requireToken, "require-token", "t", false, "require a valid bearer token on every request")
	flags.Bool("help", false, "help for gateway")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := observability.NewLogger(debug)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "tokens.json")
	store, err := access.LoadTokenStore(tokenPath)
	if err != nil {
		return fmt.Errorf("load token store %s: %w", tokenPath, err)
	}

	generatorURL := os.Getenv("LLMGATEWAY_GENERATOR_URL")
	if generatorURL == "" {
		generatorURL = defaultGeneratorURL
	}
	gen := generator.NewHTTPGenerator(generatorURL)
	probe := &generator.StaticMemoryProbe{}

	ctx := context.Background()
	manager, err := lifecycle.NewManager(ctx, cfg.Models, cfg.Order, gen, probe, logger)
	if err != nil {
		return err
	}
	defer manager.Shutdown(ctx)

	sched := scheduler.NewScheduler(manager, logger)
	filter := access.NewFilter(store, requireToken)
	metrics := observability.NewMetrics()
	server := httpapi.NewServer(version, manager, sched, filter, metrics, logger)

	addr := host + ":" + strconv.Itoa(port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", addr, "models", len(cfg.Models), "strict", requireToken)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-stop:
		logger.Info("shutting down")
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

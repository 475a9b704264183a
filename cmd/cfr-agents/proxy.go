// Copyright 2026 Tudor Baraboi
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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tudor-baraboi/cfr-agents/pkg/embedder"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/searchproxy"
	"github.com/tudor-baraboi/cfr-agents/pkg/version"
)

// ProxyCmd runs the search proxy: the vector search and indexing
// service the backend talks to. It owns the vector store so the
// backend never touches embedding storage directly.
type ProxyCmd struct {
	Port int `short:"p" help:"Override the configured proxy listen port."`
}

func (c *ProxyCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(cli, false)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}
	if cleanup, err := applyConfigLogging(cli, cfg); err != nil {
		return err
	} else if cleanup != nil {
		defer cleanup()
	}
	if c.Port != 0 {
		cfg.SearchProxy.Port = c.Port
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}
	defer emb.Close()

	indexes := agentIndexes(cfg)

	store, err := searchproxy.NewStore(cfg.SearchProxy, emb.Dimension())
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}

	srv := searchproxy.NewServer(cfg.SearchProxy, store, emb, indexes)

	slog.Info("Search proxy starting",
		"version", version.Get().Version,
		"backend", string(cfg.SearchProxy.Backend),
		"embedder", emb.ModelName(),
		"indexes", strings.Join(indexes, ","),
		"addr", cfg.SearchProxy.Addr())

	// Shutdown closes the store after the listener drains.
	return runUntilSignal(ctx, srv, cfg.Server.ShutdownGrace)
}

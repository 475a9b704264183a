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
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/agent"
	"github.com/tudor-baraboi/cfr-agents/pkg/auth"
	"github.com/tudor-baraboi/cfr-agents/pkg/cache"
	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/convstore"
	"github.com/tudor-baraboi/cfr-agents/pkg/embedder"
	"github.com/tudor-baraboi/cfr-agents/pkg/indexer"
	"github.com/tudor-baraboi/cfr-agents/pkg/llm"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/orchestrator"
	"github.com/tudor-baraboi/cfr-agents/pkg/personal"
	"github.com/tudor-baraboi/cfr-agents/pkg/proxyclient"
	"github.com/tudor-baraboi/cfr-agents/pkg/quota"
	"github.com/tudor-baraboi/cfr-agents/pkg/server"
	"github.com/tudor-baraboi/cfr-agents/pkg/sources"
	"github.com/tudor-baraboi/cfr-agents/pkg/tools"
	"github.com/tudor-baraboi/cfr-agents/pkg/version"
)

// ServeCmd runs the conversation backend: websocket chat, personal
// document API, and the background indexing pipeline.
type ServeCmd struct {
	Port  int  `short:"p" help:"Override the configured listen port."`
	Watch bool `short:"w" help:"Watch the configuration source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(cli, c.Watch)
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
		cfg.Server.Port = c.Port
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

	agents, err := agent.NewRegistry(cfg.Agents)
	if err != nil {
		return fmt.Errorf("building agents: %w", err)
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building llm provider: %w", err)
	}
	defer provider.Close()

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}
	defer emb.Close()

	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		return fmt.Errorf("opening document cache: %w", err)
	}
	defer store.Close()

	proxy := proxyclient.New(cfg.SearchProxy)

	ix, err := indexer.New(store, emb, proxy, cfg.Index)
	if err != nil {
		return fmt.Errorf("building indexer: %w", err)
	}
	ix.Start(ctx)
	defer func() {
		// Workers exit on context cancellation; make sure that has
		// happened even when the server failed before any signal.
		stop()
		if err := ix.Wait(); err != nil {
			slog.Warn("Indexing pipeline shut down with error", "error", err)
		}
	}()

	convs, err := convstore.NewStore(cfg.Conversations)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer convs.Close()

	validator, err := auth.NewValidator(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("building token validator: %w", err)
	}

	quotas := quota.NewService(cfg.Quota)

	catalog := tools.NewCatalog(tools.Deps{
		Proxy:            proxy,
		Fetcher:          cache.NewFetcher(store),
		Indexer:          ix,
		Embedder:         emb,
		ECFR:             sources.NewECFR(cfg.Sources.ECFR),
		DRS:              sources.NewDRS(cfg.Sources.DRS),
		ADAMS:            sources.NewADAMS(cfg.Sources.ADAMS),
		PersonalFetchCap: cfg.Limits.PersonalDocs.FetchCharCap,
	})

	orch, err := orchestrator.New(orchestrator.Config{
		Provider: provider,
		Store:    convs,
		Catalog:  catalog,
		Quota:    quotas,
		Limits:   cfg.Limits,
	})
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	docs := personal.NewService(proxy, ix, store, agentIndexes(cfg), cfg.Limits.PersonalDocs)

	srv := server.New(cfg.Server, orch, agents, quotas, validator, docs)

	slog.Info("Backend starting",
		"version", version.Get().Version,
		"agents", strings.Join(agents.Names(), ","),
		"model", provider.ModelName(),
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	return runUntilSignal(ctx, srv, cfg.Server.ShutdownGrace)
}

// loadConfig builds the effective configuration. Without --config the
// built-in defaults apply, which run every component in its local,
// API-key-from-environment mode.
func loadConfig(cli *CLI, watch bool) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		cfg, err := config.ProcessConfigPipeline(&config.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("default configuration invalid: %w", err)
		}
		slog.Info("No config file given, using built-in defaults")
		return cfg, nil, nil
	}

	sourceType, err := config.ParseConfigType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}
	opts := config.LoaderOptions{
		Type:      sourceType,
		Path:      cli.Config,
		Endpoints: cli.Endpoints,
		Watch:     watch,
	}
	if watch {
		// A changed file is picked up on the next restart; swapping
		// live component wiring under open websockets is not worth it.
		opts.OnChange = func(*config.Config) error {
			slog.Info("Configuration changed on disk, restart to apply",
				"path", cli.Config)
			return nil
		}
	}

	cfg, loader, err := config.LoadConfigWithLoader(opts)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Configuration loaded", "source", string(sourceType), "path", cli.Config)
	return cfg, loader, nil
}

// service is a blocking listener with graceful shutdown, the shape both
// the backend and the search proxy expose.
type service interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// runUntilSignal serves until ctx is cancelled, then gives in-flight
// requests the grace window before forcing the listener closed.
func runUntilSignal(ctx context.Context, svc service, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received", "grace", grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// agentIndexes returns the distinct vector indexes the configured
// agents search, sorted for stable wiring.
func agentIndexes(cfg *config.Config) []string {
	seen := make(map[string]struct{}, len(cfg.Agents))
	indexes := make([]string, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a == nil || a.Index == "" {
			continue
		}
		if _, dup := seen[a.Index]; dup {
			continue
		}
		seen[a.Index] = struct{}{}
		indexes = append(indexes, a.Index)
	}
	sort.Strings(indexes)
	return indexes
}

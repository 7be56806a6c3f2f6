// Copyright 2026 Hivekit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/comm"
	"github.com/hivekit/hive/pkg/config"
	"github.com/hivekit/hive/pkg/llm"
	"github.com/hivekit/hive/pkg/llm/anthropic"
	"github.com/hivekit/hive/pkg/llm/ollama"
	"github.com/hivekit/hive/pkg/llm/openai"
	"github.com/hivekit/hive/pkg/llm/perplexity"
	"github.com/hivekit/hive/pkg/memory"
	"github.com/hivekit/hive/pkg/pool"
	"github.com/hivekit/hive/pkg/session"
	"github.com/hivekit/hive/pkg/storage"
	"github.com/hivekit/hive/pkg/storage/filestore"
	"github.com/hivekit/hive/pkg/storage/pgstore"
	"github.com/hivekit/hive/pkg/storage/sqlitestore"
	"github.com/hivekit/hive/pkg/topology"
	"github.com/hivekit/hive/pkg/types"
)

var manifestFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Hive coordinator",
	Long:  `Loads configuration, opens the storage backend, reloads persisted sessions, and runs the coordinator until interrupted. A swarm manifest (--manifest) declares sessions, agents, and pools to bootstrap at startup.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&manifestFile, "manifest", "", "swarm manifest file (sessions, agents, pools to bootstrap)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	defer func() { _ = store.Close() }()

	router, cleanup, err := buildRouter(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to build LLM router: %w", err)
	}
	defer cleanup()

	bus := comm.NewBus(nil, logger.Named("bus"))
	defer func() { _ = bus.Close() }()

	registry := pool.NewRegistry(logger.Named("registry"))
	mgr := session.NewManager(session.ManagerConfig{
		Store:    store,
		Bus:      bus,
		Registry: registry,
		Logger:   logger.Named("session"),
		// Each session gets its own memory store from this template.
		Memory: memory.Config{
			CompressionThreshold: cfg.Memory.CompressionThreshold,
			MaintenanceInterval:  cfg.Memory.MaintenanceInterval(),
			Logger:               logger.Named("memory"),
		},
	})
	defer mgr.Close()

	loaded, err := mgr.LoadAll(ctx)
	if err != nil {
		logger.Warn("failed to reload persisted sessions", zap.Error(err))
	}

	if manifestFile != "" {
		if err := bootstrapSwarm(ctx, mgr, cfg, manifestFile, logger); err != nil {
			return fmt.Errorf("failed to bootstrap swarm: %w", err)
		}
	}

	logger.Info("hive coordinator running",
		zap.String("data_dir", cfg.DataDir),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("llm_default", cfg.LLM.DefaultProvider),
		zap.Int("llm_rules", len(router.Rules())),
		zap.Int("sessions_reloaded", loaded))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// buildLogger constructs the process logger from config.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

// openStore opens the configured persistence backend. Relative paths and
// defaults resolve under the data directory.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.ObjectStore, error) {
	log := logger.Named("storage")
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemStore(), nil
	case "file":
		dir := cfg.Storage.Path
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "sessions")
		}
		return filestore.New(dir, log)
	case "sqlite":
		path := cfg.Storage.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "hive.db")
		}
		return sqlitestore.New(ctx, path, log)
	case "postgres":
		return pgstore.New(ctx, pgstore.Config{DSN: cfg.Storage.DSN}, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildRouter assembles the LLM router: providers from config, routing
// rules from the rules file (hot-reloaded when present). The returned
// cleanup stops the rules watcher.
func buildRouter(cfg config.LLMConfig, logger *zap.Logger) (*llm.Router, func(), error) {
	log := logger.Named("llm")

	var rules []llm.RoutingRule
	if cfg.RulesFile != "" {
		var err error
		rules, err = llm.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, nil, err
		}
	}

	router, err := llm.NewRouter(llm.RouterConfig{
		DefaultProvider: cfg.DefaultProvider,
		Fallbacks:       cfg.Fallbacks,
		Rules:           rules,
		Mode:            llm.CostMode(cfg.CostMode),
		Logger:          log,
	})
	if err != nil {
		return nil, nil, err
	}

	router.RegisterProvider(ollama.NewClient(ollama.Config{
		Endpoint: cfg.Ollama.Endpoint,
		Model:    cfg.Ollama.Model,
	}))
	if cfg.OpenAI.APIKey != "" {
		router.RegisterProvider(openai.NewClient(openai.Config{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.Model,
		}))
	}
	if cfg.Anthropic.APIKey != "" {
		router.RegisterProvider(anthropic.NewClient(anthropic.Config{
			APIKey: cfg.Anthropic.APIKey,
			Model:  cfg.Anthropic.Model,
		}))
	}
	if cfg.Perplexity.APIKey != "" {
		router.RegisterProvider(perplexity.NewClient(perplexity.Config{
			APIKey: cfg.Perplexity.APIKey,
			Model:  cfg.Perplexity.Model,
		}))
	}

	cleanup := func() {}
	if cfg.RulesFile != "" {
		stopWatch, err := llm.WatchRules(cfg.RulesFile, router, log)
		if err != nil {
			log.Warn("rules file watch disabled", zap.Error(err))
		} else {
			cleanup = stopWatch
		}
	}
	return router, cleanup, nil
}

// bootstrapSwarm creates the sessions, agents, and pools declared in the
// swarm manifest.
func bootstrapSwarm(ctx context.Context, mgr *session.Manager, cfg *config.Config, path string, logger *zap.Logger) error {
	manifest, err := config.LoadManifest(path)
	if err != nil {
		return err
	}
	for _, sm := range manifest.Sessions {
		maxAgents := sm.MaxAgents
		if maxAgents <= 0 {
			maxAgents = cfg.Session.MaxAgents
		}
		s, err := mgr.Create(ctx, sm.Project, sm.Name, topology.Kind(sm.Topology), session.Config{
			MaxAgents:          maxAgents,
			MaxConcurrentTasks: cfg.Session.MaxConcurrentTasks,
			Coordinator:        sm.Coordinator,
			CheckpointInterval: cfg.Session.CheckpointInterval(),
			AutoCheckpoint:     cfg.Session.AutoCheckpoint,
			PersistToDisk:      cfg.Session.PersistToDisk,
			MaxCheckpoints:     cfg.Session.MaxCheckpoints,
		}, sm.Metadata)
		if err != nil {
			return fmt.Errorf("session %q: %w", sm.Name, err)
		}
		for _, am := range sm.Agents {
			a := types.NewAgent(am.ID, types.AgentType(am.Type))
			a.SetStatus(types.AgentIdle)
			if err := mgr.AddAgent(ctx, s.ID, a); err != nil {
				return fmt.Errorf("session %q: agent %q: %w", sm.Name, am.ID, err)
			}
		}
		for _, pm := range sm.Pools {
			_, err := mgr.CreatePool(ctx, s.ID, pool.Config{
				Name:       pm.Name,
				AgentType:  types.AgentType(pm.Type),
				MinWorkers: pm.MinWorkers,
				MaxWorkers: pm.MaxWorkers,
				Strategy:   pool.Strategy(pm.Strategy),
			})
			if err != nil {
				return fmt.Errorf("session %q: pool %q: %w", sm.Name, pm.Name, err)
			}
		}
		logger.Info("session bootstrapped",
			zap.String("session_id", s.ID),
			zap.String("name", sm.Name),
			zap.String("topology", sm.Topology),
			zap.Int("agents", len(sm.Agents)),
			zap.Int("pools", len(sm.Pools)))
	}
	return nil
}

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runtime is the composition root: it turns one Config into a
// wired orchestrator, HTTP server and their supporting components, and
// tears everything down again in reverse order.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kadirpekel/ensemble/pkg/agent"
	"github.com/kadirpekel/ensemble/pkg/auth"
	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/embedder"
	"github.com/kadirpekel/ensemble/pkg/fallback"
	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/observability"
	"github.com/kadirpekel/ensemble/pkg/orchestrator"
	"github.com/kadirpekel/ensemble/pkg/planner"
	"github.com/kadirpekel/ensemble/pkg/server"
	"github.com/kadirpekel/ensemble/pkg/session"
	"github.com/kadirpekel/ensemble/pkg/tools"
	"github.com/kadirpekel/ensemble/pkg/vector"
)

// Runtime holds the assembled components of one configured instance.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	obs      *observability.Manager
	provider llms.Provider
	memory   *memory.Manager
	tools    *tools.Registry
	agents   *agent.Manager
	planner  *planner.Planner
	fallback *fallback.Manager
	sessions session.Service
	orch     *orchestrator.Orchestrator
	server   *server.Server

	// closers run in reverse registration order on Close.
	closers []func() error
}

// New wires a runtime from cfg. On any failure the components built so far
// are released before the error returns.
func New(ctx context.Context, cfg *config.Config) (rt *Runtime, err error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	rt = &Runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if err := rt.initLogger(); err != nil {
		return nil, err
	}
	if err := rt.initObservability(ctx); err != nil {
		return nil, err
	}
	if err := rt.initProvider(); err != nil {
		return nil, err
	}
	if err := rt.initMemory(ctx); err != nil {
		return nil, err
	}
	if err := rt.initTools(ctx); err != nil {
		return nil, err
	}
	rt.initAgents()
	if err := rt.initSessions(); err != nil {
		return nil, err
	}
	rt.initOrchestrator()
	if err := rt.initServer(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) initLogger() error {
	output := os.Stderr
	if rt.cfg.Logging.File != "" {
		file, cleanup, err := observability.OpenLogFile(rt.cfg.Logging.File)
		if err != nil {
			return fmt.Errorf("runtime: opening log file: %w", err)
		}
		rt.closers = append(rt.closers, func() error { cleanup(); return nil })
		output = file
	}
	rt.logger = observability.InitLogger(
		observability.ParseLevel(rt.cfg.Logging.Level), output, rt.cfg.Logging.Format)
	return nil
}

func (rt *Runtime) initObservability(ctx context.Context) error {
	rt.obs = observability.NewManager(rt.cfg.Observability, rt.logger)
	if err := rt.obs.Initialize(ctx); err != nil {
		return fmt.Errorf("runtime: observability: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		return rt.obs.Shutdown(context.Background())
	})
	return nil
}

func (rt *Runtime) initProvider() error {
	provider, err := llms.NewFromConfig(&rt.cfg.LLM)
	if err != nil {
		return fmt.Errorf("runtime: llm provider: %w", err)
	}
	rt.closers = append(rt.closers, provider.Close)
	rt.provider = llms.WithCallTimeout(provider, rt.cfg.Deadlines.LLM)
	return nil
}

func (rt *Runtime) initMemory(ctx context.Context) error {
	var store memory.Store
	switch rt.cfg.Storage.Backend {
	case "sql":
		sqlStore, err := memory.NewSQLStoreFromConfig(&rt.cfg.Storage.Database)
		if err != nil {
			return fmt.Errorf("runtime: memory store: %w", err)
		}
		store = sqlStore
	default:
		store = memory.NewMemoryStore()
	}

	opts := []memory.ManagerOption{
		memory.WithObserver(rt.obs.Observer()),
		memory.WithLogger(rt.logger),
	}
	if rt.cfg.Vector.Enabled {
		emb, err := embedder.NewFromConfig(&rt.cfg.Embedder)
		if err != nil {
			return fmt.Errorf("runtime: embedder: %w", err)
		}
		provider, err := vector.NewFromConfig(&rt.cfg.Vector)
		if err != nil {
			return fmt.Errorf("runtime: vector provider: %w", err)
		}
		index, err := memory.NewVectorIndex(ctx, provider, emb, rt.cfg.Vector.Collection)
		if err != nil {
			return fmt.Errorf("runtime: vector index: %w", err)
		}
		opts = append(opts, memory.WithVectorIndex(index))
	}

	rt.memory = memory.NewManager(&rt.cfg.Memory, store, opts...)
	rt.memory.Start()
	rt.closers = append(rt.closers, rt.memory.Close)
	return nil
}

func (rt *Runtime) initTools(ctx context.Context) error {
	rt.tools = tools.NewRegistry(
		tools.WithMetrics(rt.obs.Metrics()),
		tools.WithLogger(rt.logger),
	)
	rt.closers = append(rt.closers, rt.tools.Close)

	if err := tools.RegisterBuiltins(rt.tools, rt.memory, &rt.cfg.Tools); err != nil {
		return fmt.Errorf("runtime: builtin tools: %w", err)
	}
	for _, serverCfg := range rt.cfg.Tools.MCPServers {
		src, err := tools.NewMCPSource(serverCfg)
		if err != nil {
			return fmt.Errorf("runtime: mcp server %s: %w", serverCfg.Name, err)
		}
		if err := rt.tools.RegisterSource(ctx, src); err != nil {
			// A down MCP server must not block startup.
			rt.logger.Warn("mcp server unavailable", "server", serverCfg.Name, "error", err)
		}
	}
	return nil
}

func (rt *Runtime) initAgents() {
	llmOpts := &llms.Options{
		Temperature:      rt.cfg.LLM.Temperature,
		MaxTokens:        rt.cfg.LLM.MaxTokens,
		TopP:             rt.cfg.LLM.TopP,
		FrequencyPenalty: rt.cfg.LLM.FrequencyPenalty,
		PresencePenalty:  rt.cfg.LLM.PresencePenalty,
		Stop:             rt.cfg.LLM.Stop,
	}

	rt.agents = agent.NewManager(rt.provider, rt.memory, rt.tools,
		agent.WithObserver(rt.obs.Observer()),
		agent.WithLogger(rt.logger),
		agent.WithLLMOptions(llmOpts),
		agent.WithToolTimeout(rt.cfg.Deadlines.Tool),
		agent.WithProfiles(rt.cfg.Agents),
	)
	rt.planner = planner.New(rt.provider, rt.memory, rt.tools,
		planner.WithAgents(rt.agents.Summaries()),
		planner.WithObserver(rt.obs.Observer()),
		planner.WithLogger(rt.logger),
		planner.WithLLMOptions(llmOpts),
	)
	rt.fallback = fallback.NewManager(&rt.cfg.Fallback,
		fallback.WithObserver(rt.obs.Observer()),
		fallback.WithLogger(rt.logger),
	)
}

func (rt *Runtime) initSessions() error {
	if rt.cfg.Storage.Backend == "sql" {
		svc, err := session.NewSQLServiceFromConfig(&rt.cfg.Storage.Database)
		if err != nil {
			return fmt.Errorf("runtime: session service: %w", err)
		}
		rt.sessions = svc
	} else {
		rt.sessions = session.NewInMemoryService()
	}
	rt.closers = append(rt.closers, rt.sessions.Close)
	return nil
}

func (rt *Runtime) initOrchestrator() {
	rt.orch = orchestrator.New(rt.planner, rt.agents, rt.memory, rt.fallback,
		orchestrator.WithSessionService(rt.sessions),
		orchestrator.WithExtractor(orchestrator.NewExtractor(rt.provider, nil)),
		orchestrator.WithLogger(rt.logger),
		orchestrator.WithDeadlines(rt.cfg.Deadlines),
	)
}

func (rt *Runtime) initServer(ctx context.Context) error {
	opts := []server.Option{
		server.WithLogger(rt.logger),
		server.WithMiddleware(observability.HTTPMiddleware(
			rt.obs.Tracer("ensemble.http"), rt.obs.Metrics())),
	}
	if rt.cfg.Server.Auth.Enabled {
		validator, err := auth.NewValidator(ctx, rt.cfg.Server.Auth)
		if err != nil {
			return fmt.Errorf("runtime: auth: %w", err)
		}
		opts = append(opts, server.WithAuth(validator))
	}
	rt.server = server.New(rt.cfg.Server, rt.orch, rt.sessions, opts...)
	return nil
}

// Orchestrator returns the wired orchestrator, for one-shot callers.
func (rt *Runtime) Orchestrator() *orchestrator.Orchestrator {
	return rt.orch
}

// Server returns the wired HTTP server.
func (rt *Runtime) Server() *server.Server {
	return rt.server
}

// Logger returns the configured logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Close releases all components in reverse construction order, collecting
// every error.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

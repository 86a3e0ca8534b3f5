// Command mcpmux is the server shell: it wires config, logging, the
// backend registry, the learning engine, the pattern store, the router,
// and the six tool handlers into one mcp-go stdio server. Exit code is
// nonzero only on startup failure; once connected to the transport every
// per-tool error is a structured response, never a process exit.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	goredis "github.com/redis/go-redis/v9"

	"github.com/arcway/mcpmux/internal/backend"
	"github.com/arcway/mcpmux/internal/config"
	"github.com/arcway/mcpmux/internal/learning"
	"github.com/arcway/mcpmux/internal/logging"
	"github.com/arcway/mcpmux/internal/patterns"
	"github.com/arcway/mcpmux/internal/router"
	"github.com/arcway/mcpmux/internal/telemetry"
	"github.com/arcway/mcpmux/internal/workflow"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpmux: startup failed:", err)
		os.Exit(1)
	}
}

func run() error {
	log := logging.New("mcpmux", os.Getenv("MCPMUX_LOG_LEVEL"), os.Getenv("MCPMUX_LOG_FORMAT"))
	shutdownTelemetry := telemetry.Init("mcpmux")
	defer shutdownTelemetry(context.Background())

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	reg := backend.NewRegistry(log.WithComponent("backend"))
	for _, desc := range cfg.Backends {
		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("register backend %q: %w", desc.Name, err)
		}
	}

	mgr := backend.NewConcurrentRequestManager(0)

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = goredis.NewClient(opts)
	}
	health := backend.NewHealthMonitor(redisClient, log.WithComponent("health")).WithManager(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if os.Getenv("MCPMUX_DISABLE_HEALTH_LOOP") != "1" {
		stopHealthLoop := health.StartPeriodic(ctx, reg, 0)
		defer stopHealthLoop()
	}

	learningStore := learning.NewFileStore(filepath.Join(cfg.DataDir, "learning", "learning-state.json"))
	learner := learning.NewEngine(learningStore, log.WithComponent("learning"))
	defer learner.Flush()

	patternStore := patterns.NewStore()
	patternsPath := filepath.Join(cfg.DataDir, "patterns", "patterns.json")
	if err := patternStore.LoadFromFile(patternsPath); err != nil {
		log.Warn("pattern store: load failed, starting empty", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		if err := patternStore.SaveToFile(patternsPath); err != nil {
			log.Error("pattern store: save failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	rt := router.New(reg, learner, router.RulesConfig{
		ComplexBackend: firstConfigured(reg, "nvidia_qwen"),
		CodeBackend:    firstConfigured(reg, "nvidia_deepseek"),
	})

	topics := config.TopicMap(cfg.Topics)

	coder, reviewer := cfg.CoderBackend, cfg.ReviewerBackend
	if coder == "" {
		coder = firstByKind(cfg, backend.KindLocal)
	}
	if reviewer == "" {
		reviewer = firstHealthyOtherThan(reg, coder)
	}

	askHandler := workflow.NewAskHandler(reg, rt, learner)
	councilHandler := workflow.NewCouncilHandler(reg, topics).WithManager(mgr)
	dualIterateHandler := workflow.NewDualIterateHandler(reg, coder, reviewer)
	subagentHandler := workflow.NewSubagentHandler(reg, cfg.Roles).WithPatterns(patternAdapter{patternStore})
	parallelAgentsHandler := workflow.NewParallelAgentsHandler(reg, subagentHandler).WithManager(mgr)

	srv := server.NewMCPServer("mcpmux", version, server.WithToolCapabilities(false))
	registerTools(srv, deps{
		log:            log.WithComponent("dispatch"),
		reg:            reg,
		health:         health,
		mgr:            mgr,
		ask:            askHandler,
		council:        councilHandler,
		dualIterate:    dualIterateHandler,
		parallelAgents: parallelAgentsHandler,
		subagent:       subagentHandler,
	})

	log.Info("mcpmux ready", map[string]interface{}{"backends": len(cfg.Backends)})
	return server.ServeStdio(srv)
}

// firstConfigured returns name if it is a registered backend, else "".
// Used to leave a rules-tier preference unset when the operator hasn't
// configured the backend the heuristic names.
func firstConfigured(reg *backend.Registry, name string) string {
	for _, n := range reg.Names() {
		if n == name {
			return name
		}
	}
	return ""
}

func firstByKind(cfg *config.Config, kind backend.Kind) string {
	for _, d := range cfg.Backends {
		if d.Kind == kind {
			return d.Name
		}
	}
	if len(cfg.Backends) > 0 {
		return cfg.Backends[0].Name
	}
	return ""
}

func firstHealthyOtherThan(reg *backend.Registry, exclude string) string {
	for _, name := range reg.FallbackChain() {
		if name != exclude && reg.IsHealthy(name) {
			return name
		}
	}
	for _, name := range reg.FallbackChain() {
		if name != exclude {
			return name
		}
	}
	return exclude
}

// patternAdapter projects patterns.Store onto workflow.PatternAugmenter so
// the workflow package never imports internal/patterns directly.
type patternAdapter struct {
	store *patterns.Store
}

func (a patternAdapter) Search(query string, limit int) []workflow.PatternHit {
	hits := a.store.Search(query, patterns.SearchOptions{Limit: limit})
	out := make([]workflow.PatternHit, len(hits))
	for i, h := range hits {
		out[i] = workflow.PatternHit{Description: h.Description, Content: h.Content, Similarity: h.Similarity}
	}
	return out
}

func (a patternAdapter) Remember(content, description, category string) {
	a.store.Add(content, description, category, nil)
}

func newRequestID() string {
	return uuid.NewString()
}

// Package server provides the public entry point for initializing the
// DevopsMate server.
//
// This package exists in pkg/ (not internal/) so that other binaries can
// import it and wrap the assembled handler with their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/kloudping-venkat/DevopsMate/internal/agents"
	"github.com/kloudping-venkat/DevopsMate/internal/api"
	"github.com/kloudping-venkat/DevopsMate/internal/api/handlers"
	"github.com/kloudping-venkat/DevopsMate/internal/approval"
	"github.com/kloudping-venkat/DevopsMate/internal/auth"
	"github.com/kloudping-venkat/DevopsMate/internal/collab"
	"github.com/kloudping-venkat/DevopsMate/internal/config"
	"github.com/kloudping-venkat/DevopsMate/internal/datasource"
	"github.com/kloudping-venkat/DevopsMate/internal/embeddings"
	"github.com/kloudping-venkat/DevopsMate/internal/executor"
	"github.com/kloudping-venkat/DevopsMate/internal/guardrails"
	"github.com/kloudping-venkat/DevopsMate/internal/llm"
	"github.com/kloudping-venkat/DevopsMate/internal/modes"
	"github.com/kloudping-venkat/DevopsMate/internal/notify"
	"github.com/kloudping-venkat/DevopsMate/internal/rag"
	"github.com/kloudping-venkat/DevopsMate/internal/retention"
	"github.com/kloudping-venkat/DevopsMate/internal/router"
	"github.com/kloudping-venkat/DevopsMate/internal/sessions"
	"github.com/kloudping-venkat/DevopsMate/internal/store"
	"github.com/kloudping-venkat/DevopsMate/internal/telemetry"
	"github.com/kloudping-venkat/DevopsMate/internal/vectorstore"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized DevopsMate components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store backs sessions, knowledge, actions and collaborations.
	Store store.Store

	// Engine is the retrieval engine; the CLI ingests through it.
	Engine *rag.Engine

	// Router dispatches queries to the mode handlers.
	Router *router.QueryRouter

	// Approvals is the approval workflow.
	Approvals *approval.Workflow

	// Config is the server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	sweeper  *approval.Sweeper
	janitor  *retention.Janitor
	watcher  *rag.Watcher
	notifier *notify.Service

	healthChecks      map[string]contracts.HealthChecker
	closers           []func() error
	telemetryShutdown func(context.Context) error

	wg sync.WaitGroup
}

// New loads configuration and initializes every component.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes DevopsMate with an explicit configuration.
// Nothing runs in the background until Start is called.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	srv := &Server{Config: cfg, Port: cfg.Port}

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	srv.telemetryShutdown = shutdown

	ok := false
	defer func() {
		if !ok {
			srv.Shutdown(context.Background())
		}
	}()

	// ── Context Store ──
	dataStore, err := openStore(ctx, cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	srv.Store = dataStore
	srv.closers = append(srv.closers, dataStore.Close)

	// ── Retrieval ──
	engine, err := srv.buildEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv.Engine = engine
	if err := seedKnowledgeBases(ctx, engine, cfg.KnowledgeBases); err != nil {
		return nil, err
	}

	// ── Models, data sources, specialists ──
	modelRouter := llm.NewModelRouter(llm.Config{
		Endpoints:      cfg.LLM.Endpoints,
		CodeModel:      cfg.LLM.CodeModel,
		AnalyticsModel: cfg.LLM.AnalyticsModel,
		Timeout:        cfg.LLM.Timeout,
	})
	log.Info().Strs("endpoints", cfg.LLM.Endpoints).Msg("✅ Model router initialized")

	sources := datasource.NewRegistry()
	for _, dc := range cfg.DataSources {
		if dc.Type == "static" {
			sources.Register(datasource.NewStaticSource(dc.Name, dc.Kind, dc.Facts))
		} else {
			sources.Register(datasource.NewHTTPSource(dc.Name, dc.Kind, dc.URL, dc.Token, dc.Timeout))
		}
	}

	specialists, err := agents.NewDefaultRegistry(modelRouter, sources, cfg.Specializations...)
	if err != nil {
		return nil, fmt.Errorf("init specialists: %w", err)
	}
	orchestrator := collab.NewOrchestrator(specialists, modelRouter, dataStore, collab.WithBranchTimeout(cfg.Collab.BranchTimeout))
	log.Info().Int("data_sources", len(cfg.DataSources)).Msg("✅ Specialists and collaboration orchestrator initialized")

	// ── Approval workflow ──
	backend, err := executor.New(executor.Config{
		Kind:    cfg.Executor.Kind,
		URL:     cfg.Executor.URL,
		Token:   cfg.Executor.Token,
		Timeout: cfg.Executor.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init executor: %w", err)
	}
	policies, err := approval.CompilePolicies(append(slices.Clone(approval.DefaultPolicyRules), cfg.Policies...))
	if err != nil {
		return nil, fmt.Errorf("compile approval policies: %w", err)
	}
	srv.notifier = notify.NewService(cfg.Notifications...)
	srv.Approvals = approval.NewWorkflow(dataStore, backend,
		approval.WithTTL(cfg.Approval.TTL),
		approval.WithPolicies(policies),
		approval.WithNotifier(srv.notifier),
	)
	srv.sweeper = approval.NewSweeper(srv.Approvals, cfg.Approval.SweepInterval)
	log.Info().
		Str("executor", cfg.Executor.Kind).
		Int("policies", len(policies)).
		Dur("ttl", cfg.Approval.TTL).
		Msg("✅ Approval workflow initialized")

	// ── Session retention ──
	var archiver retention.Archiver
	if cfg.Retention.ArchiveDir != "" {
		archiver = retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.Compress)
	}
	srv.janitor = retention.NewJanitor(dataStore, archiver, retention.Config{
		Interval:    cfg.Retention.Interval,
		IdleTimeout: cfg.Retention.IdleTimeout,
		Retention:   cfg.Retention.Retention,
	})

	// ── Router ──
	sessionManager := sessions.NewManager(dataStore)
	modeHandlers := modes.NewHandlers(modes.Deps{
		LLM:       modelRouter,
		Retrieval: engine,
		Sources:   sources,
		Collab:    orchestrator,
		Agents:    specialists,
		Approvals: srv.Approvals,
	})

	var rules []guardrails.Rule
	if len(cfg.Guardrails) > 0 {
		rules = cfg.Guardrails
	}
	opts := []router.Option{router.WithValidator(guardrails.NewValidator(rules, guardrails.Limits{}))}
	if cfg.LLM.ModelClassifier {
		opts = append(opts, router.WithModelClassifier(modelRouter))
	}
	srv.Router = router.New(sessionManager, modeHandlers, opts...)

	// ── Watcher ──
	if cfg.Watch.Dir != "" {
		w, err := rag.NewWatcher(engine, cfg.Watch.KnowledgeBaseID, cfg.Watch.Dir, cfg.Watch.Extensions)
		if err != nil {
			return nil, fmt.Errorf("init knowledge watcher: %w", err)
		}
		srv.watcher = w
	}

	// ── HTTP ──
	chain := auth.NewProviderChain(
		auth.NewAPIKeyProvider(cfg.APIKeys()),
		auth.NewServiceAccountProvider(cfg.Auth.ServiceAccountSecret),
	)
	srv.Handler = api.NewRouter(cfg,
		handlers.New(srv.Router, sessionManager, srv.Approvals),
		&handlers.RAGHandlers{Engine: engine},
		chain,
		srv.healthChecks,
	)

	ok = true
	return srv, nil
}

// Start launches the approval sweeper, the retention janitor and the
// knowledge re-index followed, when configured, by the directory watcher.
// All stop when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.sweeper.Start(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.janitor.Start(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Engine.Reindex(ctx); err != nil {
			log.Warn().Err(err).Msg("Knowledge re-index incomplete")
		}
		if s.watcher == nil {
			return
		}
		if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("dir", s.Config.Watch.Dir).Msg("Knowledge watcher stopped")
		}
	}()
}

// Shutdown waits for background work, flushes pending notifications and
// telemetry, and closes the store. Cancel the Start context first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wg.Wait()
	if s.notifier != nil {
		s.notifier.Wait()
	}

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s.telemetryShutdown != nil {
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StoreConfig, dataDir string) (store.Store, error) {
	switch cfg.Kind {
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.Path).Msg("✅ SQLite store initialized")
		return s, nil
	default:
		s := store.NewMemoryStore(dataDir)
		log.Info().Msg("✅ In-memory store initialized")
		return s, nil
	}
}

func (s *Server) buildEngine(ctx context.Context, cfg *config.Config) (*rag.Engine, error) {
	embReg := embeddings.NewRegistry()
	embReg.Register("hash", embeddings.NewHashDriver(cfg.Embeddings.Dimensions))
	if cfg.Embeddings.Kind == "ollama" {
		embReg.Register("ollama", embeddings.NewOllamaDriver(cfg.Embeddings.Endpoint, cfg.Embeddings.Model,
			embeddings.WithOllamaBatchSize(cfg.Embeddings.BatchSize),
			embeddings.WithOllamaTimeout(cfg.Embeddings.Timeout),
		))
	}
	emb, err := embReg.Select(cfg.Embeddings.Kind)
	if err != nil {
		return nil, fmt.Errorf("embedding driver: %w", err)
	}

	vsReg := vectorstore.NewRegistry()
	vsReg.Register("embedded", vectorstore.NewEmbeddedStore(vectorstore.WithMaxVectors(cfg.VectorStore.MaxVectors)))
	if cfg.VectorStore.Kind == "pgvector" {
		pg, err := vectorstore.NewPgvectorStore(ctx, cfg.VectorStore.URL, emb.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("pgvector: %w", err)
		}
		s.closers = append(s.closers, func() error { pg.Close(); return nil })
		vsReg.Register("pgvector", pg)
	}
	vs, err := vsReg.Select(cfg.VectorStore.Kind)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	s.healthChecks = map[string]contracts.HealthChecker{
		"store":        contracts.HealthCheckFunc(s.Store.Ping),
		"embeddings":   embReg,
		"vector_store": vsReg,
	}

	log.Info().
		Str("embeddings", emb.Kind()).
		Int("dimensions", emb.Dimensions()).
		Str("vector_store", vs.Kind()).
		Msg("✅ Retrieval engine initialized")
	return rag.NewEngine(s.Store, emb, vs), nil
}

// seedKnowledgeBases creates the configured knowledge bases that do not
// exist yet. Existing ones keep their documents.
func seedKnowledgeBases(ctx context.Context, engine *rag.Engine, kbs []models.KnowledgeBase) error {
	if len(kbs) == 0 {
		return nil
	}
	existing, err := engine.ListKnowledgeBases(ctx)
	if err != nil {
		return fmt.Errorf("list knowledge bases: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, kb := range existing {
		have[kb.ID] = true
	}
	for i := range kbs {
		kb := kbs[i]
		if kb.ID != "" && have[kb.ID] {
			continue
		}
		if err := engine.CreateKnowledgeBase(ctx, &kb); err != nil {
			return fmt.Errorf("seed knowledge base %s: %w", kb.Name, err)
		}
	}
	return nil
}

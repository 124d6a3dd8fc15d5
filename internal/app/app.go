package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/papergraph-backend/internal/agents"
	"github.com/yungbote/papergraph-backend/internal/agents/prompts"
	"github.com/yungbote/papergraph-backend/internal/cache"
	"github.com/yungbote/papergraph-backend/internal/corpus"
	"github.com/yungbote/papergraph-backend/internal/data/db"
	"github.com/yungbote/papergraph-backend/internal/data/graph"
	"github.com/yungbote/papergraph-backend/internal/data/repos"
	"github.com/yungbote/papergraph-backend/internal/dedupe"
	"github.com/yungbote/papergraph-backend/internal/embeddings"
	"github.com/yungbote/papergraph-backend/internal/extraction"
	"github.com/yungbote/papergraph-backend/internal/observability"
	"github.com/yungbote/papergraph-backend/internal/pipeline"
	"github.com/yungbote/papergraph-backend/internal/pkg/lanes"
	"github.com/yungbote/papergraph-backend/internal/platform/arxiv"
	"github.com/yungbote/papergraph-backend/internal/platform/gcs"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/papergraph-backend/internal/platform/openai"
	"github.com/yungbote/papergraph-backend/internal/platform/pinecone"
	"github.com/yungbote/papergraph-backend/internal/platform/redisbus"
	"github.com/yungbote/papergraph-backend/internal/platform/semscholar"
	"github.com/yungbote/papergraph-backend/internal/reasoning"
	"github.com/yungbote/papergraph-backend/internal/resolve"
)

// App wires env config, platform clients, repositories, and the core
// services. The CLI owns one App per invocation.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    *repos.Set
	Selector *corpus.Selector
	Core     *pipeline.Core

	Bus     redisbus.Bus
	Neo4j   *neo4jdb.Client
	Mirror  *graph.Mirror
	Metrics *observability.Metrics

	shutdownOTel func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg := LoadConfig(log)

	prompts.RegisterAll()

	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "papergraph-backend",
		Environment: cfg.LogMode,
	})
	metrics := observability.NewMetrics()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()
	reposet := repos.NewSet(theDB, log)

	provider, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init llm provider: %w", err)
	}

	agentCache, err := cache.NewAgentCache(cfg.CacheRoot, cfg.CacheEnabled, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init agent cache: %w", err)
	}
	derivedCache, err := cache.NewDerivedCache(cfg.CacheRoot, cfg.CacheEnabled, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init derived cache: %w", err)
	}

	limiter := lanes.FromEnv(log)

	embedder, err := embeddings.NewClient(log, provider, agentCache, limiter)
	if err != nil {
		log.Sync()
		return nil, err
	}
	runner, err := agents.NewRunner(log, provider, agentCache, limiter, metrics)
	if err != nil {
		log.Sync()
		return nil, err
	}

	ss, err := semscholar.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	ax, err := arxiv.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	selectorCfg, err := corpus.LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load selector config: %w", err)
	}
	selector, err := corpus.NewSelector(log, selectorCfg, ss, ax, embedder, reposet.Papers, limiter)
	if err != nil {
		log.Sync()
		return nil, err
	}

	vectors, err := wireVectorStore(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	resolver, err := resolve.NewResolver(
		log, resolve.DefaultConfig(),
		reposet.Nodes, reposet.Links, reposet.Aliases, reposet.Mentions,
		embedder, vectors,
	)
	if err != nil {
		log.Sync()
		return nil, err
	}
	validator := extraction.NewValidator(log, extraction.ValidatorConfig{})

	deduper, err := dedupe.NewDeduper(
		log, reposet.Graph,
		reposet.Nodes, reposet.Edges, reposet.Mentions, reposet.Links, reposet.Aliases,
	)
	if err != nil {
		log.Sync()
		return nil, err
	}
	engine, err := reasoning.NewEngine(log, reposet.Graph, reposet.Insights)
	if err != nil {
		log.Sync()
		return nil, err
	}

	// Optional integrations: each returns nil when unconfigured.
	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("neo4j unavailable, graph mirror disabled", "error", err)
		neo4jClient = nil
	}
	mirror, err := graph.NewMirror(neo4jClient, log, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if mirror != nil {
		mirror.EnsureSchema(context.Background())
	}
	var mirrorIface pipeline.GraphMirror
	if mirror != nil {
		mirrorIface = mirror
	}

	bus, err := redisbus.NewFromEnv(log)
	if err != nil {
		log.Warn("redis unavailable, run events disabled", "error", err)
		bus = nil
	}
	archive, err := gcs.NewFromEnv(log)
	if err != nil {
		log.Warn("gcs unavailable, fulltext archive disabled", "error", err)
		archive = nil
	}

	orchestrator, err := pipeline.NewOrchestrator(
		log, reposet, runner, validator, resolver, derivedCache,
		archive, bus, mirrorIface, metrics,
	)
	if err != nil {
		log.Sync()
		return nil, err
	}
	core, err := pipeline.NewCore(log, reposet, orchestrator, engine, deduper, mirrorIface, metrics)
	if err != nil {
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Selector:     selector,
		Core:         core,
		Bus:          bus,
		Neo4j:        neo4jClient,
		Mirror:       mirror,
		Metrics:      metrics,
		shutdownOTel: shutdownOTel,
	}, nil
}

// wireVectorStore builds the external ANN index when Pinecone is configured;
// nil means the resolver falls back to the repository scan.
func wireVectorStore(log *logger.Logger) (pinecone.VectorStore, error) {
	apiKey := strings.TrimSpace(os.Getenv("PINECONE_API_KEY"))
	if apiKey == "" {
		return nil, nil
	}
	pc, err := pinecone.New(log, pinecone.Config{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return pinecone.NewVectorStore(log, pc)
}

// Close releases external connections; safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Neo4j != nil {
		_ = a.Neo4j.Close(ctx)
	}
	if a.shutdownOTel != nil {
		_ = a.shutdownOTel(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// Command worker consumes law documents from NATS and runs them through
// the ingestion pipeline: validate, parse, chunk, embed, store. Results
// land in the SQL warehouse and the Neo4j citation graph.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/engine/egov"
	"github.com/AobaIwaki123/lawvec/engine/graph"
	"github.com/AobaIwaki123/lawvec/engine/ingest"
	"github.com/AobaIwaki123/lawvec/engine/warehouse"
	"github.com/AobaIwaki123/lawvec/pkg/embed"
	"github.com/AobaIwaki123/lawvec/pkg/metrics"
	"github.com/AobaIwaki123/lawvec/pkg/vertex"
)

var met = metrics.New()

var (
	mChunksStored  = met.Counter("lawvec_worker_chunks_stored_total", "Embedded chunks written to the warehouse")
	mLawsStored    = met.Counter("lawvec_worker_laws_stored_total", "Laws fully ingested")
	mDedupSkips    = met.Counter("lawvec_worker_dedup_skips_total", "Messages skipped because the law was already ingested")
	mWarehouseRows = met.Gauge("lawvec_worker_warehouse_rows", "Current number of rows in the warehouse table")
	mIndexSize     = met.Gauge("lawvec_worker_index_size", "Law names known to the citation index")
)

// Config holds the worker configuration, read from the environment.
type Config struct {
	NATSURL      string
	WarehouseDSN string
	Table        string
	Dimensions   int

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	EgovURL       string
	IndexCategory int

	Provider   string // "vertex", "ollama" or "openai"
	Project    string
	Location   string
	EmbedModel string
	OllamaURL  string
	OpenAIKey  string

	MetricsPort int
}

func loadConfig() Config {
	_ = godotenv.Load()
	return Config{
		NATSURL:       envOr("NATS_URL", nats.DefaultURL),
		WarehouseDSN:  envOr("WAREHOUSE_DSN", ""),
		Table:         envOr("WAREHOUSE_TABLE", warehouse.DefaultTable),
		Dimensions:    envInt("EMBED_DIMENSIONS", warehouse.DefaultDimensions),
		Neo4jURL:      envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:     envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:     envOr("NEO4J_PASSWORD", "password"),
		EgovURL:       envOr("EGOV_URL", ""),
		IndexCategory: envInt("EGOV_CATEGORY", int(domain.CategoryAll)),
		Provider:      envOr("EMBED_PROVIDER", "vertex"),
		Project:       envOr("GOOGLE_CLOUD_PROJECT", ""),
		Location:      envOr("VERTEX_LOCATION", ""),
		EmbedModel:    envOr("EMBED_MODEL", ""),
		OllamaURL:     envOr("OLLAMA_URL", "http://localhost:11434"),
		OpenAIKey:     envOr("OPENAI_API_KEY", ""),
		MetricsPort:   envInt("METRICS_PORT", 9092),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met.CollectRuntime("lawvec_worker", 15*time.Second)
	met.ServeAsync(cfg.MetricsPort)

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("lawvec-worker"))
	if err != nil {
		return fmt.Errorf("connect to nats at %s: %w", cfg.NATSURL, err)
	}
	defer nc.Close()

	if cfg.WarehouseDSN == "" {
		return fmt.Errorf("WAREHOUSE_DSN is required")
	}
	wh, err := warehouse.Open(warehouse.Config{
		DSN:        cfg.WarehouseDSN,
		Table:      cfg.Table,
		Dimensions: cfg.Dimensions,
	})
	if err != nil {
		return err
	}
	defer wh.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := wh.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping warehouse: %w", err)
	}
	if err := wh.EnsureSchema(pingCtx); err != nil {
		return err
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("create neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	gs := graph.New(driver)

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}

	// The citation index maps law names to numbers so CITES edges can be
	// resolved. Ingestion still works without it, just without citations.
	laws := egov.NewClient(cfg.EgovURL)
	if _, err := laws.FetchIndex(ctx, domain.Category(cfg.IndexCategory)); err != nil {
		logger.Warn("law name index unavailable, citations will not be linked", "err", err)
	}
	mIndexSize.Set(int64(laws.IndexSize()))

	// A law is marked seen only after its chunks are committed, so a
	// failed ingest stays eligible for the retry redelivery.
	var mu sync.Mutex
	seen := make(map[string]bool)

	deps := ingest.Deps{
		Embedder: embedder,
		Warehouse: &trackingWarehouse{
			inner: wh,
			markSeen: func(lawNo string) {
				mu.Lock()
				seen[lawNo] = true
				mu.Unlock()
			},
		},
		Graph: gs,
		Index: laws,
		DeduplicateF: func(_ context.Context, lawNo string) (bool, error) {
			mu.Lock()
			dup := seen[lawNo]
			mu.Unlock()
			if dup {
				mDedupSkips.Inc()
			}
			return dup, nil
		},
		Logger: logger,
	}

	sub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	go pollRowCount(ctx, wh, logger)

	logger.Info("worker ready",
		"subject", ingest.IngestSubject,
		"warehouse", wh.DriverName(),
		"embed_provider", cfg.Provider,
		"index_size", laws.IndexSize(),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := sub.Drain(); err != nil {
		logger.Warn("drain subscription", "err", err)
	}
	return nil
}

// trackingWarehouse counts stored chunks and records law completion on
// behalf of the dedup map.
type trackingWarehouse struct {
	inner    ingest.Warehouse
	markSeen func(lawNo string)
}

func (t *trackingWarehouse) Upsert(ctx context.Context, records []warehouse.Record) error {
	if err := t.inner.Upsert(ctx, records); err != nil {
		return err
	}
	mChunksStored.Add(int64(len(records)))
	mLawsStored.Inc()
	if len(records) > 0 {
		t.markSeen(records[0].LawNo)
	}
	return nil
}

func newEmbedder(ctx context.Context, cfg Config) (embed.Provider, error) {
	switch cfg.Provider {
	case "vertex":
		if cfg.Project == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the vertex provider")
		}
		client, err := vertex.NewClient(ctx, cfg.Project, vertex.WithLocation(cfg.Location))
		if err != nil {
			return nil, fmt.Errorf("create vertex client: %w", err)
		}
		return vertex.NewEmbedder(client, cfg.EmbedModel, cfg.Dimensions), nil
	case "ollama":
		model := cfg.EmbedModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return embed.NewOllama(cfg.OllamaURL, model, cfg.Dimensions), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return embed.NewOpenAI(embed.OpenAIConfig{APIKey: cfg.OpenAIKey, Dimensions: cfg.Dimensions}), nil
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.Provider)
	}
}

func pollRowCount(ctx context.Context, wh *warehouse.Store, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			countCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			n, err := wh.Count(countCtx)
			cancel()
			if err != nil {
				logger.Debug("warehouse row count", "err", err)
				continue
			}
			mWarehouseRows.Set(n)
		}
	}
}

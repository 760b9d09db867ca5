// Command indexer crawls the e-Gov law index and ingests matching laws
// straight into the warehouse and citation graph, without going through
// NATS. A state file records which laws are already done so repeated
// runs only pick up new ones.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/engine/egov"
	"github.com/AobaIwaki123/lawvec/engine/graph"
	"github.com/AobaIwaki123/lawvec/engine/ingest"
	"github.com/AobaIwaki123/lawvec/engine/warehouse"
	"github.com/AobaIwaki123/lawvec/pkg/embed"
	"github.com/AobaIwaki123/lawvec/pkg/fn"
	"github.com/AobaIwaki123/lawvec/pkg/metrics"
	"github.com/AobaIwaki123/lawvec/pkg/vertex"
)

var met = metrics.New()

// Indexer metrics
var (
	mLawsIngested = met.Counter("lawvec_indexer_laws_ingested_total", "Laws ingested")
	mErrorsTotal  = func(stage string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("lawvec_indexer_errors_total", "stage", stage), "Total indexing errors")
	}
	mLawsSkipped  = met.Counter("lawvec_indexer_laws_skipped_total", "Laws skipped because the state file already has them")
	mChunksStored = met.Counter("lawvec_indexer_chunks_stored_total", "Embedded chunks written to the warehouse")
	mIndexSize    = met.Gauge("lawvec_indexer_index_size", "Laws in the fetched e-Gov index")
	mMatched      = met.Gauge("lawvec_indexer_keyword_matches", "Laws matching the keyword filter")
	mActiveLaws   = met.Gauge("lawvec_indexer_active_laws", "Laws currently in the pipeline")
	mLastScan     = met.Gauge("lawvec_indexer_last_scan_timestamp", "Epoch of the last index scan")
	mFetchDur     = met.Histogram("lawvec_indexer_fetch_duration_seconds", "Per-law XML fetch time", nil)
	mPipelineDur  = met.Histogram("lawvec_indexer_pipeline_duration_seconds", "Per-law pipeline time", nil)
)

func main() {
	_ = godotenv.Load()

	var (
		category  = flag.Int("category", int(domain.CategoryAll), "e-Gov law list category (1=all, 2=constitution and laws, 3=cabinet orders, 4=ministerial ordinances)")
		keyword   = flag.String("keyword", "労働", "keyword the law name must contain (empty matches everything)")
		workers   = flag.Int("workers", 4, "laws processed in parallel")
		interval  = flag.Duration("interval", 0, "rescan interval (0 runs once and exits)")
		stateFile = flag.String("state", "/tmp/lawvec/.indexer-state.json", "processed laws state file")
		dsn       = flag.String("dsn", os.Getenv("WAREHOUSE_DSN"), "warehouse DSN (bigquery://... or postgres://...)")
		table     = flag.String("table", warehouse.DefaultTable, "warehouse table name")
		dims      = flag.Int("dims", warehouse.DefaultDimensions, "embedding dimensions")
		neo4jURL  = flag.String("neo4j", os.Getenv("NEO4J_URL"), "Neo4j bolt URL (empty disables the citation graph)")
		neo4jUser = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass = flag.String("neo4j-pass", envOr("NEO4J_PASSWORD", "password"), "Neo4j password")
		provider  = flag.String("provider", envOr("EMBED_PROVIDER", "vertex"), "embedding provider: vertex, ollama or openai")
		project   = flag.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project for Vertex AI")
		location  = flag.String("location", os.Getenv("VERTEX_LOCATION"), "Vertex AI region")
		model     = flag.String("model", os.Getenv("EMBED_MODEL"), "embedding model name")
		ollamaURL = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		egovURL   = flag.String("egov", os.Getenv("EGOV_URL"), "e-Gov API base URL (empty uses the public endpoint)")
	)
	flag.Parse()

	met.CollectRuntime("lawvec_indexer", 15*time.Second)
	met.ServeAsync(9091)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *dsn == "" {
		log.Error("missing -dsn (or WAREHOUSE_DSN)")
		os.Exit(1)
	}
	wh, err := warehouse.Open(warehouse.Config{DSN: *dsn, Table: *table, Dimensions: *dims})
	if err != nil {
		log.Error("warehouse open failed", "error", err)
		os.Exit(1)
	}
	defer wh.Close()
	if err := wh.EnsureSchema(ctx); err != nil {
		log.Error("warehouse schema failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to warehouse", "driver", wh.DriverName(), "table", *table)

	var gs ingest.GraphStore
	if *neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
		if err != nil {
			log.Error("neo4j connect failed", "error", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			log.Error("neo4j verify failed", "error", err)
			os.Exit(1)
		}
		gs = graph.New(driver)
		log.Info("connected to Neo4j")
	}

	embedder, err := newEmbedder(ctx, *provider, *project, *location, *model, *ollamaURL, *dims)
	if err != nil {
		log.Error("embedder init failed", "error", err)
		os.Exit(1)
	}
	log.Info("using embeddings", "provider", *provider)

	laws := egov.NewClient(*egovURL)

	deps := ingest.Deps{
		Embedder:  embedder,
		Warehouse: countingWarehouse{wh},
		Graph:     gs,
		Index:     laws,
		Logger:    log,
	}
	pipeline := ingest.NewPipeline(deps)

	os.MkdirAll(filepath.Dir(*stateFile), 0o755)
	processed := loadState(*stateFile)
	var mu sync.Mutex // guards processed and the state file

	scan := func() {
		mLastScan.Set(time.Now().Unix())

		entries, err := laws.FetchIndex(ctx, domain.Category(*category))
		if err != nil {
			mErrorsTotal("index").Inc()
			log.Error("law index fetch failed", "error", err)
			return
		}
		mIndexSize.Set(int64(len(entries)))

		matched := egov.FilterByKeyword(entries, *keyword)
		mMatched.Set(int64(len(matched)))

		var todo []domain.LawEntry
		for _, e := range matched {
			if processed[egov.NormalizeLawNo(e.Number)] {
				mLawsSkipped.Inc()
				continue
			}
			todo = append(todo, e)
		}
		if len(todo) == 0 {
			log.Info("index scan done, nothing new", "matched", len(matched))
			return
		}
		log.Info("index scan", "total", len(entries), "matched", len(matched), "new", len(todo))

		results := fn.ParMap(todo, *workers, func(e domain.LawEntry) bool {
			if ctx.Err() != nil {
				return false
			}
			mActiveLaws.Inc()
			defer mActiveLaws.Dec()

			fetchStart := time.Now()
			doc, err := laws.FetchLawData(ctx, e.Number)
			mFetchDur.Since(fetchStart)
			if err != nil {
				mErrorsTotal("fetch").Inc()
				log.Error("law fetch failed", "law_no", e.Number, "error", err)
				return false
			}
			doc.Category = e.Category

			pipeStart := time.Now()
			result := pipeline(ctx, doc)
			mPipelineDur.Since(pipeStart)
			if result.IsErr() {
				_, err := result.Unwrap()
				mErrorsTotal("pipeline").Inc()
				log.Error("pipeline error", "law_no", e.Number, "error", err)
				return false
			}

			mLawsIngested.Inc()
			mu.Lock()
			processed[egov.NormalizeLawNo(e.Number)] = true
			saveState(*stateFile, processed)
			mu.Unlock()
			return true
		})

		ok := 0
		for _, r := range results {
			if r {
				ok++
			}
		}
		log.Info("scan done", "ingested", ok, "failed", len(todo)-ok)
	}

	scan()

	if *interval <= 0 {
		return
	}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// countingWarehouse tallies chunk writes on their way into the store.
type countingWarehouse struct {
	inner *warehouse.Store
}

func (c countingWarehouse) Upsert(ctx context.Context, records []warehouse.Record) error {
	if err := c.inner.Upsert(ctx, records); err != nil {
		return err
	}
	mChunksStored.Add(int64(len(records)))
	return nil
}

func newEmbedder(ctx context.Context, provider, project, location, model, ollamaURL string, dims int) (embed.Provider, error) {
	switch provider {
	case "vertex":
		if project == "" {
			return nil, fmt.Errorf("vertex provider needs -project or GOOGLE_CLOUD_PROJECT")
		}
		client, err := vertex.NewClient(ctx, project, vertex.WithLocation(location))
		if err != nil {
			return nil, err
		}
		return vertex.NewEmbedder(client, model, dims), nil
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return embed.NewOllama(ollamaURL, model, dims), nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("openai provider needs OPENAI_API_KEY")
		}
		return embed.NewOpenAI(embed.OpenAIConfig{APIKey: key, Dimensions: dims}), nil
	default:
		return nil, fmt.Errorf("unknown embed provider %q", provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	os.WriteFile(path, data, 0o644)
}

// Package main implements the lawvec API server. It answers legal
// questions over the ingested law corpus: /api/search runs a bare
// similarity search, /api/ask runs the full RAG pipeline against
// Gemini, optionally streaming the answer as server-sent events.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/engine/graph"
	"github.com/AobaIwaki123/lawvec/engine/rag"
	"github.com/AobaIwaki123/lawvec/engine/warehouse"
	"github.com/AobaIwaki123/lawvec/pkg/embed"
	"github.com/AobaIwaki123/lawvec/pkg/mid"
	"github.com/AobaIwaki123/lawvec/pkg/vertex"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	WarehouseDSN string
	Table        string
	Dimensions   int
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	Provider     string
	Project      string
	Location     string
	EmbedModel   string
	ChatModel    string
	OllamaURL    string
	OpenAIKey    string
	CORSOrigin   string
}

func loadConfig() Config {
	_ = godotenv.Load()
	return Config{
		Port:         envOr("PORT", "8080"),
		WarehouseDSN: envOr("WAREHOUSE_DSN", ""),
		Table:        envOr("WAREHOUSE_TABLE", warehouse.DefaultTable),
		Dimensions:   envInt("EMBED_DIMENSIONS", warehouse.DefaultDimensions),
		Neo4jURL:     envOr("NEO4J_URL", ""),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASSWORD", "password"),
		Provider:     envOr("EMBED_PROVIDER", "vertex"),
		Project:      envOr("GOOGLE_CLOUD_PROJECT", ""),
		Location:     envOr("VERTEX_LOCATION", ""),
		EmbedModel:   envOr("EMBED_MODEL", ""),
		ChatModel:    envOr("CHAT_MODEL", rag.DefaultModel),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		OpenAIKey:    envOr("OPENAI_API_KEY", ""),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
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
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to the warehouse ---
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

	// --- Connect to Neo4j (optional) ---
	opts := rag.DefaultOptions()
	var enricher rag.Enricher
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		enricher = graph.New(driver)
	} else {
		opts.UseGraph = false
	}

	// --- Connect to Vertex AI ---
	if cfg.Project == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required")
	}
	vc, err := vertex.NewClient(ctx, cfg.Project, vertex.WithLocation(cfg.Location))
	if err != nil {
		return fmt.Errorf("vertex client: %w", err)
	}
	generator, err := vertex.NewGenerator(vc, cfg.ChatModel,
		vertex.WithSafetySettings(vertex.PermissiveSafety()))
	if err != nil {
		return fmt.Errorf("vertex generator: %w", err)
	}

	var embedder embed.Provider
	switch cfg.Provider {
	case "vertex":
		embedder = vertex.NewEmbedder(vc, cfg.EmbedModel, cfg.Dimensions)
	case "ollama":
		model := cfg.EmbedModel
		if model == "" {
			model = "nomic-embed-text"
		}
		embedder = embed.NewOllama(cfg.OllamaURL, model, cfg.Dimensions)
	case "openai":
		embedder = embed.NewOpenAI(embed.OpenAIConfig{APIKey: cfg.OpenAIKey, Dimensions: cfg.Dimensions})
	default:
		return fmt.Errorf("unknown embed provider %q", cfg.Provider)
	}

	// --- Build RAG service ---
	ragSvc := rag.New(embedder, generator, wh, enricher, opts, logger)

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/search", handleSearch(embedder, wh, logger))
	mux.HandleFunc("POST /api/ask", handleAsk(ragSvc, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("lawvec-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "warehouse", wh.DriverName(), "chat_model", generator.Model())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Laws []warehouse.Hit `json:"laws"`
}

func handleSearch(embedder embed.Provider, searcher rag.Searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if err := domain.ValidateQuery(domain.Query{Text: req.Query}); err != nil {
			badRequest(w, err)
			return
		}

		vec, err := embedder.Embed(r.Context(), req.Query)
		if err != nil {
			logger.Error("embed failed", "err", err)
			http.Error(w, `{"error":"embedding failed"}`, http.StatusInternalServerError)
			return
		}

		hits, err := searcher.Search(r.Context(), vec, req.TopK, req.MinSimilarity)
		if err != nil {
			logger.Error("search failed", "err", err)
			http.Error(w, `{"error":"search failed"}`, http.StatusInternalServerError)
			return
		}
		if hits == nil {
			hits = []warehouse.Hit{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResponse{Laws: hits})
	}
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	Stream   bool   `json:"stream,omitempty"`
}

func handleAsk(ragSvc *rag.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Question == "" {
			http.Error(w, `{"error":"question is required"}`, http.StatusBadRequest)
			return
		}

		if req.Stream {
			streamAnswer(w, r, ragSvc, req.Question, logger)
			return
		}

		answer, err := ragSvc.Query(r.Context(), req.Question)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				badRequest(w, err)
				return
			}
			logger.Error("rag query failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}
}

// streamAnswer replays the RAG pipeline over server-sent events: first a
// sources event with the matched laws, then one token event per model
// chunk, finally a done event carrying the full answer.
func streamAnswer(w http.ResponseWriter, r *http.Request, ragSvc *rag.Service, question string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	onSources := func(hits []warehouse.Hit) error {
		data, _ := json.Marshal(hits)
		if _, err := fmt.Fprintf(w, "event: sources\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	onToken := func(chunk string) error {
		data, _ := json.Marshal(map[string]string{"token": chunk})
		if _, err := fmt.Fprintf(w, "event: token\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	answer, err := ragSvc.QueryStream(r.Context(), question, onSources, onToken)
	if err != nil {
		logger.Error("rag stream failed", "err", err)
		data, _ := json.Marshal(map[string]string{"error": "answer generation failed"})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}

	data, _ := json.Marshal(answer)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

func badRequest(w http.ResponseWriter, err error) {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	http.Error(w, string(body), http.StatusBadRequest)
}

// Command lawsearch asks a single question against the ingested law
// corpus from the command line. By default it runs the full RAG
// pipeline and prints the Gemini answer followed by the laws it was
// grounded on; -search-only stops after the similarity search, and
// -show prints a law's cleaned text straight from the e-Gov API
// without touching the warehouse.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/engine/egov"
	"github.com/AobaIwaki123/lawvec/engine/graph"
	"github.com/AobaIwaki123/lawvec/engine/rag"
	"github.com/AobaIwaki123/lawvec/engine/warehouse"
	"github.com/AobaIwaki123/lawvec/pkg/embed"
	"github.com/AobaIwaki123/lawvec/pkg/vertex"
)

func main() {
	_ = godotenv.Load()

	var (
		question   = flag.String("q", "", "question to ask (or pass it as the remaining arguments)")
		topK       = flag.Int("k", 3, "number of chunks to retrieve")
		minSim     = flag.Float64("min", 0.8, "minimum cosine similarity")
		chatModel  = flag.String("model", envOr("CHAT_MODEL", rag.DefaultModel), "Gemini model for the answer")
		stream     = flag.Bool("stream", false, "print the answer while it is generated")
		searchOnly = flag.Bool("search-only", false, "print the matching chunks and skip answer generation")
		show       = flag.String("show", "", "print a law's cleaned text (law name or number) and exit")
		exclude    = flag.String("exclude", "", "spans to cut from -show output, comma-separated from:to marker pairs")
		egovURL    = flag.String("egov", "", "e-Gov API base URL (default: public API)")
		category   = flag.Int("category", int(domain.CategoryAll), "e-Gov lawlists category for name resolution")
		dsn        = flag.String("dsn", os.Getenv("WAREHOUSE_DSN"), "warehouse DSN (bigquery://... or postgres://...)")
		table      = flag.String("table", envOr("WAREHOUSE_TABLE", warehouse.DefaultTable), "warehouse table name")
		dims       = flag.Int("dims", warehouse.DefaultDimensions, "embedding dimensions")
		provider   = flag.String("provider", envOr("EMBED_PROVIDER", "vertex"), "embedding provider: vertex, ollama or openai")
		project    = flag.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project for Vertex AI")
		location   = flag.String("location", os.Getenv("VERTEX_LOCATION"), "Vertex AI region")
		embedModel = flag.String("embed-model", os.Getenv("EMBED_MODEL"), "embedding model name")
		ollamaURL  = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		neo4jURL   = flag.String("neo4j", os.Getenv("NEO4J_URL"), "Neo4j bolt URL (empty skips graph enrichment)")
		neo4jUser  = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass  = flag.String("neo4j-pass", envOr("NEO4J_PASSWORD", "password"), "Neo4j password")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *show != "" {
		if err := showLaw(ctx, *egovURL, *show, *exclude, domain.Category(*category)); err != nil {
			log.Error("show failed", "error", err)
			os.Exit(1)
		}
		return
	}

	q := strings.TrimSpace(*question)
	if q == "" {
		q = strings.TrimSpace(strings.Join(flag.Args(), " "))
	}
	if q == "" {
		fmt.Fprintln(os.Stderr, "usage: lawsearch [flags] 質問文")
		flag.PrintDefaults()
		os.Exit(2)
	}

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

	embedder, vc, err := newEmbedder(ctx, *provider, *project, *location, *embedModel, *ollamaURL, *dims)
	if err != nil {
		log.Error("embedder init failed", "error", err)
		os.Exit(1)
	}

	if *searchOnly {
		vec, err := embedder.Embed(ctx, q)
		if err != nil {
			log.Error("embed failed", "error", err)
			os.Exit(1)
		}
		hits, err := wh.Search(ctx, vec, *topK, *minSim)
		if err != nil {
			log.Error("search failed", "error", err)
			os.Exit(1)
		}
		if len(hits) == 0 {
			fmt.Println("該当する法令は見つかりませんでした。")
			return
		}
		printHits(hits)
		return
	}

	// The answer always comes from Gemini, whatever embeds the query.
	if vc == nil {
		if *project == "" {
			log.Error("missing -project (or GOOGLE_CLOUD_PROJECT)")
			os.Exit(1)
		}
		vc, err = vertex.NewClient(ctx, *project, vertex.WithLocation(*location))
		if err != nil {
			log.Error("vertex client failed", "error", err)
			os.Exit(1)
		}
	}
	generator, err := vertex.NewGenerator(vc, *chatModel,
		vertex.WithSafetySettings(vertex.PermissiveSafety()))
	if err != nil {
		log.Error("vertex generator failed", "error", err)
		os.Exit(1)
	}

	opts := rag.DefaultOptions()
	opts.TopK = *topK
	opts.MinSimilarity = *minSim

	var enricher rag.Enricher
	if *neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
		if err != nil {
			log.Error("neo4j connect failed", "error", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		enricher = graph.New(driver)
	} else {
		opts.UseGraph = false
	}

	svc := rag.New(embedder, generator, wh, enricher, opts, log)

	var answer *rag.Answer
	if *stream {
		answer, err = svc.QueryStream(ctx, q, nil, func(chunk string) error {
			fmt.Print(chunk)
			return nil
		})
		fmt.Println()
	} else {
		answer, err = svc.Query(ctx, q)
	}
	if err != nil {
		log.Error("query failed", "error", err)
		os.Exit(1)
	}

	if !*stream {
		fmt.Println(answer.Text)
	}

	if len(answer.Laws) > 0 {
		fmt.Println("\n--- 参照法令 ---")
		printHits(answer.Laws)
	}
	if len(answer.Related) > 0 {
		names := make([]string, len(answer.Related))
		for i, l := range answer.Related {
			names[i] = fmt.Sprintf("%s（%s）", l.Name, l.LawNo)
		}
		fmt.Println("関連法令: " + strings.Join(names, "、"))
	}
	fmt.Printf("\n(model=%s tokens=%d)\n", answer.Model, answer.TokensUsed)
}

func printHits(hits []warehouse.Hit) {
	for i, h := range hits {
		fmt.Printf("[%d] %s（%s）#%d  similarity=%.3f\n", i+1, h.LawName, h.LawNo, h.ChunkIndex, h.Similarity)
		fmt.Printf("    %s\n", snippet(h.Content, 120))
	}
}

// snippet truncates s to at most n runes.
func snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// showLaw prints the cleaned sentence fragments of one law, the same text
// the indexer embeds. ref is resolved as a law name through the index
// first; an era-prefixed ref that the index does not know is treated as a
// law number.
func showLaw(ctx context.Context, baseURL, ref, exclude string, cat domain.Category) error {
	client := egov.NewClient(baseURL)
	if _, err := client.FetchIndex(ctx, cat); err != nil {
		return fmt.Errorf("fetch index: %w", err)
	}

	frags, err := client.ContentByName(ctx, ref)
	if err != nil && domain.EraOf(ref) != "" {
		frags, err = client.GetLawContent(ctx, ref)
	}
	if err != nil {
		return err
	}

	for _, f := range egov.CutSpans(frags, parseSpans(exclude)) {
		fmt.Println(f)
	}
	return nil
}

// parseSpans turns "from:to,from2:to2" into cut spans. A pair without a
// colon cuts from its marker through the end of the law.
func parseSpans(s string) []egov.Span {
	if s == "" {
		return nil
	}
	var spans []egov.Span
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, to, _ := strings.Cut(pair, ":")
		spans = append(spans, egov.Span{From: from, To: to})
	}
	return spans
}

func newEmbedder(ctx context.Context, provider, project, location, model, ollamaURL string, dims int) (embed.Provider, *vertex.Client, error) {
	switch provider {
	case "vertex":
		if project == "" {
			return nil, nil, fmt.Errorf("vertex provider needs -project or GOOGLE_CLOUD_PROJECT")
		}
		client, err := vertex.NewClient(ctx, project, vertex.WithLocation(location))
		if err != nil {
			return nil, nil, err
		}
		return vertex.NewEmbedder(client, model, dims), client, nil
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return embed.NewOllama(ollamaURL, model, dims), nil, nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, nil, fmt.Errorf("openai provider needs OPENAI_API_KEY")
		}
		return embed.NewOpenAI(embed.OpenAIConfig{APIKey: key, Dimensions: dims}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown embed provider %q", provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Package ingest provides the ingestion pipeline that processes fetched laws
// through validation, parsing, chunking, embedding, and storage stages.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/engine/egov"
	"github.com/AobaIwaki123/lawvec/engine/graph"
	"github.com/AobaIwaki123/lawvec/engine/warehouse"
	"github.com/AobaIwaki123/lawvec/pkg/embed"
	"github.com/AobaIwaki123/lawvec/pkg/fn"
	"github.com/AobaIwaki123/lawvec/pkg/resilience"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for incoming law documents.
	IngestSubject = "laws.ingest"
	// DLQSubject is the dead letter queue subject for failed messages.
	DLQSubject = "laws.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
	// EmbedBatchSize is the max chunks per embedding request.
	EmbedBatchSize = 100
	// Embedding service throttle: tokens per second and bucket size.
	// One law costs one token, whatever its chunk count.
	embedRatePerSec = 5
	embedBurst      = 10
)

// ErrNoFragments means the cleaning pass left no embeddable sentences.
var ErrNoFragments = errors.New("no sentence fragments extracted")

// Warehouse stores embedded law chunks.
type Warehouse interface {
	Upsert(ctx context.Context, records []warehouse.Record) error
}

// GraphStore maintains the law citation graph.
type GraphStore interface {
	SaveLaw(ctx context.Context, law graph.Law) error
	LinkCitations(ctx context.Context, from graph.Law, citations []graph.Citation) error
}

// NameIndex resolves law names for citation extraction. *egov.Client
// satisfies it once the index has been fetched.
type NameIndex interface {
	Names() []string
	LawNumber(name string) (string, bool)
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder     embed.Provider
	Warehouse    Warehouse
	Graph        GraphStore // optional; nil skips citation tracking
	Index        NameIndex  // optional; nil skips citation extraction
	DeduplicateF func(ctx context.Context, lawNo string) (bool, error) // returns true if already ingested
	Logger       *slog.Logger
}

// --- Pipeline Stages ---

// Validate checks a LawDocument via domain validation.
var Validate fn.Stage[domain.LawDocument, domain.LawDocument] = func(_ context.Context, doc domain.LawDocument) fn.Result[domain.LawDocument] {
	if err := domain.ValidateLawDocument(doc); err != nil {
		return fn.Err[domain.LawDocument](err)
	}
	return fn.Ok(doc)
}

// Parse extracts the clean sentence fragments from a law's XML body.
var Parse fn.Stage[domain.LawDocument, ParsedLaw] = func(_ context.Context, doc domain.LawDocument) fn.Result[ParsedLaw] {
	frags, err := egov.ExtractFragments(doc.Body)
	if err != nil {
		return fn.Err[ParsedLaw](fmt.Errorf("parse law xml: %w", err))
	}
	if len(frags) == 0 {
		return fn.Err[ParsedLaw](ErrNoFragments)
	}
	return fn.Ok(ParsedLaw{
		LawNo:     egov.NormalizeLawNo(doc.Number),
		Name:      doc.Name,
		Category:  doc.Category,
		Fragments: frags,
	})
}

// ChunkLaw splits a ParsedLaw into a ChunkedLaw.
var ChunkLaw fn.Stage[ParsedLaw, ChunkedLaw] = func(_ context.Context, law ParsedLaw) fn.Result[ChunkedLaw] {
	chunks := chunkFragments(law.LawNo, law.Fragments, DefaultChunkSize, DefaultOverlap)
	return fn.Ok(ChunkedLaw{ParsedLaw: law, Chunks: chunks})
}

// NewEmbed creates an Embed stage that calls the embedding provider in
// batches of EmbedBatchSize chunks.
func NewEmbed(provider embed.Provider) fn.Stage[ChunkedLaw, EmbeddedLaw] {
	return func(ctx context.Context, law ChunkedLaw) fn.Result[EmbeddedLaw] {
		embeddings := make([][]float32, 0, len(law.Chunks))

		for i := 0; i < len(law.Chunks); i += EmbedBatchSize {
			end := i + EmbedBatchSize
			if end > len(law.Chunks) {
				end = len(law.Chunks)
			}

			texts := make([]string, end-i)
			for j, c := range law.Chunks[i:end] {
				texts[j] = c.Text
			}

			vecs, err := provider.EmbedBatch(ctx, texts)
			if err != nil {
				return fn.Err[EmbeddedLaw](fmt.Errorf("embed batch: %w", err))
			}
			if len(vecs) != len(texts) {
				return fn.Err[EmbeddedLaw](fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(texts)))
			}
			embeddings = append(embeddings, vecs...)
		}

		return fn.Ok(EmbeddedLaw{ChunkedLaw: law, Embeddings: embeddings})
	}
}

// NewStore creates a Store stage that upserts chunk embeddings into the
// warehouse and registers the law in the citation graph.
func NewStore(wh Warehouse, gs GraphStore, index NameIndex) fn.Stage[EmbeddedLaw, string] {
	return func(ctx context.Context, law EmbeddedLaw) fn.Result[string] {
		now := time.Now()
		records := make([]warehouse.Record, len(law.Chunks))
		for i, chunk := range law.Chunks {
			records[i] = warehouse.Record{
				LawNo:      law.LawNo,
				LawName:    law.Name,
				ChunkIndex: chunk.Index,
				Content:    chunk.Text,
				Embedding:  law.Embeddings[i],
				EmbeddedAt: now,
			}
		}
		if err := wh.Upsert(ctx, records); err != nil {
			return fn.Err[string](fmt.Errorf("warehouse upsert: %w", err))
		}

		// Citation graph bookkeeping; log but don't fail the pipeline.
		if gs != nil {
			node := graph.Law{LawNo: law.LawNo, Name: law.Name, Category: int(law.Category)}
			if err := gs.SaveLaw(ctx, node); err != nil {
				slog.Warn("ingest: graph save", "error", err, "law_no", law.LawNo)
			} else if index != nil {
				citations := resolveCitations(law.ParsedLaw, index)
				if err := gs.LinkCitations(ctx, node, citations); err != nil {
					slog.Warn("ingest: link citations", "error", err, "law_no", law.LawNo)
				}
			}
		}

		return fn.Ok(law.LawNo)
	}
}

// resolveCitations finds other laws named in the cleaned text and resolves
// them to law numbers through the index. Names the index cannot resolve are
// dropped.
func resolveCitations(law ParsedLaw, index NameIndex) []graph.Citation {
	found := graph.ExtractCitations(strings.Join(law.Fragments, "\n"), law.Name, index.Names())
	citations := make([]graph.Citation, 0, len(found))
	for _, name := range found {
		no, ok := index.LawNumber(name)
		if !ok {
			continue
		}
		citations = append(citations, graph.Citation{
			FromNo: law.LawNo,
			ToNo:   egov.NormalizeLawNo(no),
			ToName: name,
		})
	}
	return citations
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[domain.LawDocument, string] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	// The embed stage runs behind a token bucket and a circuit breaker,
	// breaker outermost: an open breaker rejects before a token is spent.
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: embedRatePerSec, Burst: embedBurst})
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	embedStage := resilience.BreakerStage(breaker,
		resilience.LimiterStageWait(limiter, NewEmbed(deps.Embedder)))

	// Compose: Validate → Parse → Chunk → Embed → Store
	// with logging taps between stages.
	validated := fn.Then(LoggedTap[domain.LawDocument]("validate", log), Validate)
	parsed := fn.Then(validated, fn.Then(LoggedTap[domain.LawDocument]("parse", log), Parse))
	chunked := fn.Then(parsed, fn.Then(LoggedTap[ParsedLaw]("chunk", log), ChunkLaw))
	embedded := fn.Then(chunked, fn.Then(LoggedTap[ChunkedLaw]("embed", log), embedStage))
	stored := fn.Then(embedded, fn.Then(LoggedTap[EmbeddedLaw]("store", log), NewStore(deps.Warehouse, deps.Graph, deps.Index)))

	return stored
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Law     domain.LawDocument `json:"law"`
	Error   string             `json:"error"`
	Retries int                `json:"retries"`
}

// StartConsumer subscribes to IngestSubject and runs incoming law documents
// through the ingestion pipeline with retry and DLQ support.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var doc domain.LawDocument
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		// Deduplication check.
		if deps.DeduplicateF != nil {
			lawNo := egov.NormalizeLawNo(doc.Number)
			exists, err := deps.DeduplicateF(ctx, lawNo)
			if err != nil {
				log.Warn("ingest: dedup check failed", "error", err)
			} else if exists {
				log.Info("ingest: skipping duplicate", "law_no", lawNo)
				if msg.Reply != "" {
					_ = msg.Ack()
				}
				return
			}
		}

		// Get retry count from header.
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(ctx, doc)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"law_no", doc.Number,
				"retry", retries,
			)

			if retries >= MaxRetries {
				// Send to DLQ.
				dlq := dlqMessage{
					Law:     doc,
					Error:   pipeErr.Error(),
					Retries: retries,
				}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				// Re-publish with incremented retry count.
				retryMsg := nats.NewMsg(IngestSubject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			lawNo, _ := result.Unwrap()
			log.Info("ingest: success", "law_no", lawNo)
		}

		// Ack if JetStream.
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}

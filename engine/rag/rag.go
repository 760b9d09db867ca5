// Package rag orchestrates the retrieval-augmented answering pipeline.
// It accepts a user question, embeds it, retrieves the most similar law
// chunks from the warehouse, optionally pulls related laws from the
// citation graph, builds the laws-context prompt, and asks a Gemini model
// for the final answer.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/engine/graph"
	"github.com/AobaIwaki123/lawvec/engine/warehouse"
	"github.com/AobaIwaki123/lawvec/pkg/embed"
	"github.com/AobaIwaki123/lawvec/pkg/vertex"
)

// Gemini models the answering pipeline is deployed with.
const (
	DefaultModel = "gemini-1.5-flash-001"
	ProModel     = "gemini-1.5-pro-001"
)

// Service is the question answering service.
type Service struct {
	embed  embed.Provider
	chat   ChatModel
	search Searcher
	graph  Enricher
	opts   Options
	logger *slog.Logger
}

// Searcher abstracts warehouse similarity search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]warehouse.Hit, error)
}

// Enricher pulls laws connected to the retrieved ones in the citation graph.
type Enricher interface {
	Related(ctx context.Context, lawNos []string) ([]graph.Law, error)
}

// ChatModel produces the final answer text. *vertex.Generator satisfies it.
type ChatModel interface {
	Model() string
	Generate(ctx context.Context, system string, msgs []vertex.Message) (*vertex.Reply, error)
	Stream(ctx context.Context, system string, msgs []vertex.Message, fn func(chunk string) error) (*vertex.Reply, error)
}

// Options configures the answering pipeline behaviour.
type Options struct {
	TopK          int
	MinSimilarity float64
	UseGraph      bool
	SearchTimeout time.Duration
}

// DefaultOptions returns the retrieval constants the pipeline was tuned
// with: the three most similar chunks above 0.8 cosine similarity.
func DefaultOptions() Options {
	return Options{
		TopK:          3,
		MinSimilarity: 0.8,
		UseGraph:      true,
		SearchTimeout: 5 * time.Second,
	}
}

// New creates the answering service.
func New(provider embed.Provider, chat ChatModel, search Searcher, enricher Enricher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embed:  provider,
		chat:   chat,
		search: search,
		graph:  enricher,
		opts:   opts,
		logger: logger,
	}
}

// Answer is the structured response from the answering pipeline.
type Answer struct {
	Text       string          `json:"text"`
	Laws       []warehouse.Hit `json:"laws"`
	Related    []graph.Law     `json:"related,omitempty"`
	Model      string          `json:"model"`
	TokensUsed int             `json:"tokens_used"`
}

// contextHeader opens the system prompt handed to the model together with
// the retrieved laws.
const contextHeader = "以下は関連法令の詳細情報です\n取得した法令情報をもとにユーザーの質問に回答をしてください:\n"

// Query runs the full pipeline for a user question.
func (s *Service) Query(ctx context.Context, question string) (*Answer, error) {
	return s.run(ctx, question, nil, nil)
}

// QueryStream runs the full pipeline, invoking onSources once the retrieved
// chunks are known and onToken for each text chunk as the model produces
// it. Either callback may be nil. The returned Answer carries the complete
// text.
func (s *Service) QueryStream(ctx context.Context, question string, onSources func(hits []warehouse.Hit) error, onToken func(chunk string) error) (*Answer, error) {
	return s.run(ctx, question, onSources, onToken)
}

func (s *Service) run(ctx context.Context, question string, onSources func([]warehouse.Hit) error, onToken func(string) error) (*Answer, error) {
	if err := domain.ValidateQuery(domain.Query{Text: question}); err != nil {
		return nil, err
	}

	s.logger.Info("rag query start", "question_len", len(question))

	// 1. Embed the question.
	vec, err := s.embed.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	// 2. Similarity search against the warehouse.
	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	hits, err := s.search.Search(searchCtx, vec, s.opts.TopK, s.opts.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("rag: similarity search: %w", err)
	}
	s.logger.Info("rag search done", "hits", len(hits))

	if onSources != nil {
		if err := onSources(hits); err != nil {
			return nil, fmt.Errorf("rag: sources callback: %w", err)
		}
	}

	// 3. Optionally pull related laws from the citation graph.
	var related []graph.Law
	if s.opts.UseGraph && s.graph != nil && len(hits) > 0 {
		related = s.enrichWithGraph(ctx, hits)
	}

	// 4. Build the laws-context system prompt.
	system := buildContext(hits, related)

	// 5. Generate the answer.
	msgs := []vertex.Message{{Role: "user", Text: question}}
	var reply *vertex.Reply
	if onToken != nil {
		reply, err = s.chat.Stream(ctx, system, msgs, onToken)
	} else {
		reply, err = s.chat.Generate(ctx, system, msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("rag: generate: %w", err)
	}

	// 6. Build the structured response.
	answer := &Answer{
		Text:    reply.Text,
		Laws:    hits,
		Related: related,
		Model:   s.chat.Model(),
	}
	if reply.Usage != nil {
		answer.TokensUsed = reply.Usage.TotalTokenCount
	}
	return answer, nil
}

// enrichWithGraph finds laws linked to the retrieved ones; failures are
// logged and skipped.
func (s *Service) enrichWithGraph(ctx context.Context, hits []warehouse.Hit) []graph.Law {
	nos := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if !seen[h.LawNo] {
			seen[h.LawNo] = true
			nos = append(nos, h.LawNo)
		}
	}

	related, err := s.graph.Related(ctx, nos)
	if err != nil {
		s.logger.Warn("rag: graph enrichment failed, continuing without", "err", err)
		return nil
	}
	return related
}

// buildContext formats retrieved chunks, and any related laws from the
// graph, into the system prompt.
func buildContext(hits []warehouse.Hit, related []graph.Law) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, h := range hits {
		fmt.Fprintf(&b, "【%s】\n%s\n\n", h.LawName, h.Content)
	}
	if len(related) > 0 {
		b.WriteString("関連法令:\n")
		for _, l := range related {
			fmt.Fprintf(&b, "- %s（%s）\n", l.Name, l.LawNo)
		}
	}
	return b.String()
}

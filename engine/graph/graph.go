package graph

import (
	"context"

	"github.com/AobaIwaki123/lawvec/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CypherResult is the minimal slice of a Neo4j result the store reads.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherRunner executes a single Cypher statement.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is the minimal slice of a Neo4j session the store uses.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens Cypher sessions. The default implementation wraps a
// Neo4j driver; tests substitute fakes.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// Store owns all citation-graph operations.
type Store struct {
	opener SessionOpener
	laws   *repo.Neo4jRepo[Law, string]
}

// New creates a Store backed by a Neo4j driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{
		opener: neo4jOpener{driver: driver},
		laws:   newLawRepo(driver),
	}
}

// NewWithOpener creates a Store with a custom session opener.
func NewWithOpener(opener SessionOpener) *Store {
	return &Store{opener: opener}
}

func newLawRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Law, string] {
	return repo.NewNeo4jRepo[Law, string](
		driver,
		"Law",
		lawToMap,
		lawFromRecord,
		repo.WithIDKey[Law, string]("law_no"),
	)
}

func lawFromRecord(rec *neo4j.Record) (Law, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Law{}, err
	}
	return lawFromProps(node.Props), nil
}

// GetLaw returns one law node by number.
func (g *Store) GetLaw(ctx context.Context, lawNo string) (Law, error) {
	return g.laws.Get(ctx, lawNo)
}

// ListLaws pages through stored law nodes.
func (g *Store) ListLaws(ctx context.Context, opts repo.ListOpts) ([]Law, error) {
	return g.laws.List(ctx, opts)
}

// SaveLaw creates or updates a law node.
func (g *Store) SaveLaw(ctx context.Context, l Law) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Law {law_no: $law_no}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"law_no": l.LawNo,
		"props":  lawToMap(l),
	})
	return err
}

// LinkCitations replaces the outgoing CITES edges of one law in a single
// transaction. Cited laws not yet stored get a stub node carrying their
// name, filled in when their own ingest arrives.
func (g *Store) LinkCitations(ctx context.Context, from Law, citations []Citation) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		cypher := `MERGE (n:Law {law_no: $law_no}) SET n += $props`
		if _, err := tx.Run(ctx, cypher, map[string]any{
			"law_no": from.LawNo,
			"props":  lawToMap(from),
		}); err != nil {
			return nil, err
		}

		// Old edges are stale once the law text was re-ingested.
		cypher = `MATCH (a:Law {law_no: $law_no})-[r:CITES]->() DELETE r`
		if _, err := tx.Run(ctx, cypher, map[string]any{"law_no": from.LawNo}); err != nil {
			return nil, err
		}

		for _, c := range citations {
			cypher = `MATCH (a:Law {law_no: $from})
			          MERGE (b:Law {law_no: $to})
			          SET b.name = coalesce(b.name, $to_name)
			          MERGE (a)-[:CITES]->(b)`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"from":    c.FromNo,
				"to":      c.ToNo,
				"to_name": c.ToName,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// Cites returns the laws that lawNo refers to.
func (g *Store) Cites(ctx context.Context, lawNo string) ([]Law, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (:Law {law_no: $law_no})-[:CITES]->(n:Law) RETURN n ORDER BY n.law_no`
	result, err := sess.Run(ctx, cypher, map[string]any{"law_no": lawNo})
	if err != nil {
		return nil, err
	}
	return collectLaws(ctx, result)
}

// CitedBy returns the laws that refer to lawNo.
func (g *Store) CitedBy(ctx context.Context, lawNo string) ([]Law, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Law)-[:CITES]->(:Law {law_no: $law_no}) RETURN n ORDER BY n.law_no`
	result, err := sess.Run(ctx, cypher, map[string]any{"law_no": lawNo})
	if err != nil {
		return nil, err
	}
	return collectLaws(ctx, result)
}

// Related returns laws linked to any of the given numbers in either
// direction, excluding the input laws themselves. Used by the answer
// pipeline to widen retrieved context.
func (g *Store) Related(ctx context.Context, lawNos []string) ([]Law, error) {
	if len(lawNos) == 0 {
		return nil, nil
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:Law)-[:CITES]-(n:Law)
	           WHERE a.law_no IN $nos AND NOT n.law_no IN $nos
	           RETURN DISTINCT n ORDER BY n.law_no`
	result, err := sess.Run(ctx, cypher, map[string]any{"nos": lawNos})
	if err != nil {
		return nil, err
	}
	return collectLaws(ctx, result)
}

// GraphStats returns node and edge counts.
func (g *Store) GraphStats(ctx context.Context) (Stats, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	var stats Stats
	cypher := `MATCH (n:Law) RETURN count(n) AS laws`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return stats, err
	}
	if result.Next(ctx) {
		if v, ok := result.Record().Get("laws"); ok {
			if n, ok := v.(int64); ok {
				stats.Laws = n
			}
		}
	}

	cypher = `MATCH (:Law)-[r:CITES]->(:Law) RETURN count(r) AS citations`
	result, err = sess.Run(ctx, cypher, nil)
	if err != nil {
		return stats, err
	}
	if result.Next(ctx) {
		if v, ok := result.Record().Get("citations"); ok {
			if n, ok := v.(int64); ok {
				stats.Citations = n
			}
		}
	}
	return stats, nil
}

// collectLaws reads all Law nodes from a result set.
func collectLaws(ctx context.Context, result CypherResult) ([]Law, error) {
	var items []Law
	for result.Next(ctx) {
		nVal, ok := result.Record().Get("n")
		if !ok {
			continue
		}
		node, ok := nVal.(dbtype.Node)
		if !ok {
			continue
		}
		items = append(items, lawFromProps(node.Props))
	}
	return items, nil
}

// --- Neo4j adapters ---

type neo4jOpener struct {
	driver neo4j.DriverWithContext
}

func (o neo4jOpener) OpenSession(ctx context.Context) CypherSession {
	return &neo4jSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type neo4jSession struct {
	sess neo4j.SessionWithContext
}

func (s *neo4jSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *neo4jSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx: tx})
	})
}

func (s *neo4jSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return r.tx.Run(ctx, cypher, params)
}

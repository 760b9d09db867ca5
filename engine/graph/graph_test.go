package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// mockResult steps through canned records.
type mockResult struct {
	records []*neo4j.Record
	pos     int
}

func newMockResult(records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records}
}

func (m *mockResult) Next(context.Context) bool {
	if m.pos >= len(m.records) {
		return false
	}
	m.pos++
	return true
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.pos-1] }

// trackingTx records every cypher statement executed.
type trackingTx struct {
	queries []string
	params  []map[string]any
	results []*mockResult
	err     error
}

func (t *trackingTx) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	if t.err != nil {
		return nil, t.err
	}
	t.queries = append(t.queries, cypher)
	t.params = append(t.params, params)
	if len(t.results) > 0 {
		r := t.results[0]
		t.results = t.results[1:]
		return r, nil
	}
	return newMockResult(), nil
}

type trackingSession struct {
	tx *trackingTx
}

func (s *trackingSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.tx.Run(ctx, cypher, params)
}

func (s *trackingSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return work(s.tx)
}

func (s *trackingSession) Close(context.Context) error { return nil }

type trackingOpener struct {
	session *trackingSession
}

func (o *trackingOpener) OpenSession(context.Context) CypherSession { return o.session }

func newTrackingStore() (*Store, *trackingTx) {
	tx := &trackingTx{}
	return NewWithOpener(&trackingOpener{session: &trackingSession{tx: tx}}), tx
}

func lawRecord(props map[string]any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{dbtype.Node{Props: props}}}
}

func TestLawFromProps(t *testing.T) {
	l := lawFromProps(map[string]any{
		"law_no":   "昭和22年法律第49号",
		"name":     "労働基準法",
		"category": int64(2),
	})
	if l.LawNo != "昭和22年法律第49号" || l.Name != "労働基準法" || l.Category != 2 {
		t.Fatalf("unexpected law %+v", l)
	}
}

func TestLawToMap(t *testing.T) {
	m := lawToMap(Law{LawNo: "平成15年法律第57号", Name: "個人情報の保護に関する法律", Category: 2})
	if m["law_no"] != "平成15年法律第57号" || m["name"] != "個人情報の保護に関する法律" || m["category"] != 2 {
		t.Fatalf("unexpected map %v", m)
	}
}

func TestNewStore(t *testing.T) {
	gs := New(nil)
	if gs == nil {
		t.Fatal("expected non-nil Store")
	}
	if gs.laws == nil {
		t.Fatal("expected non-nil laws repo")
	}
}

func TestSaveLaw(t *testing.T) {
	gs, tx := newTrackingStore()
	err := gs.SaveLaw(context.Background(), Law{LawNo: "昭和22年法律第49号", Name: "労働基準法", Category: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.queries) != 1 || !strings.Contains(tx.queries[0], "MERGE (n:Law {law_no: $law_no})") {
		t.Fatalf("unexpected queries %v", tx.queries)
	}
	if tx.params[0]["law_no"] != "昭和22年法律第49号" {
		t.Fatalf("unexpected params %v", tx.params[0])
	}
}

func TestLinkCitations(t *testing.T) {
	gs, tx := newTrackingStore()
	from := Law{LawNo: "昭和22年法律第49号", Name: "労働基準法", Category: 2}
	citations := []Citation{
		{FromNo: from.LawNo, ToNo: "昭和47年法律第57号", ToName: "労働安全衛生法"},
		{FromNo: from.LawNo, ToNo: "明治29年法律第89号", ToName: "民法"},
	}

	if err := gs.LinkCitations(context.Background(), from, citations); err != nil {
		t.Fatal(err)
	}

	// Merge the source node, delete stale edges, then one merge per edge.
	if len(tx.queries) != 4 {
		t.Fatalf("expected 4 queries, got %d: %v", len(tx.queries), tx.queries)
	}
	if !strings.Contains(tx.queries[1], "DELETE r") {
		t.Fatalf("stale edges not cleared: %s", tx.queries[1])
	}
	if !strings.Contains(tx.queries[2], "MERGE (a)-[:CITES]->(b)") {
		t.Fatalf("edge merge missing: %s", tx.queries[2])
	}
	if tx.params[2]["to"] != "昭和47年法律第57号" || tx.params[2]["to_name"] != "労働安全衛生法" {
		t.Fatalf("unexpected edge params %v", tx.params[2])
	}
}

func TestLinkCitationsNone(t *testing.T) {
	gs, tx := newTrackingStore()
	from := Law{LawNo: "昭和22年法律第49号", Name: "労働基準法"}
	if err := gs.LinkCitations(context.Background(), from, nil); err != nil {
		t.Fatal(err)
	}
	// Node merge and stale-edge delete still run.
	if len(tx.queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(tx.queries))
	}
}

func TestLinkCitationsError(t *testing.T) {
	gs, tx := newTrackingStore()
	tx.err = errors.New("neo4j down")
	err := gs.LinkCitations(context.Background(), Law{LawNo: "x"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCites(t *testing.T) {
	gs, tx := newTrackingStore()
	tx.results = []*mockResult{newMockResult(
		lawRecord(map[string]any{"law_no": "昭和47年法律第57号", "name": "労働安全衛生法", "category": int64(2)}),
		lawRecord(map[string]any{"law_no": "明治29年法律第89号", "name": "民法"}),
	)}

	laws, err := gs.Cites(context.Background(), "昭和22年法律第49号")
	if err != nil {
		t.Fatal(err)
	}
	if len(laws) != 2 {
		t.Fatalf("expected 2 laws, got %d", len(laws))
	}
	if laws[0].Name != "労働安全衛生法" || laws[0].Category != 2 {
		t.Fatalf("unexpected first law %+v", laws[0])
	}
	if !strings.Contains(tx.queries[0], "-[:CITES]->(n:Law)") {
		t.Fatalf("unexpected cypher %s", tx.queries[0])
	}
}

func TestCitedByError(t *testing.T) {
	gs, tx := newTrackingStore()
	tx.err = errors.New("neo4j down")
	if _, err := gs.CitedBy(context.Background(), "昭和22年法律第49号"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRelated(t *testing.T) {
	gs, tx := newTrackingStore()
	tx.results = []*mockResult{newMockResult(
		lawRecord(map[string]any{"law_no": "昭和47年法律第57号", "name": "労働安全衛生法"}),
	)}

	laws, err := gs.Related(context.Background(), []string{"昭和22年法律第49号"})
	if err != nil {
		t.Fatal(err)
	}
	if len(laws) != 1 || laws[0].LawNo != "昭和47年法律第57号" {
		t.Fatalf("unexpected laws %+v", laws)
	}
	nos, ok := tx.params[0]["nos"].([]string)
	if !ok || len(nos) != 1 {
		t.Fatalf("unexpected params %v", tx.params[0])
	}
}

func TestRelatedEmptyInput(t *testing.T) {
	gs, tx := newTrackingStore()
	laws, err := gs.Related(context.Background(), nil)
	if err != nil || laws != nil {
		t.Fatalf("expected nil, nil; got %v, %v", laws, err)
	}
	if len(tx.queries) != 0 {
		t.Fatal("no query should run for empty input")
	}
}

func TestGraphStats(t *testing.T) {
	gs, tx := newTrackingStore()
	tx.results = []*mockResult{
		newMockResult(&neo4j.Record{Keys: []string{"laws"}, Values: []any{int64(120)}}),
		newMockResult(&neo4j.Record{Keys: []string{"citations"}, Values: []any{int64(340)}}),
	}

	stats, err := gs.GraphStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Laws != 120 || stats.Citations != 340 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCollectLawsSkipsNonNodes(t *testing.T) {
	res := newMockResult(
		&neo4j.Record{Keys: []string{"n"}, Values: []any{"not a node"}},
		lawRecord(map[string]any{"law_no": "明治29年法律第89号", "name": "民法"}),
	)
	laws, err := collectLaws(context.Background(), res)
	if err != nil {
		t.Fatal(err)
	}
	if len(laws) != 1 || laws[0].Name != "民法" {
		t.Fatalf("unexpected laws %+v", laws)
	}
}

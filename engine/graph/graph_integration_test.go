//go:build integration

package graph

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Skipf("neo4j not reachable: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n:Law) DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func TestCitationRoundTrip(t *testing.T) {
	driver := testDriver(t)
	gs := New(driver)
	ctx := context.Background()

	roudou := Law{LawNo: "昭和22年法律第49号", Name: "労働基準法", Category: 2}
	anzen := Law{LawNo: "昭和47年法律第57号", Name: "労働安全衛生法", Category: 2}
	minpou := Law{LawNo: "明治29年法律第89号", Name: "民法", Category: 2}

	for _, l := range []Law{roudou, anzen, minpou} {
		if err := gs.SaveLaw(ctx, l); err != nil {
			t.Fatalf("SaveLaw %s: %v", l.Name, err)
		}
	}

	citations := []Citation{
		{FromNo: roudou.LawNo, ToNo: anzen.LawNo, ToName: anzen.Name},
		{FromNo: roudou.LawNo, ToNo: minpou.LawNo, ToName: minpou.Name},
	}
	if err := gs.LinkCitations(ctx, roudou, citations); err != nil {
		t.Fatalf("LinkCitations: %v", err)
	}

	cites, err := gs.Cites(ctx, roudou.LawNo)
	if err != nil {
		t.Fatalf("Cites: %v", err)
	}
	if len(cites) != 2 {
		t.Fatalf("expected 2 cited laws, got %d", len(cites))
	}

	citedBy, err := gs.CitedBy(ctx, minpou.LawNo)
	if err != nil {
		t.Fatalf("CitedBy: %v", err)
	}
	if len(citedBy) != 1 || citedBy[0].LawNo != roudou.LawNo {
		t.Fatalf("unexpected citedBy %+v", citedBy)
	}

	// Relinking replaces the old edge set.
	if err := gs.LinkCitations(ctx, roudou, citations[:1]); err != nil {
		t.Fatalf("LinkCitations relink: %v", err)
	}
	cites, err = gs.Cites(ctx, roudou.LawNo)
	if err != nil {
		t.Fatalf("Cites after relink: %v", err)
	}
	if len(cites) != 1 || cites[0].LawNo != anzen.LawNo {
		t.Fatalf("stale edges survived relink: %+v", cites)
	}

	stats, err := gs.GraphStats(ctx)
	if err != nil {
		t.Fatalf("GraphStats: %v", err)
	}
	if stats.Laws < 3 || stats.Citations != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	got, err := gs.GetLaw(ctx, roudou.LawNo)
	if err != nil {
		t.Fatalf("GetLaw: %v", err)
	}
	if got.Name != roudou.Name {
		t.Fatalf("GetLaw name = %q", got.Name)
	}
}

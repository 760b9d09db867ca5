package vertex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), "test-project",
		WithEndpoint(srv.URL),
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})),
	)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty project id")
	}
}

func TestEmbedderBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/v1/projects/test-project/locations/us-central1/publishers/google/models/text-embedding-004:predict"
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Instances) != 2 || req.Instances[0].Content != "民法" {
			t.Errorf("unexpected instances %+v", req.Instances)
		}
		json.NewEncoder(w).Encode(predictResponse{Predictions: []predictEmbedding{
			{Embeddings: predictEmbeddingValues{Values: []float32{0.1, 0.2}}},
			{Embeddings: predictEmbeddingValues{Values: []float32{0.3, 0.4}}},
		}})
	}))
	defer srv.Close()

	e := NewEmbedder(testClient(t, srv), "", 2)
	vecs, err := e.EmbedBatch(context.Background(), []string{"民法", "刑法"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[1][0] != 0.3 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
	if e.Dimensions() != 2 {
		t.Fatalf("dims = %d", e.Dimensions())
	}
}

func TestEmbedderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(predictResponse{Predictions: []predictEmbedding{
			{Embeddings: predictEmbeddingValues{Values: []float32{0.1}}},
		}})
	}))
	defer srv.Close()

	e := NewEmbedder(testClient(t, srv), "", 0)
	_, err := e.EmbedBatch(context.Background(), []string{"民法", "刑法"})
	if err == nil || !strings.Contains(err.Error(), "predictions") {
		t.Fatalf("expected prediction count error, got %v", err)
	}
}

func TestEmbedderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "permission denied"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	e := NewEmbedder(testClient(t, srv), "", 0)
	_, err := e.Embed(context.Background(), "民法")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestEmbedderEmptyInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	e := NewEmbedder(testClient(t, srv), "", 0)
	if _, err := e.EmbedBatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestNewGeneratorRejectsNonGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := NewGenerator(testClient(t, srv), "text-bison-001")
	if err == nil {
		t.Fatal("expected rejection of non-gemini model")
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "gemini-1.5-flash-001:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.SystemInstruction == nil || !strings.Contains(req.SystemInstruction.Parts[0].Text, "関連法令") {
			t.Error("missing system instruction")
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("unexpected contents %+v", req.Contents)
		}
		if req.GenerationConfig == nil || req.GenerationConfig.Temperature != 0.7 {
			t.Errorf("unexpected generation config %+v", req.GenerationConfig)
		}
		if len(req.SafetySettings) != 4 {
			t.Errorf("expected 4 safety settings, got %d", len(req.SafetySettings))
		}
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "解雇には30日前の予告が必要です。"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 100, "candidatesTokenCount": 20, "totalTokenCount": 120}
		}`))
	}))
	defer srv.Close()

	g, err := NewGenerator(testClient(t, srv), "gemini-1.5-flash-001",
		WithSafetySettings(PermissiveSafety()))
	if err != nil {
		t.Fatal(err)
	}

	reply, err := g.Generate(context.Background(),
		"以下は関連法令の詳細情報です",
		[]Message{{Role: "user", Text: "解雇の予告について教えて"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply.Text, "30日前") {
		t.Fatalf("unexpected text %q", reply.Text)
	}
	if reply.FinishReason != "STOP" {
		t.Fatalf("finish reason = %q", reply.FinishReason)
	}
	if reply.Usage == nil || reply.Usage.TotalTokenCount != 120 {
		t.Fatalf("unexpected usage %+v", reply.Usage)
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	g, _ := NewGenerator(testClient(t, srv), "gemini-1.5-flash-001")
	_, err := g.Generate(context.Background(), "", []Message{{Role: "user", Text: "質問"}})
	if err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Error("expected alt=sse")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"candidates": [{"content": {"parts": [{"text": "労働基準法"}]}}]}` + "\n\n"))
		w.Write([]byte(`data: {"candidates": [{"content": {"parts": [{"text": "第20条"}]}, "finishReason": "STOP"}], "usageMetadata": {"totalTokenCount": 42}}` + "\n\n"))
	}))
	defer srv.Close()

	g, err := NewGenerator(testClient(t, srv), "gemini-1.5-pro-001")
	if err != nil {
		t.Fatal(err)
	}

	var chunks []string
	reply, err := g.Stream(context.Background(), "", []Message{{Role: "user", Text: "解雇予告の条文は"}},
		func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[0] != "労働基準法" {
		t.Fatalf("unexpected chunks %v", chunks)
	}
	if reply.Text != "労働基準法第20条" {
		t.Fatalf("unexpected text %q", reply.Text)
	}
	if reply.FinishReason != "STOP" || reply.Usage == nil || reply.Usage.TotalTokenCount != 42 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestStreamCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`data: {"candidates": [{"content": {"parts": [{"text": "x"}]}}]}` + "\n\n"))
	}))
	defer srv.Close()

	g, _ := NewGenerator(testClient(t, srv), "gemini-1.5-flash-001")
	_, err := g.Stream(context.Background(), "", []Message{{Role: "user", Text: "q"}},
		func(string) error { return context.Canceled })
	if err == nil {
		t.Fatal("expected callback error to propagate")
	}
}

func TestPermissiveSafety(t *testing.T) {
	settings := PermissiveSafety()
	if len(settings) != 4 {
		t.Fatalf("expected 4 settings, got %d", len(settings))
	}
	for _, s := range settings {
		if s.Threshold != "BLOCK_NONE" {
			t.Errorf("category %s threshold = %q", s.Category, s.Threshold)
		}
	}
}

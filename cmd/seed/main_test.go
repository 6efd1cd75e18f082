package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vce-gateway/gateway/internal/knowledge"
)

func TestChunkTextSplitsOnParagraphBoundariesWithinLimit(t *testing.T) {
	text := "first paragraph\n\nsecond paragraph\n\nthird paragraph"
	chunks := chunkText(text, 20)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %v, want 3 paragraph-sized chunks", chunks)
	}
}

func TestChunkTextMergesShortParagraphsUnderLimit(t *testing.T) {
	text := "a\n\nb\n\nc"
	chunks := chunkText(text, 100)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %v, want a single merged chunk", chunks)
	}
	if chunks[0] != "a\n\nb\n\nc" {
		t.Fatalf("chunks[0] = %q", chunks[0])
	}
}

func TestChunkTextSkipsBlankParagraphs(t *testing.T) {
	text := "first\n\n\n\nsecond"
	chunks := chunkText(text, 100)
	if len(chunks) != 1 || chunks[0] != "first\n\nsecond" {
		t.Fatalf("chunks = %v, want blank paragraph collapsed", chunks)
	}
}

func TestChunkTextEmptyInputReturnsNoChunks(t *testing.T) {
	if chunks := chunkText("", 100); len(chunks) != 0 {
		t.Fatalf("chunks = %v, want none for empty input", chunks)
	}
}

func TestEnvOrReturnsFallbackWhenUnset(t *testing.T) {
	t.Setenv("SEED_TEST_VAR", "")
	if got := envOr("SEED_TEST_VAR", "fallback"); got != "fallback" {
		t.Fatalf("envOr = %q, want fallback", got)
	}
}

func TestSeedFileEmbedsEachChunkAndUpserts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello world\n\nsecond paragraph"), 0o644); err != nil {
		t.Fatalf("write sample file: %v", err)
	}

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1, 0.2}}})
	}))
	defer embedSrv.Close()

	upserted := 0
	qdrantSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/points") {
			upserted++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer qdrantSrv.Close()

	embedder := knowledge.NewEmbeddingClient(embedSrv.URL, "model", 1)
	qdrant := knowledge.NewQdrantClient(qdrantSrv.URL, 1)

	n, err := seedFile(context.Background(), path, 500, embedder, qdrant, "docs")
	if err != nil {
		t.Fatalf("seedFile error = %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1 merged chunk", n)
	}
	if upserted != 1 {
		t.Fatalf("upserted calls = %d, want 1", upserted)
	}
}

package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vce-gateway/gateway/internal/metrics"
)

// RAG retrieves relevant grounding context from a vector knowledge base for
// the chat and story handlers' system prompt.
type RAG struct {
	embedder       *EmbeddingClient
	qdrant         *QdrantClient
	collection     string
	topK           int
	scoreThreshold float64
}

// Config holds a RAG client's construction parameters.
type Config struct {
	Embedder       *EmbeddingClient
	Qdrant         *QdrantClient
	Collection     string
	TopK           int
	ScoreThreshold float64
}

// NewRAG creates a RAG retrieval client.
func NewRAG(cfg Config) *RAG {
	return &RAG{
		embedder:       cfg.Embedder,
		qdrant:         cfg.Qdrant,
		collection:     cfg.Collection,
		topK:           cfg.TopK,
		scoreThreshold: cfg.ScoreThreshold,
	}
}

// RetrieveContext embeds query, searches the collection, and returns
// formatted context. Returns "" (no error) when nothing clears the score
// threshold — callers splice it into a prompt, so empty is a valid answer.
func (r *RAG) RetrieveContext(ctx context.Context, query string) (string, error) {
	start := time.Now()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("rag embed query: %w", err)
	}

	results, err := r.qdrant.Search(ctx, r.collection, vector, r.topK, r.scoreThreshold)
	if err != nil {
		return "", fmt.Errorf("rag qdrant search: %w", err)
	}

	metrics.RAGDuration.Observe(time.Since(start).Seconds())

	if len(results) == 0 {
		return "", nil
	}
	return formatResults(results), nil
}

func formatResults(results []SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		text, ok := r.Payload["text"].(string)
		if !ok {
			text = fmt.Sprintf("%v", r.Payload["text"])
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n---\n")
}

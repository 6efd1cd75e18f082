package knowledge

import (
	"context"
	"log/slog"
	"time"
)

// CallHistory stores conversation turns as embeddings in Qdrant so later
// turns (and later calls from the same device) can retrieve them via RAG.
type CallHistory struct {
	embedder   *EmbeddingClient
	qdrant     *QdrantClient
	collection string
}

// NewCallHistory creates a call history storage client.
func NewCallHistory(embedder *EmbeddingClient, qdrant *QdrantClient, collection string) *CallHistory {
	return &CallHistory{embedder: embedder, qdrant: qdrant, collection: collection}
}

// StoreAsync embeds and stores a conversation turn in a background
// goroutine; errors are logged, not propagated, so history persistence
// never adds latency to a live turn.
func (ch *CallHistory) StoreAsync(ctx context.Context, uid, userText, agentText string) {
	go func() {
		combined := "User: " + userText + "\nAgent: " + agentText
		vector, err := ch.embedder.Embed(ctx, combined)
		if err != nil {
			slog.Error("call history embed", "error", err)
			return
		}

		point := Point{
			ID:     NewPointID(),
			Vector: vector,
			Payload: map[string]interface{}{
				"uid":       uid,
				"user":      userText,
				"agent":     agentText,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		}

		if err := ch.qdrant.Upsert(ctx, ch.collection, []Point{point}); err != nil {
			slog.Error("call history upsert", "error", err)
		}
	}()
}

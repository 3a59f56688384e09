package jina

import (
	"context"

	"github.com/rotisserie/eris"
)

// Embedder adapts the batch client to single-text embedding lookups, the
// shape the vector search strategy consumes.
type Embedder struct {
	client Client
}

// NewEmbedder wraps a Jina client as a single-text embedder.
func NewEmbedder(client Client) *Embedder {
	return &Embedder{client: client}
}

// Embed returns the embedding for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, eris.Errorf("jina: expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

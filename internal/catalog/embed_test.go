package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder(64)

	a, err := e.Embed(context.Background(), "4140 steel round bar")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "4140 steel round bar")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestLocalEmbedder_SimilarTextScoresHigher(t *testing.T) {
	e := NewLocalEmbedder(256)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "4140 steel round bar")
	near, _ := e.Embed(ctx, "alloy 4140 steel bar round")
	far, _ := e.Embed(ctx, "nitrile o-ring seal kit")

	assert.Greater(t, Cosine(query, near), Cosine(query, far))
}

func TestCosine_Bounds(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	c := []float32{-1, 0}

	assert.InDelta(t, 1.0, Cosine(a, b), 1e-9)
	assert.InDelta(t, -1.0, Cosine(a, c), 1e-9)
	assert.Zero(t, Cosine(a, []float32{0, 0}))
	assert.Zero(t, Cosine(a, []float32{1}))
	assert.Zero(t, Cosine(nil, nil))
}

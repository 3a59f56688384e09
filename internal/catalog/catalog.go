// Package catalog defines the inventory query port consumed by the search
// strategies, plus the SQLite-backed index adapter.
package catalog

import (
	"context"
	"errors"

	"github.com/sells-group/partmatch/internal/model"
)

var (
	// ErrUnavailable signals the catalog backend cannot be reached. The
	// strategy layer degrades it to an empty result.
	ErrUnavailable = errors.New("catalog: unavailable")

	// ErrInvalidQuery signals a query the backend cannot execute. It fails
	// only the strategy that issued it.
	ErrInvalidQuery = errors.New("catalog: invalid query")
)

// Item is one inventory record in the catalog index.
type Item struct {
	PartKey        string             `json:"part_key" yaml:"part_key"`
	Description    string             `json:"description" yaml:"description"`
	Material       string             `json:"material,omitempty" yaml:"material,omitempty"`
	Form           string             `json:"form,omitempty" yaml:"form,omitempty"`
	Category       string             `json:"category,omitempty" yaml:"category,omitempty"`
	Price          float64            `json:"price,omitempty" yaml:"price,omitempty"`
	Availability   int                `json:"availability" yaml:"availability"`
	Certifications []string           `json:"certifications,omitempty" yaml:"certifications,omitempty"`
	Dimensions     map[string]float64 `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Keywords       string             `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Embedding      []float32          `json:"-" yaml:"-"`
}

// Hit is one scored result from a catalog query.
type Hit struct {
	PartKey string
	Score   float64 // normalized to [0,1] by the adapter
	Item    Item
}

// AttributeQuery is a structured query over parsed line-item attributes.
// Widen scales all dimensional tolerance bands (1.0 = as requested); when
// DropSecondary is set, form and category act as scoring signals instead of
// filters.
type AttributeQuery struct {
	Material      string
	Form          string
	Category      string
	Dims          []model.Dimension
	Widen         float64
	DropSecondary bool
	TopK          int
}

// Port is the catalog query interface. Implementations must be safe for
// concurrent use; every method observes ctx cancellation.
type Port interface {
	ExactKey(ctx context.Context, key string) ([]Hit, error)
	Search(ctx context.Context, text string, topK int) ([]Hit, error)
	Attributes(ctx context.Context, q AttributeQuery) ([]Hit, error)
	Vector(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
}

// Embedder produces the semantic representation used by vector queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

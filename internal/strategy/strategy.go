// Package strategy defines the independent catalog search strategies and
// the registry that composes them into a search plan.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/catalog"
	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/resilience"
)

// Strategy names. These double as weight keys in MatchConfig.Weights.
const (
	NameExactKey  = "exact_key"
	NameLexical   = "lexical"
	NameAttribute = "attribute"
	NameVector    = "vector"
)

// Query is one strategy invocation for one line item, including any
// retry adjustments chosen by the planner.
type Query struct {
	Item model.LineItemRequest
	TopK int

	// Broaden widens dimensional tolerance bands by BroadenFactor and drops
	// secondary attribute filters.
	Broaden       bool
	BroadenFactor float64

	// AlternateTerms re-derives the lexical query from parsed attributes
	// instead of the raw text.
	AlternateTerms bool
}

// Strategy is one independent search method against the catalog. Execute
// never fails on catalog unavailability or invalid queries; those degrade
// to an empty result so sibling strategies keep their contributions.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, q Query) (*model.StrategyResult, error)
}

// Registry holds the composed strategies in registration order.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a strategy. Duplicate names replace the earlier entry.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.strategies {
		if existing.Name() == s.Name() {
			r.strategies[i] = s
			return
		}
	}
	r.strategies = append(r.strategies, s)
}

// All returns the registered strategies in registration order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Names returns the registered strategy names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// DefaultRegistry composes the four standard strategies over a catalog port.
func DefaultRegistry(port catalog.Port, embedder catalog.Embedder) *Registry {
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		ShouldTrip: shouldTrip,
	})
	r := NewRegistry()
	r.Register(&ExactKey{port: port, breaker: breakers.Get(NameExactKey)})
	r.Register(&Lexical{port: port, breaker: breakers.Get(NameLexical)})
	r.Register(&Attribute{port: port, breaker: breakers.Get(NameAttribute)})
	r.Register(&Vector{port: port, embedder: embedder, breaker: breakers.Get(NameVector)})
	return r
}

func shouldTrip(err error) bool {
	return errors.Is(err, catalog.ErrUnavailable) || resilience.IsTransient(err)
}

// queryPort runs one catalog call through breaker and retry, degrading
// unavailability and invalid queries to an empty hit list.
func queryPort(ctx context.Context, name string, breaker *resilience.Breaker, fn func(ctx context.Context) ([]catalog.Hit, error)) ([]catalog.Hit, error) {
	if err := breaker.Allow(); err != nil {
		zap.L().Warn("strategy: breaker open, skipping catalog query",
			zap.String("strategy", name),
		)
		return nil, nil
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.ShouldRetry = shouldTrip
	cfg.OnRetry = resilience.RetryLogger(name)

	hits, err := resilience.DoVal(ctx, cfg, fn)
	breaker.Record(err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(err, catalog.ErrInvalidQuery):
			zap.L().Debug("strategy: invalid query for this line item",
				zap.String("strategy", name),
				zap.Error(err),
			)
		default:
			zap.L().Warn("strategy: catalog query degraded to empty result",
				zap.String("strategy", name),
				zap.Error(err),
			)
		}
		return nil, nil
	}
	return hits, nil
}

// result shapes catalog hits into the uniform strategy result, clamping
// scores into [0,1] and carrying item details as raw fields.
func result(name, lineItemID string, hits []catalog.Hit) *model.StrategyResult {
	res := &model.StrategyResult{
		Strategy:   name,
		LineItemID: lineItemID,
		Candidates: make([]model.StrategyCandidate, 0, len(hits)),
	}
	for _, h := range hits {
		score := h.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		res.Candidates = append(res.Candidates, model.StrategyCandidate{
			PartKey:  h.PartKey,
			RawScore: score,
			Fields:   itemFields(h.Item),
		})
	}
	return res
}

// Raw field keys shared by executors and the aggregator.
const (
	FieldDescription    = "description"
	FieldMaterial       = "material"
	FieldPrice          = "price"
	FieldAvailability   = "availability"
	FieldCertifications = "certifications"
)

func itemFields(it catalog.Item) map[string]string {
	fields := map[string]string{
		FieldDescription:  it.Description,
		FieldMaterial:     it.Material,
		FieldAvailability: strconv.Itoa(it.Availability),
	}
	if it.Price > 0 {
		fields[FieldPrice] = strconv.FormatFloat(it.Price, 'f', 2, 64)
	}
	if len(it.Certifications) > 0 {
		fields[FieldCertifications] = strings.Join(it.Certifications, ";")
	}
	return fields
}

// attributeTerms renders parsed attributes as lexical search text, used by
// the alternate-terms retry mode.
func attributeTerms(p model.ParsedAttributes) string {
	var parts []string
	if p.Material != "" {
		parts = append(parts, p.Material)
	}
	if p.Form != "" {
		parts = append(parts, p.Form)
	}
	dims := make([]string, 0, len(p.Dimensions))
	for _, d := range p.Dimensions {
		dims = append(dims, fmt.Sprintf("%g%s %s", d.Value, d.Unit, d.Name))
	}
	sort.Strings(dims)
	parts = append(parts, dims...)
	parts = append(parts, p.Certifications...)
	return strings.Join(parts, " ")
}

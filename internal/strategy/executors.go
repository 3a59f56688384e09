package strategy

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/catalog"
	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/resilience"
)

// ExactKey looks up the catalog by normalized part identifier. Score is 1.0
// on a hit; at most one candidate.
type ExactKey struct {
	port    catalog.Port
	breaker *resilience.Breaker
}

func (s *ExactKey) Name() string { return NameExactKey }

func (s *ExactKey) Execute(ctx context.Context, q Query) (*model.StrategyResult, error) {
	key := partIdentifier(q.Item)
	if key == "" {
		return result(s.Name(), q.Item.ID, nil), nil
	}

	hits, err := queryPort(ctx, s.Name(), s.breaker, func(ctx context.Context) ([]catalog.Hit, error) {
		return s.port.ExactKey(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result(s.Name(), q.Item.ID, hits), nil
}

// partIdentifier extracts a part-number candidate: the parsed part number
// when present, otherwise the first raw-text token mixing letters and
// digits with at least four characters.
func partIdentifier(item model.LineItemRequest) string {
	if item.Parsed.PartNumber != "" {
		return item.Parsed.PartNumber
	}
	for _, tok := range strings.Fields(item.RawText) {
		tok = strings.Trim(tok, ",;()")
		if len(tok) < 4 {
			continue
		}
		hasLetter, hasDigit := false, false
		for _, r := range tok {
			switch {
			case unicode.IsLetter(r):
				hasLetter = true
			case unicode.IsDigit(r):
				hasDigit = true
			}
		}
		if hasLetter && hasDigit && strings.ContainsAny(tok, "-_/") {
			return tok
		}
	}
	return ""
}

// Lexical runs a full-text query over item descriptions and keywords. The
// alternate-terms mode rebuilds the query text from parsed attributes.
type Lexical struct {
	port    catalog.Port
	breaker *resilience.Breaker
}

func (s *Lexical) Name() string { return NameLexical }

func (s *Lexical) Execute(ctx context.Context, q Query) (*model.StrategyResult, error) {
	text := q.Item.RawText
	if q.AlternateTerms {
		if alt := attributeTerms(q.Item.Parsed); alt != "" {
			text = alt
		}
	}

	hits, err := queryPort(ctx, s.Name(), s.breaker, func(ctx context.Context) ([]catalog.Hit, error) {
		return s.port.Search(ctx, text, q.TopK)
	})
	if err != nil {
		return nil, err
	}
	return result(s.Name(), q.Item.ID, hits), nil
}

// Attribute runs a structured query over parsed material, form, and
// dimension fields with tolerance bands. Broaden mode widens the bands and
// drops secondary filters.
type Attribute struct {
	port    catalog.Port
	breaker *resilience.Breaker
}

func (s *Attribute) Name() string { return NameAttribute }

func (s *Attribute) Execute(ctx context.Context, q Query) (*model.StrategyResult, error) {
	p := q.Item.Parsed
	if p.Material == "" && p.Form == "" && len(p.Dimensions) == 0 {
		return result(s.Name(), q.Item.ID, nil), nil
	}

	aq := catalog.AttributeQuery{
		Material: p.Material,
		Form:     p.Form,
		Dims:     p.Dimensions,
		Widen:    1,
		TopK:     q.TopK,
	}
	if q.Broaden {
		aq.Widen = q.BroadenFactor
		if aq.Widen < 1 {
			aq.Widen = 2
		}
		aq.DropSecondary = true
	}

	hits, err := queryPort(ctx, s.Name(), s.breaker, func(ctx context.Context) ([]catalog.Hit, error) {
		return s.port.Attributes(ctx, aq)
	})
	if err != nil {
		return nil, err
	}
	return result(s.Name(), q.Item.ID, hits), nil
}

// Vector embeds the raw text and runs a nearest-neighbor query.
type Vector struct {
	port     catalog.Port
	embedder catalog.Embedder
	breaker  *resilience.Breaker
}

func (s *Vector) Name() string { return NameVector }

func (s *Vector) Execute(ctx context.Context, q Query) (*model.StrategyResult, error) {
	embedding, err := s.embedder.Embed(ctx, q.Item.RawText)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Embedding failure degrades this strategy only.
		zap.L().Warn("strategy: embedding failed, vector search skipped",
			zap.String("line_item", q.Item.ID),
			zap.Error(err),
		)
		return result(s.Name(), q.Item.ID, nil), nil
	}

	hits, err := queryPort(ctx, s.Name(), s.breaker, func(ctx context.Context) ([]catalog.Hit, error) {
		return s.port.Vector(ctx, embedding, q.TopK)
	})
	if err != nil {
		return nil, err
	}
	return result(s.Name(), q.Item.ID, hits), nil
}

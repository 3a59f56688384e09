package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/catalog"
	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/pipeline"
	"github.com/sells-group/partmatch/internal/sink"
	"github.com/sells-group/partmatch/internal/store"
	"github.com/sells-group/partmatch/internal/strategy"
)

func testEnvConfig() *config.Config {
	return &config.Config{
		Match: config.MatchConfig{
			TopK:            15,
			MaxAlternatives: 5,
			BroadenFactor:   2.0,
			Weights: map[string]float64{
				"exact_key": 0.35,
				"attribute": 0.30,
				"vector":    0.25,
				"lexical":   0.10,
			},
		},
		Gate: config.GateConfig{
			ExtractionThreshold: 0.60,
			SearchThreshold:     0.50,
			MatchThreshold:      0.70,
			ReductionCritical:   0.46,
			ReductionHigh:       0.32,
			WarnMargin:          0.05,
			EmergencyTerms:      []string{"emergency", "urgent", "asap"},
			ProductionDownTerms: []string{"production down", "line down"},
			RegulatedIndustries: []string{"aerospace", "medical"},
		},
		Retry: config.RetryConfig{
			MaxAttempts:          3,
			ProbabilityThreshold: 0.5,
			RelaxStep:            0.10,
		},
		Orchestrator: config.OrchestratorConfig{
			Concurrency:         5,
			StrategyTimeoutSecs: 2,
			ItemTimeoutSecs:     5,
			OrderTimeoutSecs:    30,
		},
	}
}

// newTestEnv builds a matchEnv over temp SQLite files with a small seeded
// catalog.
func newTestEnv(t *testing.T) *matchEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))

	cat, err := catalog.NewSQLite(filepath.Join(dir, "catalog.db"), 100, 20)
	require.NoError(t, err)
	require.NoError(t, cat.Migrate(ctx))

	embedder := catalog.NewLocalEmbedder(64)
	items := []catalog.Item{
		{
			PartKey:      "RB-4140-100",
			Description:  "4140 alloy steel round bar 100mm",
			Material:     "4140",
			Form:         "round bar",
			Category:     "bar stock",
			Price:        41.50,
			Availability: 120,
			Keywords:     "4140 alloy steel round bar chromoly",
			Dimensions:   map[string]float64{"diameter": 100},
		},
		{
			PartKey:      "SH-304-2",
			Description:  "304 stainless steel sheet 2mm",
			Material:     "304",
			Form:         "sheet",
			Category:     "sheet stock",
			Price:        18.90,
			Availability: 60,
			Keywords:     "304 stainless sheet",
			Dimensions:   map[string]float64{"thickness": 2},
		},
	}
	for i := range items {
		vec, err := embedder.Embed(ctx, items[i].Description+" "+items[i].Keywords)
		require.NoError(t, err)
		items[i].Embedding = vec
	}
	require.NoError(t, cat.Upsert(ctx, items))

	tcfg := testEnvConfig()
	p := pipeline.New(tcfg, strategy.DefaultRegistry(cat, embedder), sink.Discard{})

	env := &matchEnv{
		Store:        st,
		Catalog:      cat,
		Pipeline:     p,
		Orchestrator: pipeline.NewOrchestrator(p, tcfg.Orchestrator),
	}
	t.Cleanup(env.Close)
	return env
}

// matchableOrder resolves against the seeded catalog on the first attempt.
func matchableOrder() model.Order {
	return model.Order{
		ID:           "ord-7001",
		CustomerName: "Acme Fabrication",
		LineItems: []model.LineItemRequest{
			{
				ID:      "li-01",
				RawText: "RB-4140-100 4140 round bar, qty 5",
				Parsed: model.ParsedAttributes{
					PartNumber: "RB-4140-100",
					Material:   "4140",
					Form:       "round bar",
					Quantity:   5,
				},
				Urgency: model.UrgencyStandard,
			},
		},
	}
}

// unmatchableOrder fails the extraction gate and escalates immediately.
func unmatchableOrder() model.Order {
	return model.Order{
		ID:           "ord-7002",
		CustomerName: "Acme Fabrication",
		LineItems: []model.LineItemRequest{
			{
				ID:      "li-01",
				RawText: "???",
				Parsed:  model.ParsedAttributes{},
				Urgency: model.UrgencyStandard,
			},
		},
	}
}

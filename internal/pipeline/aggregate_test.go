package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/strategy"
)

func testWeights() map[string]float64 {
	return map[string]float64{
		strategy.NameExactKey:  0.35,
		strategy.NameAttribute: 0.30,
		strategy.NameVector:    0.25,
		strategy.NameLexical:   0.10,
	}
}

func standardContext(id string) model.ProcessingContext {
	return model.ProcessingContext{
		LineItemID: id,
		Urgency:    model.UrgencyStandard,
		Thresholds: map[model.GateStage]float64{
			model.StageExtraction: 0.60,
			model.StageSearch:     0.50,
			model.StageMatch:      0.70,
		},
	}
}

func candidates(parts ...model.StrategyCandidate) []model.StrategyCandidate {
	return parts
}

func TestAggregateWeightedAverage(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)

	results := []model.StrategyResult{
		{Strategy: strategy.NameExactKey, Candidates: candidates(
			model.StrategyCandidate{PartKey: "RB-4140-100", RawScore: 1.0},
		)},
		{Strategy: strategy.NameAttribute, Candidates: candidates(
			model.StrategyCandidate{PartKey: "RB-4140-100", RawScore: 0.80},
		)},
	}

	res := agg.Aggregate(results, standardContext("li-1"))
	require.NotNil(t, res.BestMatch)
	assert.Equal(t, "RB-4140-100", res.BestMatch.PartKey)
	// (0.35*1.0 + 0.30*0.80) / 0.65
	assert.InDelta(t, 0.9077, res.BestMatch.CombinedScore, 0.001)
	assert.Len(t, res.BestMatch.StrategyScores, 2)
}

func TestAggregateCombinedScoreStaysInUnitInterval(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)

	results := []model.StrategyResult{
		{Strategy: strategy.NameExactKey, Candidates: candidates(
			model.StrategyCandidate{PartKey: "A", RawScore: 1.0},
		)},
		{Strategy: strategy.NameVector, Candidates: candidates(
			model.StrategyCandidate{PartKey: "A", RawScore: 1.0},
			model.StrategyCandidate{PartKey: "B", RawScore: 0.0},
		)},
	}

	res := agg.Aggregate(results, standardContext("li-1"))
	require.NotNil(t, res.BestMatch)
	assert.LessOrEqual(t, res.BestMatch.CombinedScore, 1.0)
	for _, alt := range res.Alternatives {
		assert.GreaterOrEqual(t, alt.CombinedScore, 0.0)
		assert.LessOrEqual(t, alt.CombinedScore, 1.0)
	}
}

func TestAggregateBelowThresholdKeepsAlternativesOnly(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)

	results := []model.StrategyResult{
		{Strategy: strategy.NameVector, Candidates: candidates(
			model.StrategyCandidate{PartKey: "A", RawScore: 0.55},
		)},
	}

	res := agg.Aggregate(results, standardContext("li-1"))
	assert.Nil(t, res.BestMatch)
	require.Len(t, res.Alternatives, 1)
	assert.InDelta(t, 0.55, res.Alternatives[0].CombinedScore, 1e-9)
}

func TestAggregateDeterministicTieBreak(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)

	results := []model.StrategyResult{
		{Strategy: strategy.NameVector, Candidates: candidates(
			model.StrategyCandidate{PartKey: "ZZ-2", RawScore: 0.40},
			model.StrategyCandidate{PartKey: "AA-1", RawScore: 0.40},
		)},
	}

	for i := 0; i < 20; i++ {
		res := agg.Aggregate(results, standardContext("li-1"))
		require.Len(t, res.Alternatives, 2)
		assert.Equal(t, "AA-1", res.Alternatives[0].PartKey)
		assert.Equal(t, "ZZ-2", res.Alternatives[1].PartKey)
	}
}

func TestAggregateMoreStrategiesWinTies(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)

	// Both candidates combine to 0.60; B is corroborated by two strategies.
	results := []model.StrategyResult{
		{Strategy: strategy.NameVector, Candidates: candidates(
			model.StrategyCandidate{PartKey: "A", RawScore: 0.60},
			model.StrategyCandidate{PartKey: "B", RawScore: 0.60},
		)},
		{Strategy: strategy.NameLexical, Candidates: candidates(
			model.StrategyCandidate{PartKey: "B", RawScore: 0.60},
		)},
	}

	res := agg.Aggregate(results, standardContext("li-1"))
	require.Len(t, res.Alternatives, 2)
	assert.Equal(t, "B", res.Alternatives[0].PartKey)
}

func TestAggregateUnknownStrategyGetsDefaultWeight(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)

	results := []model.StrategyResult{
		{Strategy: "experimental", Candidates: candidates(
			model.StrategyCandidate{PartKey: "A", RawScore: 0.90},
		)},
	}

	res := agg.Aggregate(results, standardContext("li-1"))
	require.NotNil(t, res.BestMatch)
	// Single contributor: the weighted average equals the raw score.
	assert.InDelta(t, 0.90, res.BestMatch.CombinedScore, 1e-9)
}

func TestAggregateFillsFieldsFromFirstNonEmpty(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)

	results := []model.StrategyResult{
		{Strategy: strategy.NameExactKey, Candidates: candidates(
			model.StrategyCandidate{PartKey: "A", RawScore: 1.0, Fields: map[string]string{
				strategy.FieldDescription:    "4140 round bar 2in",
				strategy.FieldMaterial:       "4140",
				strategy.FieldPrice:          "41.50",
				strategy.FieldAvailability:   "120",
				strategy.FieldCertifications: "ASTM A108;MTR",
			}},
		)},
		{Strategy: strategy.NameVector, Candidates: candidates(
			model.StrategyCandidate{PartKey: "A", RawScore: 0.9, Fields: map[string]string{
				strategy.FieldDescription: "different description",
			}},
		)},
	}

	res := agg.Aggregate(results, standardContext("li-1"))
	require.NotNil(t, res.BestMatch)
	best := res.BestMatch
	assert.Equal(t, "4140 round bar 2in", best.Description)
	assert.Equal(t, "4140", best.Material)
	assert.InDelta(t, 41.50, best.Price, 1e-9)
	assert.Equal(t, 120, best.Availability)
	assert.Equal(t, []string{"ASTM A108", "MTR"}, best.Certifications)
}

func TestAggregateTruncatesAlternatives(t *testing.T) {
	agg := NewAggregator(testWeights(), 2)

	var cands []model.StrategyCandidate
	for _, k := range []string{"A", "B", "C", "D", "E"} {
		cands = append(cands, model.StrategyCandidate{PartKey: k, RawScore: 0.30})
	}
	results := []model.StrategyResult{{Strategy: strategy.NameVector, Candidates: cands}}

	res := agg.Aggregate(results, standardContext("li-1"))
	assert.Nil(t, res.BestMatch)
	assert.Len(t, res.Alternatives, 2)
}

func TestAggregateNoResults(t *testing.T) {
	agg := NewAggregator(testWeights(), 5)
	res := agg.Aggregate(nil, standardContext("li-1"))
	assert.Nil(t, res.BestMatch)
	assert.Empty(t, res.Alternatives)
	assert.Equal(t, "li-1", res.LineItemID)
}

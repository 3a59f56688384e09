package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/partmatch/internal/model"
)

var matchOrderFile string

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match one order's line items against the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		order, err := loadOrder(matchOrderFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, result, err := processOrder(ctx, env, order)
		if err != nil {
			return err
		}

		zap.L().Info("order matched",
			zap.String("run_id", run.ID),
			zap.String("order_id", order.ID),
			zap.Int("items_matched", result.ItemsMatched),
			zap.Int("items_escalated", result.ItemsEscalated),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchOrderFile, "order", "", "order YAML file (required)")
	_ = matchCmd.MarkFlagRequired("order")
	rootCmd.AddCommand(matchCmd)
}

// loadOrder reads and validates an order from a YAML file.
func loadOrder(path string) (model.Order, error) {
	var order model.Order

	data, err := os.ReadFile(path)
	if err != nil {
		return order, eris.Wrap(err, "read order file")
	}
	if err := yaml.Unmarshal(data, &order); err != nil {
		return order, eris.Wrap(err, "parse order file")
	}

	if order.ID == "" {
		return order, eris.New("order id is required")
	}
	if len(order.LineItems) == 0 {
		return order, eris.New("order has no line items")
	}
	for i, item := range order.LineItems {
		if item.ID == "" {
			return order, eris.Errorf("line item %d has no id", i)
		}
		if item.Urgency != "" && !item.Urgency.Valid() {
			return order, eris.Errorf("line item %s has invalid urgency %q", item.ID, item.Urgency)
		}
	}
	return order, nil
}

// processOrder runs one order through the orchestrator and persists the
// result, escalated reviews, and updated retry statistics.
func processOrder(ctx context.Context, env *matchEnv, order model.Order) (*model.Run, model.RunResult, error) {
	run, err := env.Store.CreateRun(ctx, order)
	if err != nil {
		return nil, model.RunResult{}, eris.Wrap(err, "create run")
	}

	result, err := executeRun(ctx, env, run.ID, order)
	if err != nil {
		return nil, model.RunResult{}, err
	}
	return run, result, nil
}

// executeRun drives an already-created run to completion: orchestrates the
// order, saves the result, enqueues escalations, and persists what the
// planner learned.
func executeRun(ctx context.Context, env *matchEnv, runID string, order model.Order) (model.RunResult, error) {
	if err := env.Store.UpdateRunStatus(ctx, runID, model.RunStatusMatching); err != nil {
		return model.RunResult{}, eris.Wrap(err, "mark run matching")
	}

	result := env.Orchestrator.ProcessOrder(ctx, order)

	if err := env.Store.UpdateRunResult(ctx, runID, &result); err != nil {
		return model.RunResult{}, eris.Wrap(err, "save run result")
	}

	var reviews []model.ManualReviewRecord
	for _, o := range result.Outcomes {
		if o.Review != nil {
			reviews = append(reviews, *o.Review)
		}
	}
	if len(reviews) > 0 {
		if err := env.Store.EnqueueReviews(ctx, runID, reviews); err != nil {
			return model.RunResult{}, eris.Wrap(err, "enqueue reviews")
		}
	}

	if err := env.Store.SaveRetryStats(ctx, env.Pipeline.Planner().Rates().Export()); err != nil {
		zap.L().Warn("save retry stats failed", zap.Error(err))
	}

	return result, nil
}

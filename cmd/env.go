package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/catalog"
	"github.com/sells-group/partmatch/internal/pipeline"
	"github.com/sells-group/partmatch/internal/sink"
	"github.com/sells-group/partmatch/internal/store"
	"github.com/sells-group/partmatch/internal/strategy"
	"github.com/sells-group/partmatch/pkg/jina"
)

// initStore opens the run-history store named by the config.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "partmatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEmbedder selects the embeddings provider for the vector strategy.
func initEmbedder() (catalog.Embedder, error) {
	switch cfg.Embed.Provider {
	case "", "local":
		return catalog.NewLocalEmbedder(cfg.Embed.Dim), nil
	case "jina":
		if cfg.Embed.Key == "" {
			return nil, eris.New("jina embeddings key is required (PARTMATCH_EMBED_KEY)")
		}
		client := jina.NewClient(cfg.Embed.Key,
			jina.WithBaseURL(cfg.Embed.BaseURL),
			jina.WithModel(cfg.Embed.Model),
			jina.WithDimensions(cfg.Embed.Dim),
		)
		return jina.NewEmbedder(client), nil
	default:
		return nil, eris.Errorf("unsupported embed provider: %s", cfg.Embed.Provider)
	}
}

// matchEnv holds the initialized store, catalog, and orchestrator shared by
// the match and serve commands.
type matchEnv struct {
	Store        store.Store
	Catalog      *catalog.SQLiteCatalog
	Pipeline     *pipeline.ItemPipeline
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the environment.
func (e *matchEnv) Close() {
	if e.Catalog != nil {
		_ = e.Catalog.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store and catalog, builds the strategy registry, seeds
// the retry planner from persisted statistics, and assembles the
// orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context) (*matchEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cat, err := catalog.NewSQLite(cfg.Catalog.Path, cfg.Catalog.QueriesPerSecond, cfg.Catalog.Burst)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "open catalog")
	}
	if err := cat.Migrate(ctx); err != nil {
		_ = cat.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate catalog")
	}

	embedder, err := initEmbedder()
	if err != nil {
		_ = cat.Close()
		_ = st.Close()
		return nil, err
	}

	registry := strategy.DefaultRegistry(cat, embedder)

	events := sink.Sink(sink.LogSink{})
	if cfg.Sink.WebhookURL != "" {
		events = sink.Multi{sink.LogSink{}, sink.NewWebhook(cfg.Sink.WebhookURL)}
	}

	p := pipeline.New(cfg, registry, events)

	// Seed the planner with whatever the store has learned so far.
	snaps, err := st.LoadRetryStats(ctx)
	if err != nil {
		zap.L().Warn("load retry stats failed, starting from priors", zap.Error(err))
	} else if len(snaps) > 0 {
		p.Planner().Rates().Import(snaps)
		zap.L().Info("retry statistics loaded", zap.Int("pairs", len(snaps)))
	}

	return &matchEnv{
		Store:        st,
		Catalog:      cat,
		Pipeline:     p,
		Orchestrator: pipeline.NewOrchestrator(p, cfg.Orchestrator),
	}, nil
}

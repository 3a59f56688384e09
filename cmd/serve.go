package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/monitoring"
	"github.com/sells-group/partmatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the order intake HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
		go checker.Run(ctx)

		router := newRouter(env, collector, cfg.Monitoring.LookbackWindowHours)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API over an initialized environment.
func newRouter(env *matchEnv, collector *monitoring.Collector, lookbackHours int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		snap, err := collector.Collect(req.Context(), lookbackHours)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "collect metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/orders", func(w http.ResponseWriter, req *http.Request) {
		var order model.Order
		if err := json.NewDecoder(req.Body).Decode(&order); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if order.ID == "" || len(order.LineItems) == 0 {
			writeError(w, http.StatusBadRequest, "order id and line items are required")
			return
		}

		run, err := env.Store.CreateRun(req.Context(), order)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "create run failed")
			return
		}

		// Matching outlives the request; the run record tracks progress.
		go func() {
			if _, err := executeRun(serverCtx(req), env, run.ID, order); err != nil {
				zap.L().Error("order run failed",
					zap.String("run_id", run.ID),
					zap.String("order_id", order.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id":   run.ID,
			"order_id": order.ID,
			"status":   string(model.RunStatusQueued),
		})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.RunFilter{
			Status:  model.RunStatus(q.Get("status")),
			OrderID: q.Get("order"),
			Limit:   intParam(q.Get("limit"), 50),
		}
		runs, err := env.Store.ListRuns(req.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/reviews", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		entries, err := env.Store.ListReviews(req.Context(), store.ReviewFilter{
			RunID:  q.Get("run"),
			Status: store.ReviewStatus(q.Get("status")),
			Limit:  intParam(q.Get("limit"), 50),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list reviews failed")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Post("/reviews/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Resolution string `json:"resolution"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id := chi.URLParam(req, "id")
		if err := env.Store.ResolveReview(req.Context(), id, body.Resolution); err != nil {
			writeError(w, http.StatusConflict, "resolve failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(store.ReviewResolved)})
	})

	return r
}

// serverCtx detaches the background run from the request's cancellation
// while keeping its values (request ID) for logging.
func serverCtx(req *http.Request) context.Context {
	return context.WithoutCancel(req.Context())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

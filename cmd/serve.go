package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ownedby/ownership-cli/internal/model"
	"github.com/ownedby/ownership-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for ownership research",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/api/resolve", func(w http.ResponseWriter, req *http.Request) {
			var rr model.ResearchRequest
			if err := json.NewDecoder(req.Body).Decode(&rr); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if err := rr.Validate(); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}

			res, err := e.Pipeline.Resolve(req.Context(), rr)
			if err != nil {
				zap.L().Error("research request failed",
					zap.String("brand", rr.Brand),
					zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "research failed"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"claim":    res.Claim,
				"trace_id": res.Trace.ID,
			})
		})

		r.Get("/api/traces", func(w http.ResponseWriter, req *http.Request) {
			list, err := e.Store.ListTraces(req.Context(), store.TraceFilter{
				Brand: req.URL.Query().Get("brand"),
			})
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list traces failed"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"traces": list})
		})

		r.Get("/api/traces/{id}", func(w http.ResponseWriter, req *http.Request) {
			tr, err := e.Store.GetTrace(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "get trace failed"})
				return
			}
			if tr == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace not found"})
				return
			}
			writeJSON(w, http.StatusOK, tr)
		})

		r.Get("/api/kb/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := e.Store.KBStats(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "kb stats failed"})
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			// The signal context is already canceled here; shutdown needs
			// its own deadline to drain in-flight requests.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lexsia228/M55-soul/pkg/db"
	"github.com/lexsia228/M55-soul/pkg/httpx"
	"github.com/lexsia228/M55-soul/pkg/policy"
	"github.com/lexsia228/M55-soul/services/entitlements/internal/config"
	"github.com/lexsia228/M55-soul/services/entitlements/internal/ingress"
	"github.com/lexsia228/M55-soul/services/entitlements/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Getenv("M55_CONFIG"))
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	grants := store.New(pool)
	hooks := ingress.New(grants, cfg.Webhooks, logger)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/policies/{file}", servePolicy(cfg.PolicyDir, logger))
	r.Post("/webhooks/{provider}", hooks.HandleWebhook)
	r.Get("/users/{user_id}/entitlements", listEntitlements(grants, logger))

	logger.Info("entitlements service listening", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// servedPolicyFiles is the closed set of documents this service exposes.
var servedPolicyFiles = map[string]bool{
	filepath.Base(policy.EntitlementsPath): true,
	filepath.Base(policy.RetentionPath):    true,
}

// servePolicy serves the versioned policy documents. Always no-store:
// a stale cap or retention window must never come from a cache.
func servePolicy(dir string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file := chi.URLParam(r, "file")
		if !servedPolicyFiles[file] {
			httpx.WriteError(w, http.StatusNotFound, "UNKNOWN_POLICY", "no such policy document", nil)
			return
		}
		raw, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			logger.Error("policy document unreadable", "file", file, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "POLICY_UNAVAILABLE", "policy document unavailable", nil)
			return
		}
		w.Header().Set("content-type", "application/json")
		w.Header().Set("cache-control", "no-store")
		w.Header().Set("pragma", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	}
}

func listEntitlements(grants *store.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
		if userID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "user_id is required", nil)
			return
		}
		list, err := grants.ListGrants(r.Context(), userID)
		if err != nil {
			httpx.WriteFatal(w, logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"user_id": userID,
			"grants":  list,
		})
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
	"github.com/rmp4/sql-agent-dashboard/internal/chat"
	"github.com/rmp4/sql-agent-dashboard/internal/config"
	"github.com/rmp4/sql-agent-dashboard/internal/datasource"
	"github.com/rmp4/sql-agent-dashboard/internal/export"
	"github.com/rmp4/sql-agent-dashboard/internal/observability"
	"github.com/rmp4/sql-agent-dashboard/internal/query"
	"github.com/rmp4/sql-agent-dashboard/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type ChatService interface {
	HandleTurn(ctx context.Context, turn chat.Turn) (chat.Response, error)
}

// DataSources hands out executors for stored connections and for database
// URLs posted by the client.
type DataSources interface {
	Resolve(ctx context.Context, id string) (query.Executor, error)
	OpenURL(raw string) (datasource.Session, error)
	Invalidate(id string)
}

type ChartExporter interface {
	Export(ctx context.Context, chartID string, result query.Result) (export.Export, error)
	List(ctx context.Context, chartID string) ([]storage.ObjectInfo, error)
	Purge(ctx context.Context, chartID string) (int, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	QueryTimeout      time.Duration
	Chat              ChatService
	Catalog           catalog.Repository
	DataSources       DataSources
	Exporter          ChartExporter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})

	mux.HandleFunc("GET /api/dashboards", func(w http.ResponseWriter, r *http.Request) {
		handleListDashboards(deps, w, r)
	})
	mux.HandleFunc("POST /api/dashboards", func(w http.ResponseWriter, r *http.Request) {
		handleCreateDashboard(deps, w, r)
	})
	mux.HandleFunc("GET /api/dashboards/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetDashboard(deps, w, r)
	})
	mux.HandleFunc("PUT /api/dashboards/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleUpdateDashboard(deps, w, r)
	})
	mux.HandleFunc("DELETE /api/dashboards/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDashboard(deps, w, r)
	})
	mux.HandleFunc("POST /api/dashboards/{id}/charts", func(w http.ResponseWriter, r *http.Request) {
		handleCreateChart(deps, w, r)
	})
	mux.HandleFunc("GET /api/charts/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetChart(deps, w, r)
	})
	mux.HandleFunc("DELETE /api/charts/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteChart(deps, w, r)
	})
	mux.HandleFunc("POST /api/charts/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		handleRunChart(deps, w, r)
	})
	mux.HandleFunc("POST /api/charts/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		handleExportChart(deps, w, r)
	})
	mux.HandleFunc("GET /api/charts/{id}/exports", func(w http.ResponseWriter, r *http.Request) {
		handleListChartExports(deps, w, r)
	})

	mux.HandleFunc("GET /api/data-sources", func(w http.ResponseWriter, r *http.Request) {
		handleListDataSources(deps, w, r)
	})
	mux.HandleFunc("POST /api/data-sources", func(w http.ResponseWriter, r *http.Request) {
		handleCreateDataSource(deps, w, r)
	})
	mux.HandleFunc("POST /api/data-sources/test", func(w http.ResponseWriter, r *http.Request) {
		handleTestURL(deps, w, r)
	})
	mux.HandleFunc("POST /api/data-sources/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchemaURL(deps, w, r)
	})
	mux.HandleFunc("POST /api/data-sources/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteURL(deps, w, r)
	})
	mux.HandleFunc("GET /api/data-sources/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetDataSource(deps, w, r)
	})
	mux.HandleFunc("PUT /api/data-sources/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleUpdateDataSource(deps, w, r)
	})
	mux.HandleFunc("DELETE /api/data-sources/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDataSource(deps, w, r)
	})
	mux.HandleFunc("POST /api/data-sources/{id}/test", func(w http.ResponseWriter, r *http.Request) {
		handleTestDataSource(deps, w, r)
	})
	mux.HandleFunc("GET /api/data-sources/{id}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleDataSourceSchema(deps, w, r)
	})

	mux.HandleFunc("GET /api/rules", func(w http.ResponseWriter, r *http.Request) {
		handleListRules(deps, w, r)
	})
	mux.HandleFunc("POST /api/rules", func(w http.ResponseWriter, r *http.Request) {
		handleCreateRule(deps, w, r)
	})
	mux.HandleFunc("GET /api/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetRule(deps, w, r)
	})
	mux.HandleFunc("PATCH /api/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleUpdateRule(deps, w, r)
	})
	mux.HandleFunc("DELETE /api/rules/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteRule(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		corsMiddleware(cfg.HTTP.CORSOrigins),
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// corsMiddleware answers preflight requests before routing so OPTIONS never
// reaches the method-scoped mux patterns.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		AllowCredentials: true,
	})
	return c.Handler
}

// CheckCatalog reports the catalog store as unready when its health check
// fails.
func CheckCatalog(repo catalog.Repository) ReadinessCheck {
	if repo == nil {
		return nil
	}
	return repo.HealthCheck
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders the error envelope. detail repeats the most specific
// message available: extra["details"] when set, otherwise message.
func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	detail := message
	if details, ok := extra["details"].(string); ok && details != "" {
		detail = details
	}
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"detail":     detail,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, what string) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid "+what+" request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func notConfigured(w http.ResponseWriter, r *http.Request, code, dependency string) {
	writeError(r.Context(), w, http.StatusNotImplemented, code, dependency+" dependency is not configured", false, nil)
}

func catalogError(w http.ResponseWriter, r *http.Request, err error, notFound, action string) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", notFound, false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to "+action, true, map[string]any{"details": err.Error()})
}

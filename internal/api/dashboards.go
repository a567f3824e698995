package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

type dashboardCreateRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Layout      json.RawMessage `json:"layout"`
}

func (req dashboardCreateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required, notBlank, validation.Length(1, 255)),
		validation.Field(&req.Layout, jsonObject),
	)
}

type dashboardUpdateRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Layout      json.RawMessage `json:"layout"`
}

func (req dashboardUpdateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, notBlank, validation.Length(1, 255)),
		validation.Field(&req.Layout, jsonObject),
	)
}

type chartCreateRequest struct {
	DashboardID     *string         `json:"dashboard_id"`
	Title           string          `json:"title"`
	SQL             string          `json:"sql"`
	Visualization   json.RawMessage `json:"visualization"`
	RefreshInterval *int            `json:"refresh_interval"`
	DataSourceID    *string         `json:"data_source_id"`
}

func (req chartCreateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Title, validation.Required, notBlank, validation.Length(1, 255)),
		validation.Field(&req.SQL, validation.Required, notBlank),
		validation.Field(&req.Visualization, requiredJSONObject),
		validation.Field(&req.RefreshInterval, validation.Min(1)),
	)
}

type dashboardResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Layout      json.RawMessage `json:"layout"`
	Charts      []chartResponse `json:"charts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type chartResponse struct {
	ID              string          `json:"id"`
	DashboardID     string          `json:"dashboard_id"`
	Title           string          `json:"title"`
	SQL             string          `json:"sql"`
	Visualization   json.RawMessage `json:"visualization"`
	RefreshInterval *int            `json:"refresh_interval"`
	DataSourceID    *string         `json:"data_source_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toDashboardResponse(dashboard catalog.Dashboard) dashboardResponse {
	charts := make([]chartResponse, 0, len(dashboard.Charts))
	for _, chart := range dashboard.Charts {
		charts = append(charts, toChartResponse(chart))
	}
	return dashboardResponse{
		ID:          dashboard.ID,
		Name:        dashboard.Name,
		Description: dashboard.Description,
		Layout:      rawJSON(dashboard.Layout),
		Charts:      charts,
		CreatedAt:   dashboard.CreatedAt,
		UpdatedAt:   dashboard.UpdatedAt,
	}
}

func toChartResponse(chart catalog.Chart) chartResponse {
	return chartResponse{
		ID:              chart.ID,
		DashboardID:     chart.DashboardID,
		Title:           chart.Title,
		SQL:             chart.SQL,
		Visualization:   rawJSON(chart.Visualization),
		RefreshInterval: chart.RefreshInterval,
		DataSourceID:    chart.DataSourceID,
		CreatedAt:       chart.CreatedAt,
	}
}

func rawJSON(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func handleListDashboards(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	dashboards, err := deps.Catalog.ListDashboards(r.Context())
	if err != nil {
		catalogError(w, r, err, "", "list dashboards")
		return
	}
	items := make([]dashboardResponse, 0, len(dashboards))
	for _, dashboard := range dashboards {
		items = append(items, toDashboardResponse(dashboard))
	}
	writeJSON(w, http.StatusOK, items)
}

func handleCreateDashboard(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	var req dashboardCreateRequest
	if !decodeJSON(w, r, &req, "create dashboard") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}
	dashboard, err := deps.Catalog.CreateDashboard(r.Context(), catalog.CreateDashboardInput{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Layout:      nullableJSON(req.Layout),
	})
	if err != nil {
		catalogError(w, r, err, "", "create dashboard")
		return
	}
	writeJSON(w, http.StatusCreated, toDashboardResponse(dashboard))
}

func handleGetDashboard(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	dashboard, err := deps.Catalog.GetDashboard(r.Context(), r.PathValue("id"))
	if err != nil {
		catalogError(w, r, err, "Dashboard not found", "get dashboard")
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(dashboard))
}

func handleUpdateDashboard(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	var req dashboardUpdateRequest
	if !decodeJSON(w, r, &req, "update dashboard") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}
	in := catalog.UpdateDashboardInput{Description: req.Description, Layout: nullableJSON(req.Layout)}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		in.Name = &name
	}
	dashboard, err := deps.Catalog.UpdateDashboard(r.Context(), r.PathValue("id"), in)
	if err != nil {
		catalogError(w, r, err, "Dashboard not found", "update dashboard")
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(dashboard))
}

func handleDeleteDashboard(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	id := r.PathValue("id")
	var chartIDs []string
	if deps.Exporter != nil {
		dashboard, err := deps.Catalog.GetDashboard(r.Context(), id)
		if err != nil {
			catalogError(w, r, err, "Dashboard not found", "get dashboard")
			return
		}
		for _, chart := range dashboard.Charts {
			chartIDs = append(chartIDs, chart.ID)
		}
	}
	if err := deps.Catalog.DeleteDashboard(r.Context(), id); err != nil {
		catalogError(w, r, err, "Dashboard not found", "delete dashboard")
		return
	}
	purgeExports(deps, r, chartIDs...)
	w.WriteHeader(http.StatusNoContent)
}

func handleCreateChart(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	var req chartCreateRequest
	if !decodeJSON(w, r, &req, "create chart") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}
	in := catalog.CreateChartInput{
		DashboardID:     r.PathValue("id"),
		Title:           strings.TrimSpace(req.Title),
		SQL:             strings.TrimSpace(req.SQL),
		Visualization:   []byte(req.Visualization),
		RefreshInterval: req.RefreshInterval,
	}
	if req.DataSourceID != nil && strings.TrimSpace(*req.DataSourceID) != "" {
		id := strings.TrimSpace(*req.DataSourceID)
		in.DataSourceID = &id
	}
	chart, err := deps.Catalog.CreateChart(r.Context(), in)
	if err != nil {
		catalogError(w, r, err, "Dashboard not found", "create chart")
		return
	}
	writeJSON(w, http.StatusCreated, toChartResponse(chart))
}

func handleGetChart(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	chart, err := deps.Catalog.GetChart(r.Context(), r.PathValue("id"))
	if err != nil {
		catalogError(w, r, err, "Chart not found", "get chart")
		return
	}
	writeJSON(w, http.StatusOK, toChartResponse(chart))
}

func handleDeleteChart(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	id := r.PathValue("id")
	if err := deps.Catalog.DeleteChart(r.Context(), id); err != nil {
		catalogError(w, r, err, "Chart not found", "delete chart")
		return
	}
	purgeExports(deps, r, id)
	w.WriteHeader(http.StatusNoContent)
}

func handleRunChart(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	chart, result, ok := runSavedChart(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chart_id":      chart.ID,
		"query_result":  result,
		"visualization": rawJSON(chart.Visualization),
	})
}

func handleExportChart(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		notConfigured(w, r, "EXPORT_NOT_CONFIGURED", "object store")
		return
	}
	chart, result, ok := runSavedChart(deps, w, r)
	if !ok {
		return
	}
	exported, err := deps.Exporter.Export(r.Context(), chart.ID, result)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to export chart", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, exported)
}

func handleListChartExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		notConfigured(w, r, "EXPORT_NOT_CONFIGURED", "object store")
		return
	}
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return
	}
	chart, err := deps.Catalog.GetChart(r.Context(), r.PathValue("id"))
	if err != nil {
		catalogError(w, r, err, "Chart not found", "get chart")
		return
	}
	objects, err := deps.Exporter.List(r.Context(), chart.ID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_LIST_FAILED", "failed to list exports", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chart_id": chart.ID, "exports": objects})
}

// purgeExports removes stored exports of deleted charts. Failures are logged
// and leave the objects in place.
func purgeExports(deps Dependencies, r *http.Request, chartIDs ...string) {
	if deps.Exporter == nil {
		return
	}
	for _, chartID := range chartIDs {
		removed, err := deps.Exporter.Purge(r.Context(), chartID)
		if err != nil && deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "purge chart exports failed",
				slog.String("chart_id", chartID),
				slog.Int("removed", removed),
				slog.Any("error", err),
			)
		}
	}
}

// runSavedChart executes a chart's SQL against its data source, or the
// default database when it has none.
func runSavedChart(deps Dependencies, w http.ResponseWriter, r *http.Request) (catalog.Chart, query.Result, bool) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DASHBOARDS_NOT_CONFIGURED", "catalog")
		return catalog.Chart{}, query.Result{}, false
	}
	if deps.DataSources == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "data source")
		return catalog.Chart{}, query.Result{}, false
	}
	chart, err := deps.Catalog.GetChart(r.Context(), r.PathValue("id"))
	if err != nil {
		catalogError(w, r, err, "Chart not found", "get chart")
		return catalog.Chart{}, query.Result{}, false
	}
	sourceID := ""
	if chart.DataSourceID != nil {
		sourceID = *chart.DataSourceID
	}
	executor, err := deps.DataSources.Resolve(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, query.ErrNotConfigured) {
			writeError(r.Context(), w, http.StatusConflict, "DATABASE_NOT_CONFIGURED", "no database is configured for this chart", false, nil)
			return catalog.Chart{}, query.Result{}, false
		}
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusConflict, "DATA_SOURCE_MISSING", "the chart's data source no longer exists", false, nil)
			return catalog.Chart{}, query.Result{}, false
		}
		writeError(r.Context(), w, http.StatusBadGateway, "DATA_SOURCE_UNAVAILABLE", "failed to open data source", true, map[string]any{"details": err.Error()})
		return catalog.Chart{}, query.Result{}, false
	}

	ctx, cancel := withOptionalTimeout(r.Context(), deps.QueryTimeout)
	defer cancel()
	result, err := executor.Execute(ctx, chart.SQL)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_FAILED", "chart query failed", false, map[string]any{"details": err.Error()})
		return catalog.Chart{}, query.Result{}, false
	}
	return chart, result, true
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

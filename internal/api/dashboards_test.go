package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
	"github.com/rmp4/sql-agent-dashboard/internal/storage"
)

func TestDashboardLifecycle(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: newCatalog(t)})

	rr := serve(h, http.MethodPost, "/api/dashboards", `{"name":" Sales ","description":"Quarterly","layout":{"cols":12}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr)
	id, _ := created["id"].(string)
	if id == "" || created["name"] != "Sales" {
		t.Fatalf("created = %#v", created)
	}
	if charts, ok := created["charts"].([]any); !ok || len(charts) != 0 {
		t.Fatalf("charts = %#v", created["charts"])
	}

	rr = serve(h, http.MethodPost, "/api/dashboards/"+id+"/charts", `{"title":"Revenue","sql":"SELECT month, revenue FROM sales","visualization":{"type":"bar","xKey":"month","yKeys":["revenue"]},"refresh_interval":60}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create chart status = %d, body=%s", rr.Code, rr.Body.String())
	}
	chart := decodeBody(t, rr)
	if chart["dashboard_id"] != id || chart["refresh_interval"] != float64(60) {
		t.Fatalf("chart = %#v", chart)
	}
	visualization, _ := chart["visualization"].(map[string]any)
	if visualization["type"] != "bar" {
		t.Fatalf("visualization = %#v", chart["visualization"])
	}

	rr = serve(h, http.MethodGet, "/api/dashboards/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	got := decodeBody(t, rr)
	if charts, ok := got["charts"].([]any); !ok || len(charts) != 1 {
		t.Fatalf("charts = %#v", got["charts"])
	}
	layout, _ := got["layout"].(map[string]any)
	if layout["cols"] != float64(12) {
		t.Fatalf("layout = %#v", got["layout"])
	}

	rr = serve(h, http.MethodPut, "/api/dashboards/"+id, `{"name":"Revenue board"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, body=%s", rr.Code, rr.Body.String())
	}
	updated := decodeBody(t, rr)
	if updated["name"] != "Revenue board" || updated["description"] != "Quarterly" {
		t.Fatalf("updated = %#v", updated)
	}

	rr = serve(h, http.MethodGet, "/api/dashboards", "")
	if rr.Code != http.StatusOK || rr.Body.String() == "[]\n" {
		t.Fatalf("list status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodDelete, "/api/dashboards/"+id, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = serve(h, http.MethodGet, "/api/charts/"+chart["id"].(string), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("chart after cascade status = %d", rr.Code)
	}
}

func TestDashboardEndpointsReturn404ForMissingIDs(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: newCatalog(t)})
	cases := []struct {
		method  string
		path    string
		body    string
		message string
	}{
		{http.MethodGet, "/api/dashboards/nope", "", "Dashboard not found"},
		{http.MethodPut, "/api/dashboards/nope", `{"name":"x"}`, "Dashboard not found"},
		{http.MethodDelete, "/api/dashboards/nope", "", "Dashboard not found"},
		{http.MethodPost, "/api/dashboards/nope/charts", `{"title":"t","sql":"SELECT 1","visualization":{"type":"table"}}`, "Dashboard not found"},
		{http.MethodGet, "/api/charts/nope", "", "Chart not found"},
		{http.MethodDelete, "/api/charts/nope", "", "Chart not found"},
	}
	for _, tc := range cases {
		rr := serve(h, tc.method, tc.path, tc.body)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s status = %d", tc.method, tc.path, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["error_code"] != "NOT_FOUND" || body["message"] != tc.message {
			t.Fatalf("%s %s body = %#v", tc.method, tc.path, body)
		}
	}
}

func TestDashboardValidation(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: newCatalog(t)})

	rr := serve(h, http.MethodPost, "/api/dashboards", `{"name":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	fields, _ := body["context"].(map[string]any)["fields"].(map[string]any)
	if body["error_code"] != "VALIDATION_FAILED" || fields["name"] == nil {
		t.Fatalf("body = %#v", body)
	}

	rr = serve(h, http.MethodPost, "/api/dashboards", `{"name":"ok","layout":[1,2]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("array layout status = %d", rr.Code)
	}

	rr = serve(h, http.MethodPost, "/api/dashboards", `{"name":"ok","owner":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "INVALID_JSON" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestCreateChartRequiresVisualizationObject(t *testing.T) {
	store := newCatalog(t)
	h := NewHandler(testConfig(t), Dependencies{Catalog: store})
	rr := serve(h, http.MethodPost, "/api/dashboards", `{"name":"d"}`)
	id := decodeBody(t, rr)["id"].(string)

	rr = serve(h, http.MethodPost, "/api/dashboards/"+id+"/charts", `{"title":"t","sql":"SELECT 1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	fields, _ := decodeBody(t, rr)["context"].(map[string]any)["fields"].(map[string]any)
	if fields["visualization"] == nil {
		t.Fatalf("fields = %#v", fields)
	}
}

func TestRunChartUsesChartDataSource(t *testing.T) {
	store := newCatalog(t)
	warehouse := &fakeExecutor{result: query.Result{
		Columns:  []string{"month", "revenue"},
		Rows:     []map[string]any{{"month": "Jan", "revenue": 10}},
		RowCount: 1,
	}}
	sources := &fakeDataSources{executors: map[string]*fakeExecutor{"ds-1": warehouse}}
	h := NewHandler(testConfig(t), Dependencies{Catalog: store, DataSources: sources})

	dashboardID := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards", `{"name":"d"}`))["id"].(string)
	chartID := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards/"+dashboardID+"/charts",
		`{"title":"t","sql":"SELECT month, revenue FROM sales","visualization":{"type":"line","xKey":"month","yKeys":["revenue"]},"data_source_id":"ds-1"}`))["id"].(string)

	rr := serve(h, http.MethodPost, "/api/charts/"+chartID+"/run", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["chart_id"] != chartID {
		t.Fatalf("chart_id = %v", body["chart_id"])
	}
	result, _ := body["query_result"].(map[string]any)
	if result["row_count"] != float64(1) {
		t.Fatalf("query_result = %#v", body["query_result"])
	}
	visualization, _ := body["visualization"].(map[string]any)
	if visualization["type"] != "line" {
		t.Fatalf("visualization = %#v", body["visualization"])
	}
	if len(warehouse.sqls) != 1 || warehouse.sqls[0] != "SELECT month, revenue FROM sales" {
		t.Fatalf("executed = %#v", warehouse.sqls)
	}
}

func TestRunChartFailures(t *testing.T) {
	store := newCatalog(t)
	broken := &fakeExecutor{err: errors.New(`relation "sales" does not exist`)}
	sources := &fakeDataSources{executors: map[string]*fakeExecutor{"": broken}}
	h := NewHandler(testConfig(t), Dependencies{Catalog: store, DataSources: sources})

	dashboardID := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards", `{"name":"d"}`))["id"].(string)
	chartID := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards/"+dashboardID+"/charts",
		`{"title":"t","sql":"SELECT * FROM sales","visualization":{"type":"table"}}`))["id"].(string)

	rr := serve(h, http.MethodPost, "/api/charts/"+chartID+"/run", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "QUERY_FAILED" || body["detail"] != `relation "sales" does not exist` {
		t.Fatalf("body = %#v", body)
	}

	sources.executors = map[string]*fakeExecutor{}
	rr = serve(h, http.MethodPost, "/api/charts/"+chartID+"/run", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("unconfigured status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "DATABASE_NOT_CONFIGURED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}

	rr = serve(h, http.MethodPost, "/api/charts/missing/run", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing chart status = %d", rr.Code)
	}
}

func TestExportChartUploadsResult(t *testing.T) {
	store := newCatalog(t)
	warehouse := &fakeExecutor{result: query.Result{
		Columns:  []string{"region", "total"},
		Rows:     []map[string]any{{"region": "EU", "total": 3}, {"region": "US", "total": 5}},
		RowCount: 2,
	}}
	exporter := &fakeExporter{objects: []storage.ObjectInfo{{Key: "exports/x/date=2026-02-20/export-1.parquet", Size: 128}}}
	h := NewHandler(testConfig(t), Dependencies{
		Catalog:     store,
		DataSources: &fakeDataSources{executors: map[string]*fakeExecutor{"": warehouse}},
		Exporter:    exporter,
	})

	dashboardID := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards", `{"name":"d"}`))["id"].(string)
	chartID := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards/"+dashboardID+"/charts",
		`{"title":"t","sql":"SELECT region, total FROM sales","visualization":{"type":"pie","xKey":"region","yKeys":["total"]}}`))["id"].(string)

	rr := serve(h, http.MethodPost, "/api/charts/"+chartID+"/export", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["row_count"] != float64(2) || body["download_url"] == "" {
		t.Fatalf("body = %#v", body)
	}
	if len(exporter.exported) != 1 || exporter.exported[0].RowCount != 2 {
		t.Fatalf("exported = %#v", exporter.exported)
	}

	rr = serve(h, http.MethodGet, "/api/charts/"+chartID+"/exports", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	listed := decodeBody(t, rr)
	if exports, ok := listed["exports"].([]any); !ok || len(exports) != 1 {
		t.Fatalf("exports = %#v", listed["exports"])
	}

	exporter.err = errors.New("bucket unavailable")
	rr = serve(h, http.MethodPost, "/api/charts/"+chartID+"/export", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("failed export status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "EXPORT_FAILED" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestDeletingChartsPurgesTheirExports(t *testing.T) {
	exporter := &fakeExporter{}
	h := NewHandler(testConfig(t), Dependencies{Catalog: newCatalog(t), Exporter: exporter})

	dashboardID := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards", `{"name":"d"}`))["id"].(string)
	first := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards/"+dashboardID+"/charts",
		`{"title":"a","sql":"SELECT 1","visualization":{"type":"table"}}`))["id"].(string)
	second := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards/"+dashboardID+"/charts",
		`{"title":"b","sql":"SELECT 2","visualization":{"type":"table"}}`))["id"].(string)

	if rr := serve(h, http.MethodDelete, "/api/charts/"+first, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete chart status = %d", rr.Code)
	}
	if len(exporter.purged) != 1 || exporter.purged[0] != first {
		t.Fatalf("purged = %#v", exporter.purged)
	}

	if rr := serve(h, http.MethodDelete, "/api/dashboards/"+dashboardID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete dashboard status = %d", rr.Code)
	}
	if len(exporter.purged) != 2 || exporter.purged[1] != second {
		t.Fatalf("purged = %#v", exporter.purged)
	}

	exporter.err = errors.New("bucket unavailable")
	third := decodeBody(t, serve(h, http.MethodPost, "/api/dashboards", `{"name":"e"}`))["id"].(string)
	serve(h, http.MethodPost, "/api/dashboards/"+third+"/charts", `{"title":"c","sql":"SELECT 3","visualization":{"type":"table"}}`)
	if rr := serve(h, http.MethodDelete, "/api/dashboards/"+third, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("purge failure should not fail the delete, status = %d", rr.Code)
	}
}

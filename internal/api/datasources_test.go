package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

func TestDataSourceLifecycleHidesPassword(t *testing.T) {
	store := newCatalog(t)
	sources := &fakeDataSources{}
	h := NewHandler(testConfig(t), Dependencies{Catalog: store, DataSources: sources})

	rr := serve(h, http.MethodPost, "/api/data-sources", `{"name":"warehouse","type":"postgresql","host":"db","port":5432,"database":"sales","username":"app","password":"s3cret"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "s3cret") || strings.Contains(rr.Body.String(), "password") {
		t.Fatalf("password leaked: %s", rr.Body.String())
	}
	created := decodeBody(t, rr)
	id := created["id"].(string)
	if created["status"] != catalog.DataSourceStatusDisconnected {
		t.Fatalf("status = %v", created["status"])
	}

	rr = serve(h, http.MethodPut, "/api/data-sources/"+id, `{"host":"db2","password":""}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["host"] != "db2" || body["name"] != "warehouse" {
		t.Fatalf("updated = %#v", body)
	}
	stored, err := store.GetDataSource(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Password != "s3cret" {
		t.Fatalf("empty password should keep the stored one, got %q", stored.Password)
	}
	if len(sources.invalidated) != 1 || sources.invalidated[0] != id {
		t.Fatalf("invalidated = %#v", sources.invalidated)
	}

	rr = serve(h, http.MethodGet, "/api/data-sources", "")
	if rr.Code != http.StatusOK || strings.Contains(rr.Body.String(), "s3cret") {
		t.Fatalf("list status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(h, http.MethodDelete, "/api/data-sources/"+id, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if len(sources.invalidated) != 2 {
		t.Fatalf("invalidated = %#v", sources.invalidated)
	}
	rr = serve(h, http.MethodGet, "/api/data-sources/"+id, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["message"] != "Data source not found" {
		t.Fatalf("message = %v", body["message"])
	}
}

func TestCreateDataSourceRejectsUnknownType(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: newCatalog(t)})
	rr := serve(h, http.MethodPost, "/api/data-sources", `{"name":"x","type":"oracle","host":"h","port":1521,"database":"d","username":"u","password":"p"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	fields, _ := decodeBody(t, rr)["context"].(map[string]any)["fields"].(map[string]any)
	if fields["type"] == nil {
		t.Fatalf("fields = %#v", fields)
	}
}

func TestTestDataSourceUpdatesStatus(t *testing.T) {
	store := newCatalog(t)
	ds, err := store.CreateDataSource(context.Background(), catalog.CreateDataSourceInput{
		Name: "warehouse", Type: "mysql", Host: "db", Port: 3306, Database: "sales", Username: "u", Password: "p",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	executor := &fakeExecutor{connected: true}
	sources := &fakeDataSources{executors: map[string]*fakeExecutor{ds.ID: executor}}
	h := NewHandler(testConfig(t), Dependencies{Catalog: store, DataSources: sources})

	rr := serve(h, http.MethodPost, "/api/data-sources/"+ds.ID+"/test", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["message"] != "Connection successful" {
		t.Fatalf("body = %#v", body)
	}
	assertStatus(t, store, ds.ID, catalog.DataSourceStatusConnected)

	executor.connected = false
	body = decodeBody(t, serve(h, http.MethodPost, "/api/data-sources/"+ds.ID+"/test", ""))
	if body["success"] != false || body["message"] != "Connection failed" {
		t.Fatalf("body = %#v", body)
	}
	assertStatus(t, store, ds.ID, catalog.DataSourceStatusDisconnected)

	sources.resolveErr = errors.New("unsupported data source type")
	body = decodeBody(t, serve(h, http.MethodPost, "/api/data-sources/"+ds.ID+"/test", ""))
	if body["success"] != false || body["message"] != "unsupported data source type" {
		t.Fatalf("body = %#v", body)
	}
	assertStatus(t, store, ds.ID, catalog.DataSourceStatusError)

	rr = serve(h, http.MethodPost, "/api/data-sources/missing/test", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rr.Code)
	}
}

func TestDataSourceSchema(t *testing.T) {
	store := newCatalog(t)
	ds, err := store.CreateDataSource(context.Background(), catalog.CreateDataSourceInput{
		Name: "local", Type: "sqlite", Database: "app.db",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	executor := &fakeExecutor{schema: query.Schema{"users": {{Name: "id", Type: "INTEGER"}}}}
	h := NewHandler(testConfig(t), Dependencies{
		Catalog:     store,
		DataSources: &fakeDataSources{executors: map[string]*fakeExecutor{ds.ID: executor}},
	})

	rr := serve(h, http.MethodGet, "/api/data-sources/"+ds.ID+"/schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	tables, _ := decodeBody(t, rr)["tables"].(map[string]any)
	if _, ok := tables["users"]; !ok {
		t.Fatalf("tables = %#v", tables)
	}

	executor.schemaErr = errors.New("permission denied")
	rr = serve(h, http.MethodGet, "/api/data-sources/"+ds.ID+"/schema", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("failing schema status = %d", rr.Code)
	}
}

func TestDatabaseURLEndpointsCloseSessions(t *testing.T) {
	session := &fakeExecutor{
		connected: true,
		schema:    query.Schema{"orders": {{Name: "total", Type: "NUMERIC"}}},
		result:    query.Result{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}, RowCount: 1},
	}
	sources := &fakeDataSources{session: session}
	h := NewHandler(testConfig(t), Dependencies{DataSources: sources})

	body := decodeBody(t, serve(h, http.MethodPost, "/api/data-sources/test", `{"database_url":"postgresql+psycopg2://u:p@db/sales"}`))
	if body["success"] != true || body["message"] != "Connection successful" {
		t.Fatalf("test body = %#v", body)
	}
	if !session.closed {
		t.Fatal("session not closed after test")
	}

	session.closed = false
	body = decodeBody(t, serve(h, http.MethodPost, "/api/data-sources/schema", `{"database_url":"sqlite:///app.db"}`))
	schema, _ := body["schema"].(map[string]any)
	if _, ok := schema["orders"]; !ok {
		t.Fatalf("schema body = %#v", body)
	}
	if !session.closed {
		t.Fatal("session not closed after schema")
	}

	session.closed = false
	rr := serve(h, http.MethodPost, "/api/data-sources/execute", `{"database_url":"sqlite:///app.db","sql":"SELECT 1 AS n"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["row_count"] != float64(1) {
		t.Fatalf("execute body = %#v", body)
	}
	if !session.closed || session.sqls[len(session.sqls)-1] != "SELECT 1 AS n" {
		t.Fatalf("session = %#v", session)
	}
	if len(sources.urls) != 3 || sources.urls[0] != "postgresql+psycopg2://u:p@db/sales" {
		t.Fatalf("urls = %#v", sources.urls)
	}
}

func TestDatabaseURLEndpointErrors(t *testing.T) {
	sources := &fakeDataSources{openErr: errors.New(`unsupported database url scheme "oracle"`)}
	h := NewHandler(testConfig(t), Dependencies{DataSources: sources})

	rr := serve(h, http.MethodPost, "/api/data-sources/test", `{"database_url":"oracle://x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "INVALID_DATABASE_URL" {
		t.Fatalf("error_code = %v", body["error_code"])
	}

	rr = serve(h, http.MethodPost, "/api/data-sources/execute", `{"database_url":"sqlite://"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing sql status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "VALIDATION_FAILED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
	if len(sources.urls) != 1 {
		t.Fatalf("invalid request should not open a session, urls = %#v", sources.urls)
	}

	sources.openErr = nil
	sources.session = &fakeExecutor{err: errors.New("syntax error at or near \"SELEC\"")}
	rr = serve(h, http.MethodPost, "/api/data-sources/execute", `{"database_url":"sqlite://","sql":"SELEC 1"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("query failure status = %d", rr.Code)
	}
	if !sources.session.closed {
		t.Fatal("session not closed after failed query")
	}
}

func assertStatus(t *testing.T, repo catalog.DataSourceRepository, id, want string) {
	t.Helper()
	ds, err := repo.GetDataSource(context.Background(), id)
	if err != nil {
		t.Fatalf("get data source: %v", err)
	}
	if ds.Status != want {
		t.Fatalf("status = %q, want %q", ds.Status, want)
	}
}

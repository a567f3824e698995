package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
	"github.com/rmp4/sql-agent-dashboard/internal/datasource"
	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

// supportedType accepts the type names NormalizeType understands, ignoring
// case.
var supportedType = validation.By(func(value any) error {
	var kind string
	switch typed := value.(type) {
	case string:
		kind = typed
	case *string:
		if typed == nil {
			return nil
		}
		kind = *typed
	}
	switch datasource.NormalizeType(kind) {
	case "postgres", "mysql", "sqlite", "sqlserver", "duckdb":
		return nil
	}
	return fmt.Errorf("unsupported data source type %q", kind)
})

type dataSourceCreateRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (req dataSourceCreateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required, notBlank, validation.Length(1, 255)),
		validation.Field(&req.Type, validation.Required, supportedType),
		validation.Field(&req.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&req.Database, validation.Required),
	)
}

type dataSourceUpdateRequest struct {
	Name     *string `json:"name"`
	Type     *string `json:"type"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Database *string `json:"database"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

func (req dataSourceUpdateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, notBlank, validation.Length(1, 255)),
		validation.Field(&req.Type, supportedType),
		validation.Field(&req.Port, validation.Min(0), validation.Max(65535)),
	)
}

type databaseURLRequest struct {
	DatabaseURL string `json:"database_url"`
	SQL         string `json:"sql"`
}

func (req databaseURLRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.DatabaseURL, validation.Required, notBlank),
	)
}

func (req databaseURLRequest) ValidateExecute() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.DatabaseURL, validation.Required, notBlank),
		validation.Field(&req.SQL, validation.Required, notBlank),
	)
}

// dataSourceResponse never carries the stored password.
type dataSourceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Database  string    `json:"database"`
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDataSourceResponse(ds catalog.DataSource) dataSourceResponse {
	return dataSourceResponse{
		ID:        ds.ID,
		Name:      ds.Name,
		Type:      ds.Type,
		Host:      ds.Host,
		Port:      ds.Port,
		Database:  ds.Database,
		Username:  ds.Username,
		Status:    ds.Status,
		CreatedAt: ds.CreatedAt,
		UpdatedAt: ds.UpdatedAt,
	}
}

type connectionTestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func connectionMessage(ok bool) string {
	if ok {
		return "Connection successful"
	}
	return "Connection failed"
}

func handleListDataSources(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "catalog")
		return
	}
	sources, err := deps.Catalog.ListDataSources(r.Context())
	if err != nil {
		catalogError(w, r, err, "", "list data sources")
		return
	}
	items := make([]dataSourceResponse, 0, len(sources))
	for _, ds := range sources {
		items = append(items, toDataSourceResponse(ds))
	}
	writeJSON(w, http.StatusOK, items)
}

func handleCreateDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "catalog")
		return
	}
	var req dataSourceCreateRequest
	if !decodeJSON(w, r, &req, "create data source") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}
	ds, err := deps.Catalog.CreateDataSource(r.Context(), catalog.CreateDataSourceInput{
		Name:     strings.TrimSpace(req.Name),
		Type:     req.Type,
		Host:     strings.TrimSpace(req.Host),
		Port:     req.Port,
		Database: strings.TrimSpace(req.Database),
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		catalogError(w, r, err, "", "create data source")
		return
	}
	writeJSON(w, http.StatusCreated, toDataSourceResponse(ds))
}

func handleGetDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "catalog")
		return
	}
	ds, err := deps.Catalog.GetDataSource(r.Context(), r.PathValue("id"))
	if err != nil {
		catalogError(w, r, err, "Data source not found", "get data source")
		return
	}
	writeJSON(w, http.StatusOK, toDataSourceResponse(ds))
}

func handleUpdateDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "catalog")
		return
	}
	var req dataSourceUpdateRequest
	if !decodeJSON(w, r, &req, "update data source") {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, r, err)
		return
	}
	in := catalog.UpdateDataSourceInput{
		Name:     trimmed(req.Name),
		Type:     req.Type,
		Host:     trimmed(req.Host),
		Port:     req.Port,
		Database: trimmed(req.Database),
		Username: req.Username,
	}
	// Edit forms post an empty password to mean "unchanged".
	if req.Password != nil && *req.Password != "" {
		in.Password = req.Password
	}
	id := r.PathValue("id")
	ds, err := deps.Catalog.UpdateDataSource(r.Context(), id, in)
	if err != nil {
		catalogError(w, r, err, "Data source not found", "update data source")
		return
	}
	if deps.DataSources != nil {
		deps.DataSources.Invalidate(id)
	}
	writeJSON(w, http.StatusOK, toDataSourceResponse(ds))
}

func handleDeleteDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "catalog")
		return
	}
	id := r.PathValue("id")
	if err := deps.Catalog.DeleteDataSource(r.Context(), id); err != nil {
		catalogError(w, r, err, "Data source not found", "delete data source")
		return
	}
	if deps.DataSources != nil {
		deps.DataSources.Invalidate(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleTestDataSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "catalog")
		return
	}
	if deps.DataSources == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "data source")
		return
	}
	id := r.PathValue("id")
	if _, err := deps.Catalog.GetDataSource(r.Context(), id); err != nil {
		catalogError(w, r, err, "Data source not found", "get data source")
		return
	}

	resp := connectionTestResponse{}
	status := catalog.DataSourceStatusDisconnected
	executor, err := deps.DataSources.Resolve(r.Context(), id)
	if err != nil {
		resp.Message = err.Error()
		status = catalog.DataSourceStatusError
	} else {
		resp.Success = executor.TestConnection(r.Context())
		resp.Message = connectionMessage(resp.Success)
		if resp.Success {
			status = catalog.DataSourceStatusConnected
		}
	}

	if err := deps.Catalog.SetDataSourceStatus(r.Context(), id, status); err != nil {
		catalogError(w, r, err, "Data source not found", "update data source status")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleDataSourceSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "catalog")
		return
	}
	if deps.DataSources == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "data source")
		return
	}
	id := r.PathValue("id")
	if _, err := deps.Catalog.GetDataSource(r.Context(), id); err != nil {
		catalogError(w, r, err, "Data source not found", "get data source")
		return
	}
	executor, err := deps.DataSources.Resolve(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FAILED", "failed to load schema", true, map[string]any{"details": err.Error()})
		return
	}
	schema, err := executor.Schema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FAILED", "failed to load schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": schemaOrEmpty(schema)})
}

func handleTestURL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := openSession(deps, w, r, "test connection", false)
	if !ok {
		return
	}
	defer session.Close()
	connected := session.TestConnection(r.Context())
	writeJSON(w, http.StatusOK, connectionTestResponse{Success: connected, Message: connectionMessage(connected)})
}

func handleSchemaURL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := openSession(deps, w, r, "schema", false)
	if !ok {
		return
	}
	defer session.Close()
	schema, err := session.Schema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FAILED", "failed to load schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schema": schemaOrEmpty(schema)})
}

func handleExecuteURL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req databaseURLRequest
	session, ok := openSessionInto(deps, w, r, "execute", true, &req)
	if !ok {
		return
	}
	defer session.Close()

	ctx, cancel := withOptionalTimeout(r.Context(), deps.QueryTimeout)
	defer cancel()
	result, err := session.Execute(ctx, req.SQL)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func openSession(deps Dependencies, w http.ResponseWriter, r *http.Request, what string, withSQL bool) (datasource.Session, bool) {
	var req databaseURLRequest
	return openSessionInto(deps, w, r, what, withSQL, &req)
}

// openSessionInto decodes a {database_url[, sql]} body into req and opens a
// request-scoped session for the URL. The caller closes the session.
func openSessionInto(deps Dependencies, w http.ResponseWriter, r *http.Request, what string, withSQL bool, req *databaseURLRequest) (datasource.Session, bool) {
	if deps.DataSources == nil {
		notConfigured(w, r, "DATA_SOURCES_NOT_CONFIGURED", "data source")
		return nil, false
	}
	if !decodeJSON(w, r, req, what) {
		return nil, false
	}
	validate := req.Validate
	if withSQL {
		validate = req.ValidateExecute
	}
	if err := validate(); err != nil {
		writeValidationError(w, r, err)
		return nil, false
	}
	session, err := deps.DataSources.OpenURL(strings.TrimSpace(req.DatabaseURL))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATABASE_URL", "failed to open database", false, map[string]any{"details": err.Error()})
		return nil, false
	}
	return session, true
}

func schemaOrEmpty(schema query.Schema) query.Schema {
	if schema == nil {
		return query.Schema{}
	}
	return schema
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := strings.TrimSpace(*value)
	return &out
}

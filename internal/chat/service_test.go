package chat

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rmp4/sql-agent-dashboard/internal/llm"
	"github.com/rmp4/sql-agent-dashboard/internal/query"
	"github.com/rmp4/sql-agent-dashboard/internal/viz"
)

type fakeResolver struct {
	executor query.Executor
	err      error
	gotID    string
}

func (f *fakeResolver) Resolve(_ context.Context, id string) (query.Executor, error) {
	f.gotID = id
	if f.err != nil {
		return nil, f.err
	}
	return f.executor, nil
}

type fakeExecutor struct {
	schema     query.Schema
	schemaErr  error
	result     query.Result
	executeErr error
	executed   []string
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) (query.Result, error) {
	f.executed = append(f.executed, sql)
	if f.executeErr != nil {
		return query.Result{}, f.executeErr
	}
	return f.result, nil
}

func (f *fakeExecutor) TestConnection(context.Context) bool { return true }

func (f *fakeExecutor) Schema(context.Context) (query.Schema, error) {
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}
	return f.schema, nil
}

type fakeResponder struct {
	reply llm.Response
	err   error
	got   llm.Request
	wait  bool
}

func (f *fakeResponder) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.got = req
	if f.wait {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeResponder) Model() string { return "gpt-test" }

func newTestService(t *testing.T, resolver Resolver, responder llm.Responder, opts Options) *Service {
	t.Helper()
	service, err := NewService(resolver, responder, opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	service.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	service.newID = func() string { return "conv-generated" }
	return service
}

func salesSchema() query.Schema {
	return query.Schema{"sales": {{Name: "region", Type: "text"}, {Name: "amount", Type: "numeric", Nullable: true}}}
}

func TestHandleTurnRunsSQLAndUsesHint(t *testing.T) {
	executor := &fakeExecutor{
		schema: salesSchema(),
		result: query.Result{
			Columns:  []string{"region", "total", "orders"},
			Rows:     []map[string]any{{"region": "east", "total": 10, "orders": 2}},
			RowCount: 1,
		},
	}
	responder := &fakeResponder{reply: llm.Response{
		Text:          "```sql\nSELECT region, SUM(amount) AS total FROM sales GROUP BY region\n```",
		Visualization: json.RawMessage(`{"type":"combo","xKey":"region","yKeys":["orders","total"],"barKeys":["total"],"lineKeys":["orders"],"title":"Share"}`),
	}}
	service := newTestService(t, &fakeResolver{executor: executor}, responder, Options{})

	resp, err := service.HandleTurn(context.Background(), Turn{Message: "sales by region", ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.ConversationID != "conv-1" {
		t.Fatalf("ConversationID = %q", resp.ConversationID)
	}
	if resp.SQL == nil || *resp.SQL != "SELECT region, SUM(amount) AS total FROM sales GROUP BY region" {
		t.Fatalf("SQL = %v", resp.SQL)
	}
	if len(executor.executed) != 1 || executor.executed[0] != *resp.SQL {
		t.Fatalf("executed = %v", executor.executed)
	}
	if resp.QueryResult == nil || resp.QueryResult.RowCount != 1 {
		t.Fatalf("QueryResult = %+v", resp.QueryResult)
	}
	hint, err := viz.Decode(responder.reply.Visualization)
	if err != nil {
		t.Fatalf("Decode(hint) error = %v", err)
	}
	if resp.Visualization == nil || !reflect.DeepEqual(*resp.Visualization, hint) {
		t.Fatalf("Visualization = %#v, want hint %#v", resp.Visualization, hint)
	}
	if inferred := viz.Infer(executor.result.Columns, *resp.SQL); reflect.DeepEqual(inferred, hint) {
		t.Fatalf("hint indistinguishable from inference: %#v", inferred)
	}
	if !resp.Metadata.HasSchema || resp.Metadata.Model != "gpt-test" || resp.Metadata.QueryError != "" {
		t.Fatalf("Metadata = %+v", resp.Metadata)
	}
	if len(responder.got.Schema["sales"]) != 2 {
		t.Fatalf("responder schema = %+v", responder.got.Schema)
	}
}

func TestHandleTurnInfersWhenHintInvalid(t *testing.T) {
	executor := &fakeExecutor{
		schema: query.Schema{},
		result: query.Result{
			Columns:  []string{"order_date", "revenue"},
			Rows:     []map[string]any{{"order_date": "2026-01-01", "revenue": 5}},
			RowCount: 1,
		},
	}
	responder := &fakeResponder{reply: llm.Response{
		Text:          "```sql\nSELECT order_date, revenue FROM daily\n```",
		Visualization: json.RawMessage(`{"type":"radar"}`),
	}}
	service := newTestService(t, &fakeResolver{executor: executor}, responder, Options{})

	resp, err := service.HandleTurn(context.Background(), Turn{Message: "revenue trend"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.ConversationID != "conv-generated" {
		t.Fatalf("ConversationID = %q", resp.ConversationID)
	}
	want := viz.Config{Type: viz.ChartLine, XKey: "order_date", YKeys: []string{"revenue"}, Title: "revenue over time"}
	if resp.Visualization == nil || resp.Visualization.Type != want.Type || resp.Visualization.XKey != want.XKey || resp.Visualization.Title != want.Title {
		t.Fatalf("Visualization = %+v", resp.Visualization)
	}
	if !resp.Metadata.HasSchema {
		t.Fatal("empty schema mapping should still count as a schema")
	}
}

func TestHandleTurnEmptyResultIsTable(t *testing.T) {
	executor := &fakeExecutor{
		schema: salesSchema(),
		result: query.Result{Columns: []string{"region", "total"}, Rows: []map[string]any{}},
	}
	responder := &fakeResponder{reply: llm.Response{Text: "```sql\nSELECT region, total FROM t GROUP BY region\n```"}}
	service := newTestService(t, &fakeResolver{executor: executor}, responder, Options{})

	resp, err := service.HandleTurn(context.Background(), Turn{Message: "x"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.Visualization == nil || resp.Visualization.Type != viz.ChartTable {
		t.Fatalf("Visualization = %+v", resp.Visualization)
	}
}

func TestHandleTurnAbsorbsQueryFailure(t *testing.T) {
	executor := &fakeExecutor{schema: salesSchema(), executeErr: errors.New(`relation "nope" does not exist`)}
	responder := &fakeResponder{reply: llm.Response{
		Text:          "```sql\nSELECT * FROM nope\n```",
		Visualization: json.RawMessage(`{"type":"table"}`),
	}}
	service := newTestService(t, &fakeResolver{executor: executor}, responder, Options{})

	resp, err := service.HandleTurn(context.Background(), Turn{Message: "x"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.QueryResult != nil || resp.Visualization != nil {
		t.Fatalf("expected null result and visualization, got %+v %+v", resp.QueryResult, resp.Visualization)
	}
	if !strings.Contains(resp.Metadata.QueryError, `relation "nope" does not exist`) {
		t.Fatalf("QueryError = %q", resp.Metadata.QueryError)
	}
	if resp.SQL == nil {
		t.Fatal("SQL should still be reported")
	}
}

func TestHandleTurnAbsorbsSchemaFailureAndStillExecutes(t *testing.T) {
	executor := &fakeExecutor{
		schemaErr: errors.New("permission denied"),
		result:    query.Result{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}, RowCount: 1},
	}
	responder := &fakeResponder{reply: llm.Response{Text: "```sql\nSELECT 1 AS n\n```"}}
	service := newTestService(t, &fakeResolver{executor: executor}, responder, Options{})

	resp, err := service.HandleTurn(context.Background(), Turn{Message: "x"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.Metadata.HasSchema {
		t.Fatal("HasSchema should be false after schema failure")
	}
	if responder.got.Schema != nil {
		t.Fatalf("responder got schema %v", responder.got.Schema)
	}
	if len(executor.executed) != 1 || resp.QueryResult == nil {
		t.Fatalf("query should still run, executed = %v", executor.executed)
	}
	if resp.Visualization == nil || resp.Visualization.Type != viz.ChartTable {
		t.Fatalf("single column result should be a table, got %+v", resp.Visualization)
	}
}

func TestHandleTurnWithoutDatabase(t *testing.T) {
	resolver := &fakeResolver{err: query.ErrNotConfigured}
	responder := &fakeResponder{reply: llm.Response{Text: "```sql\nSELECT 1\n```"}}
	service := newTestService(t, resolver, responder, Options{})

	resp, err := service.HandleTurn(context.Background(), Turn{Message: "x", DataSourceID: "ds-9"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resolver.gotID != "ds-9" {
		t.Fatalf("resolver id = %q", resolver.gotID)
	}
	if resp.SQL == nil || *resp.SQL != "SELECT 1" {
		t.Fatalf("SQL = %v", resp.SQL)
	}
	if resp.QueryResult != nil || resp.Visualization != nil || resp.Metadata.HasSchema || resp.Metadata.QueryError != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleTurnProseOnly(t *testing.T) {
	executor := &fakeExecutor{schema: salesSchema()}
	responder := &fakeResponder{reply: llm.Response{Text: "Could you clarify which year?"}}
	service := newTestService(t, &fakeResolver{executor: executor}, responder, Options{})

	resp, err := service.HandleTurn(context.Background(), Turn{Message: "sales"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if resp.SQL != nil || len(executor.executed) != 0 {
		t.Fatalf("no SQL expected, got %v", resp.SQL)
	}
}

func TestHandleTurnModelFailureIsFatal(t *testing.T) {
	responder := &fakeResponder{err: errors.New("connection refused")}
	service := newTestService(t, nil, responder, Options{})

	_, err := service.HandleTurn(context.Background(), Turn{Message: "x"})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("HandleTurn() err = %v, want ErrModelUnavailable", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("error should carry detail: %v", err)
	}
}

func TestHandleTurnModelTimeout(t *testing.T) {
	responder := &fakeResponder{wait: true}
	service := newTestService(t, nil, responder, Options{ModelTimeout: 10 * time.Millisecond})

	_, err := service.HandleTurn(context.Background(), Turn{Message: "x"})
	if !errors.Is(err, ErrModelUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("HandleTurn() err = %v", err)
	}
}

func TestNewServiceRequiresResponder(t *testing.T) {
	if _, err := NewService(nil, nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
}

package sqlagentctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlagentctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "SQL agent API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")
	dataSource := fs.String("data-source", "", "data source id for chat (default database when empty)")
	conversation := fs.String("conversation", "", "conversation id to continue")
	rawJSON := fs.Bool("json", false, "print the raw JSON response")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := http.MethodGet
	path := ""
	var payload any
	var render func(io.Writer, []byte) error
	switch command {
	case "health":
		path = "/health"
	case "ready":
		path = "/ready"
	case "chat":
		message := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if message == "" {
			_, _ = fmt.Fprintln(stderr, "chat requires a message")
			return 2
		}
		body := map[string]any{"message": message}
		if strings.TrimSpace(*dataSource) != "" {
			body["data_source_id"] = strings.TrimSpace(*dataSource)
		}
		if strings.TrimSpace(*conversation) != "" {
			body["conversation_id"] = strings.TrimSpace(*conversation)
		}
		method, path, payload, render = http.MethodPost, "/api/chat", body, renderChat
	case "dashboards":
		path, render = "/api/dashboards", listRenderer("id", "name", "charts", "updated_at")
	case "data-sources":
		path, render = "/api/data-sources", listRenderer("id", "name", "type", "host", "database", "status")
	case "rules":
		path, render = "/api/rules", listRenderer("id", "name", "scope", "active")
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if render != nil && !*rawJSON {
		if err := render(stdout, responseBody); err == nil {
			return 0
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

type chatReply struct {
	Response    string  `json:"response"`
	SQL         *string `json:"sql"`
	QueryResult *struct {
		Columns   []string         `json:"columns"`
		Rows      []map[string]any `json:"rows"`
		RowCount  int64            `json:"row_count"`
		Truncated bool             `json:"truncated"`
	} `json:"query_result"`
	Visualization *struct {
		Type string `json:"type"`
	} `json:"visualization"`
	Metadata struct {
		QueryError string `json:"query_error"`
	} `json:"metadata"`
}

// renderChat prints the model's prose, the SQL it ran and the rows as a
// table.
func renderChat(w io.Writer, raw []byte) error {
	var reply chatReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, strings.TrimSpace(reply.Response))
	if reply.SQL != nil {
		_, _ = fmt.Fprintf(w, "\nSQL:\n%s\n", strings.TrimSpace(*reply.SQL))
	}
	if reply.Metadata.QueryError != "" {
		_, _ = fmt.Fprintf(w, "\nquery error: %s\n", reply.Metadata.QueryError)
	}
	if reply.QueryResult != nil && len(reply.QueryResult.Columns) > 0 {
		_, _ = fmt.Fprintln(w)
		writeTable(w, reply.QueryResult.Columns, reply.QueryResult.Rows)
		suffix := ""
		if reply.QueryResult.Truncated {
			suffix = " (truncated)"
		}
		_, _ = fmt.Fprintf(w, "%d row(s)%s\n", reply.QueryResult.RowCount, suffix)
	}
	if reply.Visualization != nil {
		_, _ = fmt.Fprintf(w, "chart: %s\n", reply.Visualization.Type)
	}
	return nil
}

func listRenderer(columns ...string) func(io.Writer, []byte) error {
	return func(w io.Writer, raw []byte) error {
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		writeTable(w, columns, items)
		return nil
	}
}

func writeTable(w io.Writer, columns []string, rows []map[string]any) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, column := range columns {
			cells[i] = cell(row[column])
		}
		table.Append(cells)
	}
	table.Render()
}

func cell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case []any:
		return fmt.Sprintf("%d", len(typed))
	case map[string]any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	default:
		return fmt.Sprint(typed)
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlagentctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health             GET /health")
	_, _ = fmt.Fprintln(w, "  ready              GET /ready")
	_, _ = fmt.Fprintln(w, "  chat <message>     POST /api/chat")
	_, _ = fmt.Fprintln(w, "  dashboards         GET /api/dashboards")
	_, _ = fmt.Fprintln(w, "  data-sources       GET /api/data-sources")
	_, _ = fmt.Fprintln(w, "  rules              GET /api/rules")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

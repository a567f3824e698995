package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
	"github.com/rmp4/sql-agent-dashboard/internal/storage"
)

func sampleResult() query.Result {
	return query.Result{
		Columns: []string{"region", "total", "note"},
		Rows: []map[string]any{
			{"region": "east", "total": int64(10), "note": nil},
			{"region": "west", "total": 2.5, "note": []byte("late")},
		},
		RowCount: 2,
	}
}

func TestEncodeParquet(t *testing.T) {
	data, err := EncodeParquet(sampleResult())
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("NumRows() = %d", file.NumRows())
	}
	columns := file.Schema().Columns()
	if len(columns) != 3 {
		t.Fatalf("columns = %v", columns)
	}

	reader := parquet.NewReader(bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquet.Row, 2)
	count, err := reader.ReadRows(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadRows() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}

	values := map[string]parquet.Value{}
	for i, path := range columns {
		values[path[0]] = rows[0][i]
	}
	if values["region"].String() != "east" || values["total"].String() != "10" {
		t.Fatalf("first row = %v", rows[0])
	}
	if !values["note"].IsNull() {
		t.Fatalf("note should be null, got %v", values["note"])
	}
}

func TestEncodeParquetRequiresColumns(t *testing.T) {
	if _, err := EncodeParquet(query.Result{Columns: []string{}}); err == nil {
		t.Fatal("expected error for empty result")
	}
}

func TestExportUploadsUnderChartPath(t *testing.T) {
	store := &fakeStore{}
	exporter, err := NewExporter(store, time.Hour)
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}
	exporter.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC) }

	got, err := exporter.Export(context.Background(), "chart-1", sampleResult())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.HasPrefix(got.Key, "exports/chart-1/date=2026-03-04/export-") || got.Key != store.putKey {
		t.Fatalf("Key = %q, stored %q", got.Key, store.putKey)
	}
	if got.RowCount != 2 || got.Size != int64(store.putSize) || got.Size == 0 {
		t.Fatalf("export = %+v", got)
	}
	if store.contentType != parquetContentType {
		t.Fatalf("content type = %q", store.contentType)
	}
	if got.DownloadURL != "https://s3.example/"+got.Key || store.expiry != time.Hour {
		t.Fatalf("DownloadURL = %q expiry = %v", got.DownloadURL, store.expiry)
	}
}

func TestExportRejectsBadChartID(t *testing.T) {
	exporter, _ := NewExporter(&fakeStore{}, time.Hour)
	if _, err := exporter.Export(context.Background(), "../x", sampleResult()); err == nil {
		t.Fatal("expected invalid chart id error")
	}
}

func TestListUsesChartPrefix(t *testing.T) {
	store := &fakeStore{}
	exporter, _ := NewExporter(store, time.Hour)
	objects, err := exporter.List(context.Background(), "chart-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if store.listPrefix != "exports/chart-1/" {
		t.Fatalf("prefix = %q", store.listPrefix)
	}
	if objects == nil {
		t.Fatal("expected empty non-nil list")
	}
}

func TestPurgeDeletesEveryChartExport(t *testing.T) {
	store := &fakeStore{listed: []storage.ObjectInfo{
		{Key: "exports/chart-1/date=2026-03-04/export-2.parquet"},
		{Key: "exports/chart-1/date=2026-03-03/export-1.parquet"},
	}}
	exporter, _ := NewExporter(store, time.Hour)

	removed, err := exporter.Purge(context.Background(), "chart-1")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 2 || len(store.deleted) != 2 || store.deleted[1] != "exports/chart-1/date=2026-03-03/export-1.parquet" {
		t.Fatalf("removed = %d, deleted = %#v", removed, store.deleted)
	}
	if store.listPrefix != "exports/chart-1/" {
		t.Fatalf("prefix = %q", store.listPrefix)
	}
}

func TestPurgeStopsOnDeleteFailure(t *testing.T) {
	store := &fakeStore{
		listed:    []storage.ObjectInfo{{Key: "exports/chart-1/date=2026-03-04/export-2.parquet"}},
		deleteErr: errors.New("access denied"),
	}
	exporter, _ := NewExporter(store, time.Hour)
	removed, err := exporter.Purge(context.Background(), "chart-1")
	if err == nil || removed != 0 {
		t.Fatalf("Purge() = %d, %v", removed, err)
	}
}

type fakeStore struct {
	putKey      string
	putSize     int
	contentType string
	expiry      time.Duration
	listPrefix  string
	listed      []storage.ObjectInfo
	deleted     []string
	deleteErr   error
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, _ := io.ReadAll(body)
	f.putKey = key
	f.putSize = len(data)
	f.contentType = opts.ContentType
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ETag: "etag"}, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.listPrefix = prefix
	return f.listed, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	f.expiry = expiry
	return "https://s3.example/" + key, nil
}

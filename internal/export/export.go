// Package export writes saved chart results to the object store as Parquet.
package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
	"github.com/rmp4/sql-agent-dashboard/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type Export struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag,omitempty"`
	RowCount    int64     `json:"row_count"`
	DownloadURL string    `json:"download_url"`
	CreatedAt   time.Time `json:"created_at"`
}

type Exporter struct {
	store      storage.ObjectStore
	linkExpiry time.Duration
	now        func() time.Time
}

// NewExporter builds an exporter. linkExpiry bounds the presigned download
// URL returned with each export.
func NewExporter(store storage.ObjectStore, linkExpiry time.Duration) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Exporter{
		store:      store,
		linkExpiry: linkExpiry,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (e *Exporter) Export(ctx context.Context, chartID string, result query.Result) (Export, error) {
	createdAt := e.now()
	key, err := storage.BuildExportPath(chartID, createdAt)
	if err != nil {
		return Export{}, err
	}
	data, err := EncodeParquet(result)
	if err != nil {
		return Export{}, err
	}
	info, err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType})
	if err != nil {
		return Export{}, fmt.Errorf("upload export: %w", err)
	}
	link, err := e.store.PresignGet(ctx, key, e.linkExpiry)
	if err != nil {
		return Export{}, fmt.Errorf("presign export: %w", err)
	}
	return Export{
		Key:         key,
		Size:        int64(len(data)),
		ETag:        info.ETag,
		RowCount:    int64(len(result.Rows)),
		DownloadURL: link,
		CreatedAt:   createdAt,
	}, nil
}

// List returns the stored exports of a chart, newest first.
func (e *Exporter) List(ctx context.Context, chartID string) ([]storage.ObjectInfo, error) {
	prefix, err := storage.ChartExportPrefix(chartID)
	if err != nil {
		return nil, err
	}
	objects, err := e.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	return objects, nil
}

// Purge deletes every stored export of a chart and reports how many were
// removed before any failure.
func (e *Exporter) Purge(ctx context.Context, chartID string) (int, error) {
	objects, err := e.List(ctx, chartID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, object := range objects {
		if err := e.store.Delete(ctx, object.Key); err != nil {
			return removed, fmt.Errorf("delete export %s: %w", object.Key, err)
		}
		removed++
	}
	return removed, nil
}

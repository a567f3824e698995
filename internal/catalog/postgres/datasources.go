package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
)

const dataSourceColumns = `id, name, type, host, port, database, username, password, status, created_at, updated_at`

func (r *Repository) CreateDataSource(ctx context.Context, in catalog.CreateDataSourceInput) (catalog.DataSource, error) {
	ds := catalog.DataSource{
		ID:       r.newID(),
		Name:     in.Name,
		Type:     in.Type,
		Host:     in.Host,
		Port:     in.Port,
		Database: in.Database,
		Username: in.Username,
		Password: in.Password,
		Status:   catalog.DataSourceStatusDisconnected,
	}
	query := `
INSERT INTO data_source_connections (id, name, type, host, port, database, username, password, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at`
	if err := r.db.QueryRowContext(ctx, query,
		ds.ID, ds.Name, ds.Type, ds.Host, ds.Port, ds.Database, ds.Username, ds.Password, ds.Status,
	).Scan(&ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return catalog.DataSource{}, fmt.Errorf("create data source: %w", err)
	}
	return ds, nil
}

func (r *Repository) ListDataSources(ctx context.Context) ([]catalog.DataSource, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+dataSourceColumns+`
FROM data_source_connections
ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sources := make([]catalog.DataSource, 0)
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		sources = append(sources, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data sources: %w", err)
	}
	return sources, nil
}

func (r *Repository) GetDataSource(ctx context.Context, id string) (catalog.DataSource, error) {
	ds, err := scanDataSource(r.db.QueryRowContext(ctx, `
SELECT `+dataSourceColumns+`
FROM data_source_connections
WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.DataSource{}, catalog.ErrNotFound
		}
		return catalog.DataSource{}, fmt.Errorf("get data source: %w", err)
	}
	return ds, nil
}

func (r *Repository) UpdateDataSource(ctx context.Context, id string, in catalog.UpdateDataSourceInput) (catalog.DataSource, error) {
	ds, err := scanDataSource(r.db.QueryRowContext(ctx, `
UPDATE data_source_connections
SET name = COALESCE($2, name),
    type = COALESCE($3, type),
    host = COALESCE($4, host),
    port = COALESCE($5, port),
    database = COALESCE($6, database),
    username = COALESCE($7, username),
    password = COALESCE($8, password),
    updated_at = NOW()
WHERE id = $1
RETURNING `+dataSourceColumns,
		id, in.Name, in.Type, in.Host, in.Port, in.Database, in.Username, in.Password,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.DataSource{}, catalog.ErrNotFound
		}
		return catalog.DataSource{}, fmt.Errorf("update data source: %w", err)
	}
	return ds, nil
}

func (r *Repository) DeleteDataSource(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM data_source_connections WHERE id = $1`, id, "delete data source")
}

func (r *Repository) SetDataSourceStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE data_source_connections
SET status = $2, updated_at = NOW()
WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set data source status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set data source status rows affected: %w", err)
	}
	if affected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanDataSource(row rowScanner) (catalog.DataSource, error) {
	var ds catalog.DataSource
	if err := row.Scan(
		&ds.ID,
		&ds.Name,
		&ds.Type,
		&ds.Host,
		&ds.Port,
		&ds.Database,
		&ds.Username,
		&ds.Password,
		&ds.Status,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	); err != nil {
		return catalog.DataSource{}, err
	}
	return ds, nil
}

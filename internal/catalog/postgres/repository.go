package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type Repository struct {
	db    *sql.DB
	newID func() string
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, newID: uuid.NewString}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

const dashboardColumns = `id, name, description, layout, created_at, updated_at`

const chartColumns = `id, dashboard_id, title, sql, visualization, refresh_interval, data_source_id, created_at`

func (r *Repository) CreateDashboard(ctx context.Context, in catalog.CreateDashboardInput) (catalog.Dashboard, error) {
	dashboard := catalog.Dashboard{
		ID:          r.newID(),
		Name:        in.Name,
		Description: in.Description,
		Layout:      in.Layout,
		Charts:      []catalog.Chart{},
	}
	query := `
INSERT INTO dashboards (id, name, description, layout)
VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at`
	if err := r.db.QueryRowContext(ctx, query, dashboard.ID, in.Name, in.Description, nullableJSON(in.Layout)).Scan(
		&dashboard.CreatedAt,
		&dashboard.UpdatedAt,
	); err != nil {
		return catalog.Dashboard{}, fmt.Errorf("create dashboard: %w", err)
	}
	return dashboard, nil
}

func (r *Repository) ListDashboards(ctx context.Context) ([]catalog.Dashboard, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+dashboardColumns+`
FROM dashboards
ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dashboards := make([]catalog.Dashboard, 0)
	for rows.Next() {
		dashboard, err := scanDashboard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard: %w", err)
		}
		dashboards = append(dashboards, dashboard)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboards: %w", err)
	}
	if len(dashboards) == 0 {
		return dashboards, nil
	}

	charts, err := r.queryCharts(ctx, `
SELECT `+chartColumns+`
FROM saved_charts
ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	byDashboard := make(map[string][]catalog.Chart, len(dashboards))
	for _, chart := range charts {
		byDashboard[chart.DashboardID] = append(byDashboard[chart.DashboardID], chart)
	}
	for i := range dashboards {
		if charts, ok := byDashboard[dashboards[i].ID]; ok {
			dashboards[i].Charts = charts
		}
	}
	return dashboards, nil
}

func (r *Repository) GetDashboard(ctx context.Context, id string) (catalog.Dashboard, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+dashboardColumns+`
FROM dashboards
WHERE id = $1`, id)
	dashboard, err := scanDashboard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Dashboard{}, catalog.ErrNotFound
		}
		return catalog.Dashboard{}, fmt.Errorf("get dashboard: %w", err)
	}
	return r.withCharts(ctx, dashboard)
}

func (r *Repository) UpdateDashboard(ctx context.Context, id string, in catalog.UpdateDashboardInput) (catalog.Dashboard, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE dashboards
SET name = COALESCE($2, name),
    description = COALESCE($3, description),
    layout = COALESCE($4::jsonb, layout),
    updated_at = NOW()
WHERE id = $1
RETURNING `+dashboardColumns, id, in.Name, in.Description, nullableJSON(in.Layout))
	dashboard, err := scanDashboard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Dashboard{}, catalog.ErrNotFound
		}
		return catalog.Dashboard{}, fmt.Errorf("update dashboard: %w", err)
	}
	return r.withCharts(ctx, dashboard)
}

// DeleteDashboard removes the dashboard; its charts go with it through the
// foreign key cascade.
func (r *Repository) DeleteDashboard(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM dashboards WHERE id = $1`, id, "delete dashboard")
}

func (r *Repository) CreateChart(ctx context.Context, in catalog.CreateChartInput) (catalog.Chart, error) {
	chart := catalog.Chart{
		ID:              r.newID(),
		DashboardID:     in.DashboardID,
		Title:           in.Title,
		SQL:             in.SQL,
		Visualization:   in.Visualization,
		RefreshInterval: in.RefreshInterval,
		DataSourceID:    in.DataSourceID,
	}
	query := `
INSERT INTO saved_charts (id, dashboard_id, title, sql, visualization, refresh_interval, data_source_id)
SELECT $1::text, $2::text, $3::text, $4::text, $5::jsonb, $6::integer, $7::text
WHERE EXISTS (SELECT 1 FROM dashboards WHERE id = $2::text)
RETURNING created_at`
	if err := r.db.QueryRowContext(ctx, query,
		chart.ID,
		in.DashboardID,
		in.Title,
		in.SQL,
		string(in.Visualization),
		in.RefreshInterval,
		in.DataSourceID,
	).Scan(&chart.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Chart{}, catalog.ErrNotFound
		}
		return catalog.Chart{}, fmt.Errorf("create chart: %w", err)
	}
	return chart, nil
}

func (r *Repository) GetChart(ctx context.Context, id string) (catalog.Chart, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+chartColumns+`
FROM saved_charts
WHERE id = $1`, id)
	chart, err := scanChart(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Chart{}, catalog.ErrNotFound
		}
		return catalog.Chart{}, fmt.Errorf("get chart: %w", err)
	}
	return chart, nil
}

func (r *Repository) DeleteChart(ctx context.Context, id string) error {
	return r.deleteByID(ctx, `DELETE FROM saved_charts WHERE id = $1`, id, "delete chart")
}

func (r *Repository) withCharts(ctx context.Context, dashboard catalog.Dashboard) (catalog.Dashboard, error) {
	charts, err := r.queryCharts(ctx, `
SELECT `+chartColumns+`
FROM saved_charts
WHERE dashboard_id = $1
ORDER BY created_at, id`, dashboard.ID)
	if err != nil {
		return catalog.Dashboard{}, err
	}
	dashboard.Charts = charts
	return dashboard, nil
}

func (r *Repository) queryCharts(ctx context.Context, query string, args ...any) ([]catalog.Chart, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list charts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	charts := make([]catalog.Chart, 0)
	for rows.Next() {
		chart, err := scanChart(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chart: %w", err)
		}
		charts = append(charts, chart)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate charts: %w", err)
	}
	return charts, nil
}

func (r *Repository) deleteByID(ctx context.Context, query, id, op string) error {
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanDashboard(row rowScanner) (catalog.Dashboard, error) {
	var dashboard catalog.Dashboard
	if err := row.Scan(
		&dashboard.ID,
		&dashboard.Name,
		&dashboard.Description,
		&dashboard.Layout,
		&dashboard.CreatedAt,
		&dashboard.UpdatedAt,
	); err != nil {
		return catalog.Dashboard{}, err
	}
	dashboard.Charts = []catalog.Chart{}
	return dashboard, nil
}

func scanChart(row rowScanner) (catalog.Chart, error) {
	var chart catalog.Chart
	if err := row.Scan(
		&chart.ID,
		&chart.DashboardID,
		&chart.Title,
		&chart.SQL,
		&chart.Visualization,
		&chart.RefreshInterval,
		&chart.DataSourceID,
		&chart.CreatedAt,
	); err != nil {
		return catalog.Chart{}, err
	}
	return chart, nil
}

func nullableJSON(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

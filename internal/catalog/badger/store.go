// Package badger keeps the catalog in an embedded Badger key-value store for
// single-node deployments. Records are JSON values under "<kind>:<id>" keys.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
)

const (
	dashboardPrefix  = "dashboard:"
	chartPrefix      = "chart:"
	dataSourcePrefix = "datasource:"
	rulePrefix       = "rule:"
)

type Store struct {
	db    *badger.DB
	newID func() string
	now   func() time.Time
}

// Open opens or creates the store at path. An empty path keeps everything in
// memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger catalog: %w", err)
	}
	return &Store{
		db:    db,
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("badger catalog is closed")
	}
	return nil
}

func (s *Store) CreateDashboard(ctx context.Context, in catalog.CreateDashboardInput) (catalog.Dashboard, error) {
	now := s.now()
	dashboard := catalog.Dashboard{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
		Layout:      in.Layout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return putDashboard(txn, dashboard)
	})
	if err != nil {
		return catalog.Dashboard{}, fmt.Errorf("create dashboard: %w", err)
	}
	dashboard.Charts = []catalog.Chart{}
	return dashboard, nil
}

func (s *Store) ListDashboards(ctx context.Context) ([]catalog.Dashboard, error) {
	var dashboards []catalog.Dashboard
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		dashboards, err = list[catalog.Dashboard](txn, dashboardPrefix)
		if err != nil {
			return err
		}
		charts, err := list[catalog.Chart](txn, chartPrefix)
		if err != nil {
			return err
		}
		sortCharts(charts)
		byDashboard := make(map[string][]catalog.Chart)
		for _, chart := range charts {
			byDashboard[chart.DashboardID] = append(byDashboard[chart.DashboardID], chart)
		}
		for i := range dashboards {
			dashboards[i].Charts = byDashboard[dashboards[i].ID]
			if dashboards[i].Charts == nil {
				dashboards[i].Charts = []catalog.Chart{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	sort.Slice(dashboards, func(i, j int) bool {
		if !dashboards[i].CreatedAt.Equal(dashboards[j].CreatedAt) {
			return dashboards[i].CreatedAt.After(dashboards[j].CreatedAt)
		}
		return dashboards[i].ID < dashboards[j].ID
	})
	return dashboards, nil
}

func (s *Store) GetDashboard(ctx context.Context, id string) (catalog.Dashboard, error) {
	var dashboard catalog.Dashboard
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		dashboard, err = dashboardWithCharts(txn, id)
		return err
	})
	if err != nil {
		return catalog.Dashboard{}, wrap("get dashboard", err)
	}
	return dashboard, nil
}

func (s *Store) UpdateDashboard(ctx context.Context, id string, in catalog.UpdateDashboardInput) (catalog.Dashboard, error) {
	var dashboard catalog.Dashboard
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := get[catalog.Dashboard](txn, dashboardPrefix+id)
		if err != nil {
			return err
		}
		updated := in.Apply(current)
		updated.UpdatedAt = s.now()
		if err := putDashboard(txn, updated); err != nil {
			return err
		}
		dashboard, err = dashboardWithCharts(txn, id)
		return err
	})
	if err != nil {
		return catalog.Dashboard{}, wrap("update dashboard", err)
	}
	return dashboard, nil
}

// DeleteDashboard removes the dashboard together with its charts.
func (s *Store) DeleteDashboard(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := get[catalog.Dashboard](txn, dashboardPrefix+id); err != nil {
			return err
		}
		charts, err := list[catalog.Chart](txn, chartPrefix)
		if err != nil {
			return err
		}
		for _, chart := range charts {
			if chart.DashboardID != id {
				continue
			}
			if err := txn.Delete([]byte(chartPrefix + chart.ID)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(dashboardPrefix + id))
	})
	return wrap("delete dashboard", err)
}

func (s *Store) CreateChart(ctx context.Context, in catalog.CreateChartInput) (catalog.Chart, error) {
	chart := catalog.Chart{
		ID:              s.newID(),
		DashboardID:     in.DashboardID,
		Title:           in.Title,
		SQL:             in.SQL,
		Visualization:   in.Visualization,
		RefreshInterval: in.RefreshInterval,
		DataSourceID:    in.DataSourceID,
		CreatedAt:       s.now(),
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := get[catalog.Dashboard](txn, dashboardPrefix+in.DashboardID); err != nil {
			return err
		}
		return put(txn, chartPrefix+chart.ID, chart)
	})
	if err != nil {
		return catalog.Chart{}, wrap("create chart", err)
	}
	return chart, nil
}

func (s *Store) GetChart(ctx context.Context, id string) (catalog.Chart, error) {
	var chart catalog.Chart
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		chart, err = get[catalog.Chart](txn, chartPrefix+id)
		return err
	})
	if err != nil {
		return catalog.Chart{}, wrap("get chart", err)
	}
	return chart, nil
}

func (s *Store) DeleteChart(ctx context.Context, id string) error {
	return wrap("delete chart", s.deleteKey(chartPrefix+id))
}

func (s *Store) CreateDataSource(ctx context.Context, in catalog.CreateDataSourceInput) (catalog.DataSource, error) {
	now := s.now()
	ds := catalog.DataSource{
		ID:        s.newID(),
		Name:      in.Name,
		Type:      in.Type,
		Host:      in.Host,
		Port:      in.Port,
		Database:  in.Database,
		Username:  in.Username,
		Password:  in.Password,
		Status:    catalog.DataSourceStatusDisconnected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return put(txn, dataSourcePrefix+ds.ID, ds)
	})
	if err != nil {
		return catalog.DataSource{}, fmt.Errorf("create data source: %w", err)
	}
	return ds, nil
}

func (s *Store) ListDataSources(ctx context.Context) ([]catalog.DataSource, error) {
	var sources []catalog.DataSource
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sources, err = list[catalog.DataSource](txn, dataSourcePrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	sort.Slice(sources, func(i, j int) bool {
		return earlier(sources[i].CreatedAt, sources[i].ID, sources[j].CreatedAt, sources[j].ID)
	})
	return sources, nil
}

func (s *Store) GetDataSource(ctx context.Context, id string) (catalog.DataSource, error) {
	var ds catalog.DataSource
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ds, err = get[catalog.DataSource](txn, dataSourcePrefix+id)
		return err
	})
	if err != nil {
		return catalog.DataSource{}, wrap("get data source", err)
	}
	return ds, nil
}

func (s *Store) UpdateDataSource(ctx context.Context, id string, in catalog.UpdateDataSourceInput) (catalog.DataSource, error) {
	var ds catalog.DataSource
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := get[catalog.DataSource](txn, dataSourcePrefix+id)
		if err != nil {
			return err
		}
		ds = in.Apply(current)
		ds.UpdatedAt = s.now()
		return put(txn, dataSourcePrefix+id, ds)
	})
	if err != nil {
		return catalog.DataSource{}, wrap("update data source", err)
	}
	return ds, nil
}

func (s *Store) DeleteDataSource(ctx context.Context, id string) error {
	return wrap("delete data source", s.deleteKey(dataSourcePrefix+id))
}

func (s *Store) SetDataSourceStatus(ctx context.Context, id, status string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		ds, err := get[catalog.DataSource](txn, dataSourcePrefix+id)
		if err != nil {
			return err
		}
		ds.Status = status
		ds.UpdatedAt = s.now()
		return put(txn, dataSourcePrefix+id, ds)
	})
	return wrap("set data source status", err)
}

func (s *Store) CreateRule(ctx context.Context, in catalog.CreateRuleInput) (catalog.Rule, error) {
	now := s.now()
	rule := catalog.Rule{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
		Scope:       in.Scope,
		Prompt:      in.Prompt,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Active != nil {
		rule.Active = *in.Active
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return put(txn, rulePrefix+rule.ID, rule)
	})
	if err != nil {
		return catalog.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context) ([]catalog.Rule, error) {
	var rules []catalog.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rules, err = list[catalog.Rule](txn, rulePrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool {
		return earlier(rules[i].CreatedAt, rules[i].ID, rules[j].CreatedAt, rules[j].ID)
	})
	return rules, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (catalog.Rule, error) {
	var rule catalog.Rule
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rule, err = get[catalog.Rule](txn, rulePrefix+id)
		return err
	})
	if err != nil {
		return catalog.Rule{}, wrap("get rule", err)
	}
	return rule, nil
}

func (s *Store) UpdateRule(ctx context.Context, id string, in catalog.UpdateRuleInput) (catalog.Rule, error) {
	var rule catalog.Rule
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := get[catalog.Rule](txn, rulePrefix+id)
		if err != nil {
			return err
		}
		rule = in.Apply(current)
		rule.UpdatedAt = s.now()
		return put(txn, rulePrefix+id, rule)
	})
	if err != nil {
		return catalog.Rule{}, wrap("update rule", err)
	}
	return rule, nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return wrap("delete rule", s.deleteKey(rulePrefix+id))
}

func (s *Store) deleteKey(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
}

func dashboardWithCharts(txn *badger.Txn, id string) (catalog.Dashboard, error) {
	dashboard, err := get[catalog.Dashboard](txn, dashboardPrefix+id)
	if err != nil {
		return catalog.Dashboard{}, err
	}
	charts, err := list[catalog.Chart](txn, chartPrefix)
	if err != nil {
		return catalog.Dashboard{}, err
	}
	sortCharts(charts)
	dashboard.Charts = []catalog.Chart{}
	for _, chart := range charts {
		if chart.DashboardID == id {
			dashboard.Charts = append(dashboard.Charts, chart)
		}
	}
	return dashboard, nil
}

// putDashboard stores the dashboard without its charts; charts live under
// their own keys.
func putDashboard(txn *badger.Txn, dashboard catalog.Dashboard) error {
	dashboard.Charts = nil
	return put(txn, dashboardPrefix+dashboard.ID, dashboard)
}

func put(txn *badger.Txn, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func get[T any](txn *badger.Txn, key string) (T, error) {
	var value T
	item, err := txn.Get([]byte(key))
	if err != nil {
		return value, err
	}
	err = item.Value(func(data []byte) error {
		return json.Unmarshal(data, &value)
	})
	if err != nil {
		return value, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, nil
}

func list[T any](txn *badger.Txn, prefix string) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	values := make([]T, 0)
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var value T
		err := item.Value(func(data []byte) error {
			return json.Unmarshal(data, &value)
		})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		values = append(values, value)
	}
	return values, nil
}

func sortCharts(charts []catalog.Chart) {
	sort.Slice(charts, func(i, j int) bool {
		return earlier(charts[i].CreatedAt, charts[i].ID, charts[j].CreatedAt, charts[j].ID)
	})
}

func earlier(a time.Time, aID string, b time.Time, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return catalog.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Package catalog holds the saved objects of the dashboard service:
// dashboards with their charts, data-source connections and prompt rules.
package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

const (
	DataSourceStatusDisconnected = "disconnected"
	DataSourceStatusConnected    = "connected"
	DataSourceStatusError        = "error"
)

type Repository interface {
	HealthCheck(ctx context.Context) error
	DashboardRepository
	DataSourceRepository
	RuleRepository
}

type DashboardRepository interface {
	CreateDashboard(ctx context.Context, in CreateDashboardInput) (Dashboard, error)
	ListDashboards(ctx context.Context) ([]Dashboard, error)
	GetDashboard(ctx context.Context, id string) (Dashboard, error)
	UpdateDashboard(ctx context.Context, id string, in UpdateDashboardInput) (Dashboard, error)
	DeleteDashboard(ctx context.Context, id string) error
	CreateChart(ctx context.Context, in CreateChartInput) (Chart, error)
	GetChart(ctx context.Context, id string) (Chart, error)
	DeleteChart(ctx context.Context, id string) error
}

type DataSourceRepository interface {
	CreateDataSource(ctx context.Context, in CreateDataSourceInput) (DataSource, error)
	ListDataSources(ctx context.Context) ([]DataSource, error)
	GetDataSource(ctx context.Context, id string) (DataSource, error)
	UpdateDataSource(ctx context.Context, id string, in UpdateDataSourceInput) (DataSource, error)
	DeleteDataSource(ctx context.Context, id string) error
	SetDataSourceStatus(ctx context.Context, id, status string) error
}

type RuleRepository interface {
	CreateRule(ctx context.Context, in CreateRuleInput) (Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (Rule, error)
	UpdateRule(ctx context.Context, id string, in UpdateRuleInput) (Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

type Dashboard struct {
	ID          string
	Name        string
	Description *string
	Layout      []byte
	Charts      []Chart
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chart is a saved query with its chart configuration. Visualization holds
// the JSON object produced by a chat turn.
type Chart struct {
	ID              string
	DashboardID     string
	Title           string
	SQL             string
	Visualization   []byte
	RefreshInterval *int
	DataSourceID    *string
	CreatedAt       time.Time
}

type DataSource struct {
	ID        string
	Name      string
	Type      string
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Rule struct {
	ID          string
	Name        string
	Description string
	Scope       string
	Prompt      string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateDashboardInput struct {
	Name        string
	Description *string
	Layout      []byte
}

// UpdateDashboardInput leaves nil fields unchanged.
type UpdateDashboardInput struct {
	Name        *string
	Description *string
	Layout      []byte
}

type CreateChartInput struct {
	DashboardID     string
	Title           string
	SQL             string
	Visualization   []byte
	RefreshInterval *int
	DataSourceID    *string
}

type CreateDataSourceInput struct {
	Name     string
	Type     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

type UpdateDataSourceInput struct {
	Name     *string
	Type     *string
	Host     *string
	Port     *int
	Database *string
	Username *string
	Password *string
}

type CreateRuleInput struct {
	Name        string
	Description string
	Scope       string
	Prompt      string
	Active      *bool
}

type UpdateRuleInput struct {
	Name        *string
	Description *string
	Scope       *string
	Prompt      *string
	Active      *bool
}

// Apply copies the set fields of in onto ds.
func (in UpdateDataSourceInput) Apply(ds DataSource) DataSource {
	setString(&ds.Name, in.Name)
	setString(&ds.Type, in.Type)
	setString(&ds.Host, in.Host)
	if in.Port != nil {
		ds.Port = *in.Port
	}
	setString(&ds.Database, in.Database)
	setString(&ds.Username, in.Username)
	setString(&ds.Password, in.Password)
	return ds
}

func (in UpdateRuleInput) Apply(rule Rule) Rule {
	setString(&rule.Name, in.Name)
	setString(&rule.Description, in.Description)
	setString(&rule.Scope, in.Scope)
	setString(&rule.Prompt, in.Prompt)
	if in.Active != nil {
		rule.Active = *in.Active
	}
	return rule
}

func (in UpdateDashboardInput) Apply(dashboard Dashboard) Dashboard {
	setString(&dashboard.Name, in.Name)
	if in.Description != nil {
		value := *in.Description
		dashboard.Description = &value
	}
	if in.Layout != nil {
		dashboard.Layout = append([]byte(nil), in.Layout...)
	}
	return dashboard
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = *value
	}
}

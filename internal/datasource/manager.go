package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
	"github.com/rmp4/sql-agent-dashboard/internal/query"
	"github.com/rmp4/sql-agent-dashboard/internal/query/sqldb"
)

// DefaultKey names the pool opened from the configured database URL.
const DefaultKey = "default"

type Options struct {
	DefaultURL string
	Pool       sqldb.PoolConfig
	MaxRows    int
	SchemaTTL  time.Duration
	Logger     *slog.Logger
}

type OpenFunc func(dialect, dsn string, pool sqldb.PoolConfig) (*sql.DB, error)

// Manager resolves data sources to executors. Pools are kept per data source
// and reopened when the stored connection details change.
type Manager struct {
	sources catalog.DataSourceRepository
	opts    Options
	open    OpenFunc
	logger  *slog.Logger
	schemas *cache.Cache

	mu    sync.Mutex
	pools map[string]*pool
}

type pool struct {
	target   Target
	executor *sqldb.Executor
}

// NewManager builds a manager. sources may be nil when only the default
// database is used.
func NewManager(sources catalog.DataSourceRepository, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sources: sources,
		opts:    opts,
		open:    sqldb.Open,
		logger:  logger,
		pools:   map[string]*pool{},
	}
	if opts.SchemaTTL > 0 {
		m.schemas = cache.New(opts.SchemaTTL, 2*opts.SchemaTTL)
	}
	return m
}

// WithOpenFunc replaces the pool constructor.
func (m *Manager) WithOpenFunc(open OpenFunc) *Manager {
	m.open = open
	return m
}

// Resolve returns the executor for id, or for the default database when id
// is empty. It fails with query.ErrNotConfigured when nothing is configured.
func (m *Manager) Resolve(ctx context.Context, id string) (query.Executor, error) {
	key, target, err := m.target(ctx, id)
	if err != nil {
		return nil, err
	}
	executor, err := m.pooled(key, target)
	if err != nil {
		return nil, err
	}
	return &cachedExecutor{Executor: executor, key: key, schemas: m.schemas}, nil
}

func (m *Manager) target(ctx context.Context, id string) (string, Target, error) {
	if id == "" {
		if m.opts.DefaultURL == "" {
			return "", Target{}, query.ErrNotConfigured
		}
		target, err := ParseURL(m.opts.DefaultURL)
		if err != nil {
			return "", Target{}, fmt.Errorf("default database: %w", err)
		}
		return DefaultKey, target, nil
	}
	if m.sources == nil {
		return "", Target{}, query.ErrNotConfigured
	}
	ds, err := m.sources.GetDataSource(ctx, id)
	if err != nil {
		return "", Target{}, fmt.Errorf("load data source %s: %w", id, err)
	}
	target, err := BuildTarget(ds)
	if err != nil {
		return "", Target{}, fmt.Errorf("data source %s: %w", id, err)
	}
	return id, target, nil
}

func (m *Manager) pooled(key string, target Target) (*sqldb.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pools[key]; ok {
		if existing.target == target {
			return existing.executor, nil
		}
		m.logger.Info("data source changed, reopening pool", slog.String("data_source", key))
		m.dropLocked(key)
	}

	executor, err := m.Open(target)
	if err != nil {
		return nil, err
	}
	m.pools[key] = &pool{target: target, executor: executor}
	return executor, nil
}

// Open creates a standalone executor outside the pool map. The caller owns
// it and must Close it.
func (m *Manager) Open(target Target) (*sqldb.Executor, error) {
	db, err := m.open(target.Dialect, target.DSN, m.opts.Pool)
	if err != nil {
		return nil, err
	}
	executor, err := sqldb.New(db, target.Dialect, m.opts.MaxRows)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return executor, nil
}

// Session is an executor owned by a single request.
type Session interface {
	query.Executor
	Close() error
}

// OpenURL opens a Session for a database URL.
func (m *Manager) OpenURL(raw string) (Session, error) {
	target, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	executor, err := m.Open(target)
	if err != nil {
		return nil, err
	}
	return executor, nil
}

// Invalidate closes the pool for id and forgets its cached schema.
func (m *Manager) Invalidate(id string) {
	if id == "" {
		id = DefaultKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(id)
}

func (m *Manager) dropLocked(key string) {
	if existing, ok := m.pools[key]; ok {
		if err := existing.executor.Close(); err != nil {
			m.logger.Warn("close data source pool failed", slog.String("data_source", key), slog.Any("error", err))
		}
		delete(m.pools, key)
	}
	if m.schemas != nil {
		m.schemas.Delete(key)
	}
}

// Pools lists the keys of open pools.
func (m *Manager) Pools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.pools))
	for key := range m.pools {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for key, existing := range m.pools {
		if err := existing.executor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
		delete(m.pools, key)
	}
	if m.schemas != nil {
		m.schemas.Flush()
	}
	return errors.Join(errs...)
}

// cachedExecutor serves Schema from the TTL cache when one is configured.
type cachedExecutor struct {
	*sqldb.Executor
	key     string
	schemas *cache.Cache
}

func (c *cachedExecutor) Schema(ctx context.Context) (query.Schema, error) {
	if c.schemas == nil {
		return c.Executor.Schema(ctx)
	}
	if cached, found := c.schemas.Get(c.key); found {
		return cached.(query.Schema), nil
	}
	schema, err := c.Executor.Schema(ctx)
	if err != nil {
		return nil, err
	}
	c.schemas.SetDefault(c.key, schema)
	return schema, nil
}

// Package datasource turns stored connections and database URLs into
// executors and keeps their pools alive between requests.
package datasource

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
	"github.com/rmp4/sql-agent-dashboard/internal/query/sqldb"
)

// Target is everything needed to open a pool.
type Target struct {
	Dialect string
	DSN     string
}

// NormalizeType maps connection type aliases onto sqldb dialect names.
func NormalizeType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "postgresql", "postgres", "pg":
		return sqldb.DialectPostgres
	case "mysql", "mariadb":
		return sqldb.DialectMySQL
	case "sqlite", "sqlite3":
		return sqldb.DialectSQLite
	case "mssql", "sqlserver":
		return sqldb.DialectSQLServer
	case "duckdb":
		return sqldb.DialectDuckDB
	default:
		return strings.ToLower(strings.TrimSpace(kind))
	}
}

// BuildTarget derives the driver DSN for a stored data source.
func BuildTarget(ds catalog.DataSource) (Target, error) {
	dialect := NormalizeType(ds.Type)
	host := hostPort(ds.Host, ds.Port)

	switch dialect {
	case sqldb.DialectPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     userInfo(ds.Username, ds.Password),
			Host:     host,
			Path:     "/" + ds.Database,
			RawQuery: "sslmode=disable",
		}
		return Target{Dialect: dialect, DSN: u.String()}, nil
	case sqldb.DialectMySQL:
		cfg := mysqlConfig(ds.Username, ds.Password, host, ds.Database)
		return Target{Dialect: dialect, DSN: cfg.FormatDSN()}, nil
	case sqldb.DialectSQLServer:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     userInfo(ds.Username, ds.Password),
			Host:     host,
			RawQuery: url.Values{"database": {ds.Database}}.Encode(),
		}
		return Target{Dialect: dialect, DSN: u.String()}, nil
	case sqldb.DialectSQLite:
		if ds.Database == "" {
			return Target{}, fmt.Errorf("sqlite data source needs a file path in database")
		}
		return Target{Dialect: dialect, DSN: ds.Database}, nil
	case sqldb.DialectDuckDB:
		return Target{Dialect: dialect, DSN: ds.Database}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database type: %s", ds.Type)
	}
}

// ParseURL accepts SQLAlchemy-style database URLs such as
// postgresql+psycopg2://u:p@host/db or sqlite:///relative.db. A "+driver"
// suffix on the scheme is ignored.
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return Target{}, fmt.Errorf("invalid database url: missing scheme")
	}
	scheme, _, _ = strings.Cut(scheme, "+")
	dialect := NormalizeType(scheme)

	switch dialect {
	case sqldb.DialectSQLite:
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			path = ":memory:"
		}
		return Target{Dialect: dialect, DSN: path}, nil
	case sqldb.DialectDuckDB:
		path := strings.TrimPrefix(rest, "/")
		if path == ":memory:" {
			path = ""
		}
		return Target{Dialect: dialect, DSN: path}, nil
	}

	u, err := url.Parse("db://" + rest)
	if err != nil {
		return Target{}, fmt.Errorf("invalid database url: %w", err)
	}
	database := strings.TrimPrefix(u.Path, "/")
	password, _ := u.User.Password()

	switch dialect {
	case sqldb.DialectPostgres:
		u.Scheme = "postgres"
		return Target{Dialect: dialect, DSN: u.String()}, nil
	case sqldb.DialectMySQL:
		host := u.Host
		if u.Port() == "" && host != "" {
			host = net.JoinHostPort(host, "3306")
		}
		cfg := mysqlConfig(u.User.Username(), password, host, database)
		for key, values := range u.Query() {
			if len(values) > 0 && key != "charset" {
				cfg.Params[key] = values[0]
			}
		}
		return Target{Dialect: dialect, DSN: cfg.FormatDSN()}, nil
	case sqldb.DialectSQLServer:
		out := url.URL{Scheme: "sqlserver", User: u.User, Host: u.Host}
		if database != "" {
			out.RawQuery = url.Values{"database": {database}}.Encode()
		}
		return Target{Dialect: dialect, DSN: out.String()}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database url scheme: %s", scheme)
	}
}

func mysqlConfig(user, password, addr, database string) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Params = map[string]string{}
	return cfg
}

func userInfo(username, password string) *url.Userinfo {
	if username == "" {
		return nil
	}
	return url.UserPassword(username, password)
}

func hostPort(host string, port int) string {
	if port <= 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

package relational

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/lexstore/pkg/core"

	_ "github.com/jackc/pgx/v5/stdlib"  // postgres driver "pgx"
	_ "github.com/marcboeker/go-duckdb" // duckdb driver "duckdb"
)

// Default relational settings.
const (
	DefaultDBPath        = "lexicon.db"
	DefaultBusyTimeoutMS = 5000
)

// Params holds relational-specific configuration.
// Parsed from core.BackendConfig.Params using mapstructure.
type Params struct {
	// Driver selects the SQLite driver: "sqlite" (pure Go, default) or
	// "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`

	// MaxOpenConns caps the connection pool; 0 leaves the driver default.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// BusyTimeoutMS is how long SQLite waits on a locked database.
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms"`
}

// DecodeParams decodes raw backend params.
func DecodeParams(raw map[string]any) (Params, error) {
	p := Params{BusyTimeoutMS: DefaultBusyTimeoutMS}
	if len(raw) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("invalid relational params: %w", err)
	}
	return p, nil
}

// target is a resolved connection: driver name, DSN and dialect.
type target struct {
	driver  string
	dsn     string
	dialect dialect
	memory  bool
}

// resolveTarget picks the engine from the database URL override, falling
// back to a SQLite file at cfg.DBPath.
func resolveTarget(cfg core.BackendConfig, p Params) (target, error) {
	if cfg.DatabaseURL != "" {
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return target{}, fmt.Errorf("invalid database url: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "postgres", "postgresql":
			return target{driver: "pgx", dsn: cfg.DatabaseURL, dialect: postgresDialect{}}, nil
		case "duckdb":
			path := urlPath(cfg.DatabaseURL, u.Scheme)
			return target{driver: "duckdb", dsn: path, dialect: duckdbDialect{}, memory: path == ""}, nil
		case "sqlite", "sqlite3", "file":
			return sqliteTarget(urlPath(cfg.DatabaseURL, u.Scheme), p)
		default:
			return target{}, fmt.Errorf("unsupported database url scheme %q", u.Scheme)
		}
	}

	path := cfg.DBPath
	if path == "" {
		path = DefaultDBPath
	}
	return sqliteTarget(path, p)
}

// urlPath strips "scheme://" (or "scheme:") from raw, keeping relative paths.
func urlPath(raw, scheme string) string {
	rest := raw[len(scheme):]
	rest = strings.TrimPrefix(rest, ":")
	return strings.TrimPrefix(rest, "//")
}

func sqliteTarget(path string, p Params) (target, error) {
	memory := path == "" || path == ":memory:"
	if memory {
		path = ":memory:"
	}
	switch p.Driver {
	case "", "sqlite":
		dsn := path
		if !memory {
			dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, p.BusyTimeoutMS)
		}
		return target{driver: "sqlite", dsn: dsn, dialect: sqliteDialect{}, memory: memory}, nil
	case "sqlite3":
		dsn := path
		if !memory {
			dsn = fmt.Sprintf("%s?_busy_timeout=%d", path, p.BusyTimeoutMS)
		}
		return target{driver: "sqlite3", dsn: dsn, dialect: sqliteDialect{}, memory: memory}, nil
	default:
		return target{}, fmt.Errorf("unsupported sqlite driver %q", p.Driver)
	}
}

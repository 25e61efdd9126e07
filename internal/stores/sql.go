package stores

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
)

// SQLStore is the relational-A handle backed by database/sql.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL prepares a database/sql pool for the configured driver. No connection is made
// until the first Ping or query.
func OpenSQL(cfg config.MySQLConfig) (*SQLStore, error) {
	driver, dsn, err := sqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewSQLStore(db), nil
}

// NewSQLStore wraps an existing pool.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func sqlDSN(cfg config.MySQLConfig) (string, string, error) {
	switch cfg.Driver {
	case "", config.DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Database
		return "mysql", mc.FormatDSN(), nil
	case config.DriverSQLite:
		return "sqlite", cfg.Database, nil
	default:
		return "", "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// Kind implements Handle.
func (s *SQLStore) Kind() Kind { return KindMySQL }

// Ping implements Handle.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// QueryScalar runs query and renders the first column of the first row.
func (s *SQLStore) QueryScalar(ctx context.Context, query string) (string, error) {
	var value interface{}
	if err := s.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return "", err
	}
	return formatScalar(value), nil
}

func formatScalar(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return decimal.NewFromFloat(v).String()
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

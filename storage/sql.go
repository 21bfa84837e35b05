package storage

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// Options describe how to reach a MemSQL node over the MySQL protocol.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string        // e.g. "information_schema"
	Timeout  time.Duration // dial timeout, zero means the driver default

	// IOTimeout bounds every read and write on the socket so a half-open
	// connection surfaces as an error. Zero means no limit.
	IOTimeout time.Duration
}

// SQLConn adapts a *sql.DB to Conn. The pool is pinned to a single open
// connection so that session state and ownership stay with one goroutine.
type SQLConn struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenMySQL connects to a MemSQL node and verifies the connection with a
// ping. The caller must call Close() when done.
func OpenMySQL(ctx context.Context, opts Options, log *zap.Logger) (*SQLConn, error) {
	cfg := mysqlConfig(opts)
	c, err := Open("mysql", cfg.FormatDSN(), log)
	if err != nil {
		return nil, err
	}
	if err := c.db.PingContext(ctx); err != nil {
		_ = c.db.Close()
		return nil, errors.Wrapf(err, "connect to %s", cfg.Addr)
	}
	log.Debug("connected", zap.String("addr", cfg.Addr), zap.String("user", opts.User))
	return c, nil
}

func mysqlConfig(opts Options) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.DBName = opts.Database
	cfg.Timeout = opts.Timeout
	cfg.ReadTimeout = opts.IOTimeout
	cfg.WriteTimeout = opts.IOTimeout
	return cfg
}

// Open wraps sql.Open for any registered driver without pinging.
func Open(driver, dsn string, log *zap.Logger) (*SQLConn, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s db", driver)
	}
	return New(db, log), nil
}

// New wraps an already opened database.
func New(db *sql.DB, log *zap.Logger) *SQLConn {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLConn{db: db, log: log}
}

// Query implements Conn.
func (c *SQLConn) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "read columns")
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

// Get implements Conn.
func (c *SQLConn) Get(ctx context.Context, query string) (Row, error) {
	rows, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(ErrNoRows, "%s", query)
	}
	row, err := rows.Row()
	if err != nil {
		return nil, err
	}
	if rows.Next() {
		return nil, errors.Newf("expected one row from %q, got more", query)
	}
	return row, rows.Err()
}

// Close shuts down the database connection.
func (c *SQLConn) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Row() (Row, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrap(err, "scan row")
	}

	row := make(Row, len(r.cols))
	for i, col := range r.cols {
		// The text protocol hands numbers back as []byte.
		if b, ok := vals[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = vals[i]
	}
	return row, nil
}

func (r *sqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return errors.Wrap(err, "iterate rows")
	}
	return nil
}

func (r *sqlRows) Close() error { return r.rows.Close() }

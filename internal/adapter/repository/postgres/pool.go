package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

// DefaultConnectTimeout bounds how long a caller waits for a free connection.
const DefaultConnectTimeout = 5 * time.Second

// Pool implements domain.Pool on top of a database/sql connection pool.
// Every operation first acquires a dedicated connection under the connect
// timeout, then runs with the caller's context.
type Pool struct {
	db             *sql.DB
	name           string
	connectTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// NewPool wraps an already opened *sql.DB.
func NewPool(db *sql.DB, name string, connectTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Pool {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Pool{
		db:             db,
		name:           name,
		connectTimeout: connectTimeout,
		logger:         logger.With("component", "postgres_pool", "pool", name),
		metrics:        m,
	}
}

// DB exposes the underlying pool, e.g. for stats collectors.
func (p *Pool) DB() *sql.DB { return p.db }

// Exec runs a statement that returns no rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := p.withConn(ctx, func(conn *sql.Conn) error {
		var err error
		res, err = conn.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Query runs a query and hands the rows to fn. Rows are closed afterwards.
func (p *Pool) Query(ctx context.Context, fn domain.RowsFunc, query string, args ...any) error {
	return p.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := fn(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// Ping is the liveness probe: acquire a connection and ping it.
func (p *Pool) Ping(ctx context.Context) error {
	return p.withConn(ctx, func(conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

// Close drains the pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

func (p *Pool) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	conn, err := p.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if p.isAcquireTimeout(ctx, err) {
			if p.metrics != nil {
				p.metrics.PoolTimeoutsTotal.WithLabelValues(p.name).Inc()
			}
			p.logger.Warn("connection acquisition timed out", "timeout", p.connectTimeout)
			return fmt.Errorf("%w: %s after %s", domain.ErrPoolTimeout, p.name, p.connectTimeout)
		}
		return fmt.Errorf("acquire connection for %s: %w", p.name, err)
	}
	defer conn.Close()

	return fn(conn)
}

// isAcquireTimeout separates our own connect deadline from a caller that gave up.
func (p *Pool) isAcquireTimeout(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/V4T54L/schoolpulse/internal/adapter/metrics"
	"github.com/V4T54L/schoolpulse/internal/domain"
)

const (
	defaultPort         = 5432
	defaultSSLMode      = "disable"
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 2
	defaultMaxIdleTime  = 30 * time.Second
)

// Opener opens lib/pq backed pools. Opening does not dial; the first
// connection is established lazily by the first probe or query.
type Opener struct {
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Registerer     prometheus.Registerer // optional, for DB stats
}

var _ domain.PoolOpener = (*Opener)(nil)

// Open creates the pool for one backing store.
func (o *Opener) Open(name string, params domain.ConnParams) (domain.Pool, error) {
	db, err := sql.Open("postgres", DSN(params, o.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("open pool %s: %w", name, err)
	}
	configure(db, params)

	if o.Registerer != nil {
		err := o.Registerer.Register(collectors.NewDBStatsCollector(db, name))
		var already prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &already) {
			o.Logger.Warn("failed to register pool stats collector", "pool", name, "error", err)
		}
	}

	o.Logger.Info("opened pool", "pool", name, "host", params.Host, "database", params.Database,
		"max_open_conns", db.Stats().MaxOpenConnections)
	return NewPool(db, name, o.ConnectTimeout, o.Logger, o.Metrics), nil
}

func configure(db *sql.DB, params domain.ConnParams) {
	maxOpen := params.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := params.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	idleTime := params.ConnMaxIdleTime
	if idleTime <= 0 {
		idleTime = defaultMaxIdleTime
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxIdleTime(idleTime)
	db.SetConnMaxLifetime(params.ConnMaxLifetime)
}

// DSN renders connection parameters as a lib/pq URL.
func DSN(params domain.ConnParams, connectTimeout time.Duration) string {
	port := params.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := params.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(params.Host, strconv.Itoa(port)),
		Path:   "/" + params.Database,
	}
	switch {
	case params.User != "" && params.Password != "":
		u.User = url.UserPassword(params.User, params.Password)
	case params.User != "":
		u.User = url.User(params.User)
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if connectTimeout > 0 {
		// lib/pq only accepts whole seconds; round up so sub-second values still apply.
		secs := int((connectTimeout + time.Second - 1) / time.Second)
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/pkg/logger"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverMySQL    = string(DialectMySQL)
	DriverPostgres = string(DialectPostgres)
)

// Open returns the store for driver. SQL drivers get a tuned pool and must
// answer a ping before Open returns.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	const op = "repository.open"

	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(opts...), nil
	case DriverMySQL:
		// UpdateReport counts matched rows, not changed rows.
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %w", ErrConnect, err))
		}
		cfg.ClientFoundRows = true
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	case DriverPostgres:
	default:
		return nil, failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %q", ErrUnknownDriver, driver))
	}

	o := buildOptions(opts)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %w", ErrConnect, err))
	}
	db.SetMaxOpenConns(o.maxOpen)
	db.SetMaxIdleConns(o.maxIdle)
	db.SetConnMaxLifetime(o.maxLifetime)

	pctx, cancel := context.WithTimeout(ctx, o.pingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %w", ErrConnect, err))
	}

	o.logger.Info(ctx, "database connected", logger.String("driver", driver))
	return NewSQLStore(db, Dialect(driver), opts...), nil
}

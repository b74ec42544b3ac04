// Package journal persists one row per erase attempt.
//
// Writes are best effort from the caller's point of view: the erase flow logs
// a journal failure and carries on. Two backends share the api_calls schema,
// an embedded SQLite file for single-node deployments and Postgres.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DefaultLimit caps list queries when the caller passes no limit.
	DefaultLimit = 100
	// MaxLimit caps list queries regardless of the caller.
	MaxLimit = 1000
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("journal: record not found")

// Options selects and configures a backend.
type Options struct {
	Driver string
	DSN    string
}

// New opens the configured backend and makes sure the schema exists.
func New(ctx context.Context, opts Options, logger *zap.Logger) (schemas.Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite:
		return OpenSQLite(ctx, opts.DSN, logger)
	case DriverPostgres, "postgresql", "pgx":
		pool, err := pgxpool.New(ctx, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		j, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", opts.Driver)
	}
}

// clampLimit normalizes a caller supplied row limit.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// successRate renders success/total as a percentage with two decimals.
func successRate(success, total int64) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", float64(success)/float64(total)*100)
}

// startOfDay is the UTC midnight that opens the day containing t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNil(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

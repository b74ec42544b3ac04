package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const postgresSchema = `
        CREATE TABLE IF NOT EXISTS api_calls (
            id BIGSERIAL PRIMARY KEY,
            ip_address TEXT NOT NULL,
            user_agent TEXT,
            image_filename TEXT,
            image_data BYTEA,
            image_content_type TEXT,
            image_size_bytes BIGINT,
            image_width INTEGER,
            image_height INTEGER,
            token TEXT,
            e_id TEXT,
            result_url TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS idx_api_calls_token ON api_calls(token);
        CREATE INDEX IF NOT EXISTS idx_api_calls_e_id ON api_calls(e_id);
        CREATE INDEX IF NOT EXISTS idx_api_calls_ip ON api_calls(ip_address);
        CREATE INDEX IF NOT EXISTS idx_api_calls_created_at ON api_calls(created_at);
    `

// PostgresJournal provides a PostgreSQL implementation of the journal.
type PostgresJournal struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// NewPostgres verifies the connection and creates the schema if needed.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return &PostgresJournal{pool: pool, log: logger.Named("journal"), now: time.Now}, nil
}

// Record inserts a call and returns its id.
func (j *PostgresJournal) Record(ctx context.Context, rec schemas.CallRecord) (int64, error) {
	sql := `
        INSERT INTO api_calls (
            ip_address, user_agent, image_filename, image_data, image_content_type, image_size_bytes,
            image_width, image_height, token, e_id, result_url, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
        RETURNING id;
    `
	var id int64
	err := j.pool.QueryRow(ctx, sql,
		rec.IPAddress, rec.UserAgent, nullIfEmpty(rec.ImageFilename), rec.ImageData,
		nullIfEmpty(rec.ImageContentType), rec.ImageSizeBytes,
		nullIfNil(rec.ImageWidth), nullIfNil(rec.ImageHeight),
		nullIfEmpty(rec.Token), nullIfEmpty(rec.DeviceID), nullIfEmpty(rec.ResultURL),
		j.now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert api call: %w", err)
	}
	j.log.Info("API call recorded.", zap.Int64("id", id), zap.String("token", rec.Token), zap.String("ip", rec.IPAddress))
	return id, nil
}

// SetResultURL patches the result url of every row carrying token and reports
// whether any row matched.
func (j *PostgresJournal) SetResultURL(ctx context.Context, token, url string) (bool, error) {
	tag, err := j.pool.Exec(ctx,
		`UPDATE api_calls SET result_url = $1, updated_at = $2 WHERE token = $3`,
		url, j.now().UTC(), token,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update result url: %w", err)
	}
	if tag.RowsAffected() > 0 {
		j.log.Info("Result url updated.", zap.String("token", token))
	}
	return tag.RowsAffected() > 0, nil
}

// ByToken returns the most recent call carrying token.
func (j *PostgresJournal) ByToken(ctx context.Context, token string) (*schemas.CallRecord, error) {
	sql := `SELECT ` + callColumns + ` FROM api_calls WHERE token = $1 ORDER BY id DESC LIMIT 1`
	rec, err := scanPostgresCall(j.pool.QueryRow(ctx, sql, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call by token: %w", err)
	}
	return rec, nil
}

// ByIP lists calls from ip, newest first.
func (j *PostgresJournal) ByIP(ctx context.Context, ip string, limit int) ([]schemas.CallRecord, error) {
	sql := `SELECT ` + callColumns + ` FROM api_calls WHERE ip_address = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	return j.list(ctx, sql, ip, clampLimit(limit))
}

// Recent lists the newest calls.
func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]schemas.CallRecord, error) {
	sql := `SELECT ` + callColumns + ` FROM api_calls ORDER BY created_at DESC, id DESC LIMIT $1`
	return j.list(ctx, sql, clampLimit(limit))
}

func (j *PostgresJournal) list(ctx context.Context, sql string, args ...any) ([]schemas.CallRecord, error) {
	rows, err := j.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	records := []schemas.CallRecord{}
	for rows.Next() {
		rec, err := scanPostgresCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Statistics aggregates the whole journal.
func (j *PostgresJournal) Statistics(ctx context.Context) (schemas.CallStats, error) {
	sql := `
        SELECT
            COUNT(*),
            COUNT(result_url),
            COUNT(DISTINCT ip_address),
            COUNT(*) FILTER (WHERE created_at >= $1)
        FROM api_calls;
    `
	var stats schemas.CallStats
	err := j.pool.QueryRow(ctx, sql, startOfDay(j.now())).Scan(
		&stats.TotalCalls, &stats.SuccessCalls, &stats.UniqueIPs, &stats.TodayCalls,
	)
	if err != nil {
		return schemas.CallStats{}, fmt.Errorf("failed to compute statistics: %w", err)
	}
	stats.SuccessRate = successRate(stats.SuccessCalls, stats.TotalCalls)
	return stats, nil
}

// ImageByID returns the stored upload of a call.
func (j *PostgresJournal) ImageByID(ctx context.Context, id int64) (*schemas.StoredImage, error) {
	return j.image(ctx, `SELECT image_data, image_content_type, image_filename FROM api_calls WHERE id = $1`, id)
}

// ImageByToken returns the stored upload of the newest call carrying token.
func (j *PostgresJournal) ImageByToken(ctx context.Context, token string) (*schemas.StoredImage, error) {
	return j.image(ctx, `SELECT image_data, image_content_type, image_filename FROM api_calls WHERE token = $1 ORDER BY id DESC LIMIT 1`, token)
}

func (j *PostgresJournal) image(ctx context.Context, sql string, arg any) (*schemas.StoredImage, error) {
	var (
		data        []byte
		contentType *string
		filename    *string
	)
	err := j.pool.QueryRow(ctx, sql, arg).Scan(&data, &contentType, &filename)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return &schemas.StoredImage{Data: data, ContentType: deref(contentType), Filename: deref(filename)}, nil
}

// Close releases the pool.
func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}

func scanPostgresCall(row pgx.Row) (*schemas.CallRecord, error) {
	var (
		rec                              schemas.CallRecord
		userAgent, filename, contentType *string
		token, deviceID, resultURL       *string
		size                             *int64
	)
	err := row.Scan(
		&rec.ID, &rec.IPAddress, &userAgent, &filename, &contentType, &size,
		&rec.ImageWidth, &rec.ImageHeight, &token, &deviceID, &resultURL, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.UserAgent = deref(userAgent)
	rec.ImageFilename = deref(filename)
	rec.ImageContentType = deref(contentType)
	if size != nil {
		rec.ImageSizeBytes = *size
	}
	rec.Token = deref(token)
	rec.DeviceID = deref(deviceID)
	rec.ResultURL = deref(resultURL)
	return &rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

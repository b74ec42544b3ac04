package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

// sqliteTimeLayout is fixed width so lexical order matches time order.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS api_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip_address TEXT NOT NULL,
		user_agent TEXT,
		image_filename TEXT,
		image_data BLOB,
		image_content_type TEXT,
		image_size_bytes INTEGER,
		image_width INTEGER,
		image_height INTEGER,
		token TEXT,
		e_id TEXT,
		result_url TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_calls_token ON api_calls(token)`,
	`CREATE INDEX IF NOT EXISTS idx_api_calls_e_id ON api_calls(e_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_calls_ip ON api_calls(ip_address)`,
	`CREATE INDEX IF NOT EXISTS idx_api_calls_created_at ON api_calls(created_at)`,
}

const callColumns = `id, ip_address, user_agent, image_filename, image_content_type, image_size_bytes,
        image_width, image_height, token, e_id, result_url, created_at, updated_at`

// SQLiteJournal stores the journal in an embedded SQLite database.
type SQLiteJournal struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// OpenSQLite opens (or creates) the database file at path. An empty path or
// ":memory:" keeps everything in memory.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteJournal, error) {
	if path == "" {
		path = ":memory:"
	}
	if dir := filepath.Dir(path); path != ":memory:" && !strings.HasPrefix(path, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; an in-memory database also lives per connection.
	db.SetMaxOpenConns(1)

	j, err := NewSQLite(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// NewSQLite wraps an open handle and runs the schema migration.
func NewSQLite(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &SQLiteJournal{db: db, log: logger.Named("journal"), now: time.Now}
	if err := j.migrate(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate journal schema: %w", err)
		}
	}
	return nil
}

func (j *SQLiteJournal) timestamp() string {
	return j.now().UTC().Format(sqliteTimeLayout)
}

// Record inserts a call and returns its id.
func (j *SQLiteJournal) Record(ctx context.Context, rec schemas.CallRecord) (int64, error) {
	query := `INSERT INTO api_calls (
		ip_address, user_agent, image_filename, image_data, image_content_type, image_size_bytes,
		image_width, image_height, token, e_id, result_url, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ts := j.timestamp()
	res, err := j.db.ExecContext(ctx, query,
		rec.IPAddress, rec.UserAgent, nullIfEmpty(rec.ImageFilename), rec.ImageData,
		nullIfEmpty(rec.ImageContentType), rec.ImageSizeBytes,
		nullIfNil(rec.ImageWidth), nullIfNil(rec.ImageHeight),
		nullIfEmpty(rec.Token), nullIfEmpty(rec.DeviceID), nullIfEmpty(rec.ResultURL),
		ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert api call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	j.log.Info("API call recorded.", zap.Int64("id", id), zap.String("token", rec.Token), zap.String("ip", rec.IPAddress))
	return id, nil
}

// SetResultURL patches the result url of every row carrying token. It reports
// whether any row matched, so repeating the same update still reports true.
func (j *SQLiteJournal) SetResultURL(ctx context.Context, token, url string) (bool, error) {
	res, err := j.db.ExecContext(ctx,
		`UPDATE api_calls SET result_url = ?, updated_at = ? WHERE token = ?`,
		url, j.timestamp(), token,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update result url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		j.log.Info("Result url updated.", zap.String("token", token))
	}
	return n > 0, nil
}

// ByToken returns the most recent call carrying token.
func (j *SQLiteJournal) ByToken(ctx context.Context, token string) (*schemas.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM api_calls WHERE token = ? ORDER BY id DESC LIMIT 1`
	rec, err := scanSQLiteCall(j.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call by token: %w", err)
	}
	return rec, nil
}

// ByIP lists calls from ip, newest first.
func (j *SQLiteJournal) ByIP(ctx context.Context, ip string, limit int) ([]schemas.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM api_calls WHERE ip_address = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	return j.list(ctx, query, ip, clampLimit(limit))
}

// Recent lists the newest calls.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]schemas.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM api_calls ORDER BY created_at DESC, id DESC LIMIT ?`
	return j.list(ctx, query, clampLimit(limit))
}

func (j *SQLiteJournal) list(ctx context.Context, query string, args ...interface{}) ([]schemas.CallRecord, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []schemas.CallRecord{}
	for rows.Next() {
		rec, err := scanSQLiteCall(rows)
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
func (j *SQLiteJournal) Statistics(ctx context.Context) (schemas.CallStats, error) {
	query := `SELECT
		COUNT(*),
		COUNT(result_url),
		COUNT(DISTINCT ip_address),
		COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
	FROM api_calls`

	var stats schemas.CallStats
	today := startOfDay(j.now()).Format(sqliteTimeLayout)
	err := j.db.QueryRowContext(ctx, query, today).Scan(
		&stats.TotalCalls, &stats.SuccessCalls, &stats.UniqueIPs, &stats.TodayCalls,
	)
	if err != nil {
		return schemas.CallStats{}, fmt.Errorf("failed to compute statistics: %w", err)
	}
	stats.SuccessRate = successRate(stats.SuccessCalls, stats.TotalCalls)
	return stats, nil
}

// ImageByID returns the stored upload of a call.
func (j *SQLiteJournal) ImageByID(ctx context.Context, id int64) (*schemas.StoredImage, error) {
	return j.image(ctx, `SELECT image_data, image_content_type, image_filename FROM api_calls WHERE id = ?`, id)
}

// ImageByToken returns the stored upload of the newest call carrying token.
func (j *SQLiteJournal) ImageByToken(ctx context.Context, token string) (*schemas.StoredImage, error) {
	return j.image(ctx, `SELECT image_data, image_content_type, image_filename FROM api_calls WHERE token = ? ORDER BY id DESC LIMIT 1`, token)
}

func (j *SQLiteJournal) image(ctx context.Context, query string, arg interface{}) (*schemas.StoredImage, error) {
	var (
		data        []byte
		contentType sql.NullString
		filename    sql.NullString
	)
	err := j.db.QueryRowContext(ctx, query, arg).Scan(&data, &contentType, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return &schemas.StoredImage{Data: data, ContentType: contentType.String, Filename: filename.String}, nil
}

// Close closes the underlying database handle.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteCall(row rowScanner) (*schemas.CallRecord, error) {
	var (
		rec                              schemas.CallRecord
		userAgent, filename, contentType sql.NullString
		token, deviceID, resultURL       sql.NullString
		size, width, height              sql.NullInt64
		createdAt, updatedAt             string
	)
	err := row.Scan(
		&rec.ID, &rec.IPAddress, &userAgent, &filename, &contentType, &size,
		&width, &height, &token, &deviceID, &resultURL, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.UserAgent = userAgent.String
	rec.ImageFilename = filename.String
	rec.ImageContentType = contentType.String
	rec.ImageSizeBytes = size.Int64
	rec.ImageWidth = intPtr(width)
	rec.ImageHeight = intPtr(height)
	rec.Token = token.String
	rec.DeviceID = deviceID.String
	rec.ResultURL = resultURL.String
	rec.CreatedAt = parseSQLiteTime(createdAt)
	rec.UpdatedAt = parseSQLiteTime(updatedAt)
	return &rec, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

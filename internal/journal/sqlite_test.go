package journal

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

// -- Test Helpers --

func openMemory(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := OpenSQLite(context.Background(), ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err, "Test setup failed: could not open in-memory journal")
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func expectMigration(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS api_calls")).WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 4; i++ {
		mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS")).WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func sampleCall(ip, token string) schemas.CallRecord {
	w, h := 640, 480
	return schemas.CallRecord{
		IPAddress:        ip,
		UserAgent:        "curl/8.0",
		ImageFilename:    "photo.png",
		ImageData:        []byte("\x89PNG-data"),
		ImageContentType: "image/png",
		ImageSizeBytes:   9,
		ImageWidth:       &w,
		ImageHeight:      &h,
		Token:            token,
		DeviceID:         "0123456789abcdef0123456789abcdef",
	}
}

// -- Test Cases --

func TestSQLiteRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	id, err := j.Record(ctx, sampleCall("10.0.0.1", "tok-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := j.ByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)
	assert.Equal(t, "photo.png", rec.ImageFilename)
	assert.Equal(t, int64(9), rec.ImageSizeBytes)
	require.NotNil(t, rec.ImageWidth)
	assert.Equal(t, 640, *rec.ImageWidth)
	assert.Empty(t, rec.ResultURL)
	assert.Nil(t, rec.ImageData, "listing queries never load the blob")
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = j.ByToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteNullableColumns(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	_, err := j.Record(ctx, schemas.CallRecord{IPAddress: "10.0.0.9", Token: "bare"})
	require.NoError(t, err)

	rec, err := j.ByToken(ctx, "bare")
	require.NoError(t, err)
	assert.Nil(t, rec.ImageWidth)
	assert.Nil(t, rec.ImageHeight)
	assert.Empty(t, rec.ImageFilename)

	_, err = j.ImageByToken(ctx, "bare")
	assert.ErrorIs(t, err, ErrNotFound, "a row without image data has no image")
}

// Updating the same token with the same url twice leaves one row with that url
// and both calls report a match.
func TestSQLiteSetResultURLIdempotent(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	_, err := j.Record(ctx, sampleCall("10.0.0.1", "tok-1"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := j.SetResultURL(ctx, "tok-1", "https://cdn/result.png")
		require.NoError(t, err)
		assert.True(t, ok, "update %d must match the row", i+1)
	}

	all, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "https://cdn/result.png", all[0].ResultURL)

	ok, err := j.SetResultURL(ctx, "unknown", "https://cdn/x.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteListsAndStatistics(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now.Add(-36 * time.Hour) }
	_, err := j.Record(ctx, sampleCall("10.0.0.1", "old"))
	require.NoError(t, err)

	j.now = func() time.Time { return now }
	_, err = j.Record(ctx, sampleCall("10.0.0.1", "new-1"))
	require.NoError(t, err)
	_, err = j.Record(ctx, sampleCall("10.0.0.2", "new-2"))
	require.NoError(t, err)
	_, err = j.SetResultURL(ctx, "new-1", "https://cdn/1.png")
	require.NoError(t, err)

	byIP, err := j.ByIP(ctx, "10.0.0.1", 10)
	require.NoError(t, err)
	require.Len(t, byIP, 2)
	assert.Equal(t, "new-1", byIP[0].Token, "newest first")
	assert.Equal(t, "old", byIP[1].Token)

	recent, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new-2", recent[0].Token)

	stats, err := j.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemas.CallStats{
		TotalCalls:   3,
		SuccessCalls: 1,
		UniqueIPs:    2,
		TodayCalls:   2,
		SuccessRate:  "33.33%",
	}, stats)
}

func TestSQLiteEmptyStatistics(t *testing.T) {
	j := openMemory(t)
	stats, err := j.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0%", stats.SuccessRate)
	assert.Zero(t, stats.TotalCalls)
}

func TestSQLiteImages(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	id, err := j.Record(ctx, sampleCall("10.0.0.1", "tok-img"))
	require.NoError(t, err)

	img, err := j.ImageByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG-data"), img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "photo.png", img.Filename)

	img, err = j.ImageByToken(ctx, "tok-img")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG-data"), img.Data)

	_, err = j.ImageByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteMigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS api_calls")).WillReturnError(boom)

	_, err = NewSQLite(context.Background(), db, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteWriteErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectMigration(mock)
	j, err := NewSQLite(ctx, db, zaptest.NewLogger(t))
	require.NoError(t, err)

	locked := errors.New("database is locked")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_calls")).WillReturnError(locked)
	_, err = j.Record(ctx, sampleCall("10.0.0.1", "tok"))
	assert.ErrorIs(t, err, locked)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_calls SET result_url = ?, updated_at = ? WHERE token = ?")).
		WithArgs("https://cdn/x.png", sqlmock.AnyArg(), "tok").
		WillReturnResult(sqlmock.NewResult(0, 2))
	ok, err := j.SetResultURL(ctx, "tok", "https://cdn/x.png")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("FROM api_calls WHERE ip_address = ?")).
		WithArgs("10.0.0.1", MaxLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = j.ByIP(ctx, "10.0.0.1", 5000)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, DefaultLimit, clampLimit(0))
	assert.Equal(t, DefaultLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxLimit, clampLimit(MaxLimit+1))

	assert.Equal(t, "0%", successRate(0, 0))
	assert.Equal(t, "50.00%", successRate(1, 2))
	assert.Equal(t, "100.00%", successRate(3, 3))

	day := startOfDay(time.Date(2026, 10, 17, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), day)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Options{Driver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported driver")

	j, err := New(context.Background(), Options{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)
	assert.NoError(t, j.Close())
}

package schemas

import "context"

// Journal persists one row per erase attempt and later patches in the result url.
type Journal interface {
	Record(ctx context.Context, rec CallRecord) (int64, error)
	SetResultURL(ctx context.Context, token, url string) (bool, error)
	ByToken(ctx context.Context, token string) (*CallRecord, error)
	ByIP(ctx context.Context, ip string, limit int) ([]CallRecord, error)
	Recent(ctx context.Context, limit int) ([]CallRecord, error)
	Statistics(ctx context.Context) (CallStats, error)
	ImageByID(ctx context.Context, id int64) (*StoredImage, error)
	ImageByToken(ctx context.Context, token string) (*StoredImage, error)
	Close() error
}

// IdentitySource produces a fresh synthetic browser identity per call.
type IdentitySource interface {
	Synthesize() Identity
}

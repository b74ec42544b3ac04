// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/upstream"
)

func vendorResponse(args mock.Arguments, i int) schemas.VendorResponse {
	if args.Get(i) == nil {
		return nil
	}
	return args.Get(i).(schemas.VendorResponse)
}

// -- Gateway Mock --

// MockGateway mocks the vendor gateway used by the erase service.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ProductID() string { return m.Called().String(0) }

func (m *MockGateway) PingTrialSafe(ctx context.Context, productID string) schemas.VendorResponse {
	return vendorResponse(m.Called(ctx, productID), 0)
}
func (m *MockGateway) BenefitStatusSafe(ctx context.Context, deviceID, productID string) schemas.VendorResponse {
	return vendorResponse(m.Called(ctx, deviceID, productID), 0)
}
func (m *MockGateway) Upload(ctx context.Context, req upstream.UploadRequest) (schemas.VendorResponse, error) {
	args := m.Called(ctx, req)
	return vendorResponse(args, 0), args.Error(1)
}
func (m *MockGateway) WMStatus(ctx context.Context, token, deviceID string) (schemas.VendorResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := m.Called(ctx, token, deviceID)
	return vendorResponse(args, 0), args.Error(1)
}
func (m *MockGateway) RemoveStatus(ctx context.Context, token string) (schemas.VendorResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := m.Called(ctx, token)
	return vendorResponse(args, 0), args.Error(1)
}

// -- Journal Mock --

// MockJournal mocks the schemas.Journal interface.
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Record(ctx context.Context, rec schemas.CallRecord) (int64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockJournal) SetResultURL(ctx context.Context, token, url string) (bool, error) {
	args := m.Called(ctx, token, url)
	return args.Bool(0), args.Error(1)
}
func (m *MockJournal) ByToken(ctx context.Context, token string) (*schemas.CallRecord, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.CallRecord), args.Error(1)
}
func (m *MockJournal) ByIP(ctx context.Context, ip string, limit int) ([]schemas.CallRecord, error) {
	args := m.Called(ctx, ip, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.CallRecord), args.Error(1)
}
func (m *MockJournal) Recent(ctx context.Context, limit int) ([]schemas.CallRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.CallRecord), args.Error(1)
}
func (m *MockJournal) Statistics(ctx context.Context) (schemas.CallStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.CallStats), args.Error(1)
}
func (m *MockJournal) ImageByID(ctx context.Context, id int64) (*schemas.StoredImage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.StoredImage), args.Error(1)
}
func (m *MockJournal) ImageByToken(ctx context.Context, token string) (*schemas.StoredImage, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.StoredImage), args.Error(1)
}
func (m *MockJournal) Close() error { return m.Called().Error(0) }

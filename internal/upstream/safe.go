package upstream

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

// The Safe variants swallow failures, log them and return nil. Trial and
// benefit lookups are advisory, so their failures log at warn. The rest log at
// error because their absence fails the erase.

// PingTrialSafe is PingTrial returning nil on failure.
func (g *Gateway) PingTrialSafe(ctx context.Context, productID string) schemas.VendorResponse {
	resp, err := g.PingTrial(ctx, productID)
	if err != nil {
		g.logFailure(zap.WarnLevel, "Trial request failed.", err, zap.String("p_id", productID))
		return nil
	}
	g.logger.Debug("Trial request sent.", zap.String("p_id", productID), zap.Any("response", resp))
	return resp
}

// BenefitStatusSafe is BenefitStatus returning nil on failure.
func (g *Gateway) BenefitStatusSafe(ctx context.Context, deviceID, productID string) schemas.VendorResponse {
	resp, err := g.BenefitStatus(ctx, deviceID, productID)
	if err != nil {
		g.logFailure(zap.WarnLevel, "Benefit status request failed.", err)
		return nil
	}
	return resp
}

// UploadSafe is Upload returning nil on failure.
func (g *Gateway) UploadSafe(ctx context.Context, req UploadRequest) schemas.VendorResponse {
	resp, err := g.Upload(ctx, req)
	if err != nil {
		g.logFailure(zap.ErrorLevel, "Upload request failed.", err)
		return nil
	}
	return resp
}

// WMStatusSafe is WMStatus returning nil on failure. Missing input returns nil
// without touching the network.
func (g *Gateway) WMStatusSafe(ctx context.Context, token, deviceID string) schemas.VendorResponse {
	if token == "" || deviceID == "" {
		g.logger.Warn("WM status skipped: missing token or e_id.")
		return nil
	}
	resp, err := g.WMStatus(ctx, token, deviceID)
	if err != nil {
		g.logFailure(zap.ErrorLevel, "WM status request failed.", err)
		return nil
	}
	return resp
}

// RemoveStatusSafe is RemoveStatus returning nil on failure. An empty token
// returns nil without touching the network.
func (g *Gateway) RemoveStatusSafe(ctx context.Context, token string) schemas.VendorResponse {
	if token == "" {
		g.logger.Warn("Remove status skipped: missing token.")
		return nil
	}
	resp, err := g.RemoveStatus(ctx, token)
	if err != nil {
		g.logFailure(zap.ErrorLevel, "Remove status request failed.", err)
		return nil
	}
	return resp
}

func (g *Gateway) logFailure(level zapcore.Level, msg string, err error, fields ...zap.Field) {
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		fields = append(fields, zap.Int("http_status", te.StatusCode), zap.String("body", te.Body))
	}
	fields = append(fields, zap.Error(err))
	if ce := g.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

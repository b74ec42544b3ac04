package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/signing"
)

// FilePart is one uploaded file.
type FilePart struct {
	Data        []byte
	Filename    string
	ContentType string
}

// UploadRequest is the multipart body of an upload call. Mask, Signature and
// DisplayName are optional.
type UploadRequest struct {
	Image       FilePart
	Mask        *FilePart
	Signature   *schemas.Signature
	DisplayName string
	DeviceID    string
}

// PingTrial registers a trial for productID. Empty productID uses the configured one.
func (g *Gateway) PingTrial(ctx context.Context, productID string) (schemas.VendorResponse, error) {
	if productID == "" {
		productID = g.cfg.ProductID
	}
	form := url.Values{"p_id": {productID}}
	return g.postForm(ctx, OpTrial, g.cfg.Endpoints.Trial, form, g.cfg.DefaultTimeout)
}

// BenefitStatus fetches quota and limits for a device. An empty deviceID is synthesized.
func (g *Gateway) BenefitStatus(ctx context.Context, deviceID, productID string) (schemas.VendorResponse, error) {
	if deviceID == "" {
		deviceID = signing.DeriveDeviceID("")
	}
	if productID == "" {
		productID = g.cfg.ProductID
	}
	form := url.Values{"e_id": {deviceID}, "product_id": {productID}}
	g.logger.Info("Benefit status request.", zap.String("e_id", deviceID), zap.String("product_id", productID))

	resp, err := g.postForm(ctx, OpBenefit, g.cfg.Endpoints.Benefit, form, g.cfg.DefaultTimeout)
	if err == nil {
		g.logger.Debug("Benefit status response.", zap.Any("response", resp))
	}
	return resp, err
}

// Upload posts the image, optional mask and signature.
func (g *Gateway) Upload(ctx context.Context, req UploadRequest) (schemas.VendorResponse, error) {
	if req.DeviceID == "" {
		return nil, ErrMissingInput
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if req.Signature != nil {
		if err := mw.WriteField("sign", req.Signature.Sign); err != nil {
			return nil, &TransportError{Op: OpUpload, Err: err}
		}
	}
	if req.DisplayName != "" {
		if err := mw.WriteField("name", req.DisplayName); err != nil {
			return nil, &TransportError{Op: OpUpload, Err: err}
		}
	}
	if err := mw.WriteField("e_id", req.DeviceID); err != nil {
		return nil, &TransportError{Op: OpUpload, Err: err}
	}
	if err := writeFile(mw, "img", req.Image); err != nil {
		return nil, &TransportError{Op: OpUpload, Err: err}
	}
	if req.Mask != nil {
		if err := writeFile(mw, "mask", *req.Mask); err != nil {
			return nil, &TransportError{Op: OpUpload, Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, &TransportError{Op: OpUpload, Err: err}
	}

	resp, err := g.post(ctx, OpUpload, g.cfg.Endpoints.Upload, body, mw.FormDataContentType(), g.cfg.UploadTimeout)

	maskSize := 0
	if req.Mask != nil {
		maskSize = len(req.Mask.Data)
	}
	signLen := 0
	if req.Signature != nil {
		signLen = len(req.Signature.Sign)
	}
	g.logger.Info("Upload request summary.",
		zap.Int("img_size", len(req.Image.Data)),
		zap.Int("mask_size", maskSize),
		zap.Int("sign_len", signLen),
		zap.String("name", req.DisplayName),
		zap.String("e_id", req.DeviceID),
		zap.Bool("ok", err == nil),
	)
	return resp, err
}

// WMStatus asks the vendor to process an uploaded task.
func (g *Gateway) WMStatus(ctx context.Context, token, deviceID string) (schemas.VendorResponse, error) {
	if token == "" || deviceID == "" {
		return nil, ErrMissingInput
	}
	form := url.Values{"token": {token}, "e_id": {deviceID}}
	g.logger.Info("WM status request.", zap.String("token", token), zap.String("e_id", deviceID))
	return g.post(ctx, OpWMStatus, g.cfg.Endpoints.WMStatus, strings.NewReader(form.Encode()), bareFormContentType, g.cfg.UploadTimeout)
}

// RemoveStatus polls the result of a task.
func (g *Gateway) RemoveStatus(ctx context.Context, token string) (schemas.VendorResponse, error) {
	if token == "" {
		return nil, ErrMissingInput
	}
	form := url.Values{"token": {token}}
	g.logger.Info("Remove status request.", zap.String("token", token))
	return g.postForm(ctx, OpRemoveStatus, g.cfg.Endpoints.RemoveStatus, form, g.cfg.UploadTimeout)
}

func (g *Gateway) postForm(ctx context.Context, op, endpoint string, form url.Values, timeout time.Duration) (schemas.VendorResponse, error) {
	return g.post(ctx, op, endpoint, strings.NewReader(form.Encode()), formContentType, timeout)
}

func (g *Gateway) post(ctx context.Context, op, endpoint string, body io.Reader, contentType string, timeout time.Duration) (schemas.VendorResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	headers := g.headers(contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	g.logger.Debug("Vendor request.", zap.String("op", op), zap.String("user_agent", headers["user-agent"]))

	res, err := g.pool.Acquire().Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: res.StatusCode, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &TransportError{Op: op, StatusCode: res.StatusCode, Body: snippet(raw)}
	}

	var out schemas.VendorResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransportError{Op: op, StatusCode: res.StatusCode, Body: snippet(raw), Err: fmt.Errorf("decode body: %w", err)}
	}
	if out == nil {
		return nil, &TransportError{Op: op, StatusCode: res.StatusCode, Body: snippet(raw), Err: errors.New("empty JSON body")}
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(mw *multipart.Writer, field string, part FilePart) error {
	filename := part.Filename
	if filename == "" {
		filename = field
	}
	contentType := part.ContentType
	if contentType == "" {
		contentType = octetStream
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = w.Write(part.Data)
	return err
}

func snippet(raw []byte) string {
	const limit = 512
	if len(raw) > limit {
		return string(raw[:limit])
	}
	return string(raw)
}

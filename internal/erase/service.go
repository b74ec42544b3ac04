// Package erase drives a single watermark-removal attempt against the vendor
// and journals the outcome.
package erase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/imaging"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/signing"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/upstream"
)

// SubmittedMessage is returned to the caller once the vendor accepted the task.
const SubmittedMessage = "Erase request submitted, processing.."

// defaultDisplayName names uploads that arrived without a filename.
const defaultDisplayName = "uploaded_image"

// Gateway is the subset of the vendor gateway the service drives.
type Gateway interface {
	ProductID() string
	PingTrialSafe(ctx context.Context, productID string) schemas.VendorResponse
	BenefitStatusSafe(ctx context.Context, deviceID, productID string) schemas.VendorResponse
	Upload(ctx context.Context, req upstream.UploadRequest) (schemas.VendorResponse, error)
	WMStatus(ctx context.Context, token, deviceID string) (schemas.VendorResponse, error)
	RemoveStatus(ctx context.Context, token string) (schemas.VendorResponse, error)
}

// File is an uploaded file as received from the client.
type File struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Request is one erase submission.
type Request struct {
	IP        string
	UserAgent string
	Image     File
	Mask      *File
}

// Result describes an accepted erase task.
type Result struct {
	Token     string            `json:"token"`
	Message   string            `json:"message"`
	DeviceID  string            `json:"-"`
	ResultURL string            `json:"-"`
	State     schemas.TaskState `json:"-"`
	RecordID  int64             `json:"-"`
}

// Config tunes the service. Zero values take the defaults.
type Config struct {
	MaxFileSize int64
}

// Service runs erase attempts. The journal is optional.
type Service struct {
	gateway     Gateway
	journal     schemas.Journal
	logger      *zap.Logger
	maxFileSize int64

	newDeviceID func() string
	sign        func(img []byte) (schemas.Signature, error)
}

// NewService wires a Service.
func NewService(gateway Gateway, journal schemas.Journal, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = imaging.MaxFileSize
	}
	return &Service{
		gateway:     gateway,
		journal:     journal,
		logger:      logger.Named("erase"),
		maxFileSize: cfg.MaxFileSize,
		newDeviceID: func() string { return signing.DeriveDeviceID("") },
		sign:        func(img []byte) (schemas.Signature, error) { return signing.Sign(img, nil) },
	}
}

// task moves an EraseTask through its lifecycle and refuses illegal moves.
type task struct {
	schemas.EraseTask
	log *zap.Logger
}

func (t *task) advance(next schemas.TaskState) {
	if !t.State.CanTransition(next) {
		t.log.Error("Illegal task transition.", zap.String("from", string(t.State)), zap.String("to", string(next)))
		return
	}
	t.log.Debug("Task transition.", zap.String("from", string(t.State)), zap.String("to", string(next)))
	t.State = next
}

func (t *task) fail(err *Error) *Error {
	t.advance(schemas.TaskFailed)
	t.log.Warn("Erase attempt failed.", zap.Stringer("kind", err.Kind), zap.String("detail", err.Message), zap.NamedError("cause", err.Err))
	return err
}

// Erase submits an image (and optional mask) to the vendor. It returns once
// the vendor has accepted the task; the result url may arrive later via Status.
// Cancellation of ctx is ignored; its values are kept.
func (s *Service) Erase(ctx context.Context, req Request) (*Result, error) {
	// Vendor calls are bounded by their own timeouts. A caller that goes away
	// must not strand an accepted task without its journal row.
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With(zap.String("request_id", uuid.NewString()), zap.String("ip", req.IP))
	t := &task{EraseTask: schemas.EraseTask{State: schemas.TaskSubmitted}, log: log}
	log.Info("Erase request received.")

	if err := imaging.CheckType(req.Image.ContentType); err != nil {
		return nil, t.fail(newError(KindInvalid, err, "unsupported image type %q, allowed: image/jpeg, image/png, image/jpg, image/webp", req.Image.ContentType))
	}
	if req.Mask != nil {
		if err := imaging.CheckType(req.Mask.ContentType); err != nil {
			return nil, t.fail(newError(KindInvalid, err, "unsupported mask type %q, allowed: image/jpeg, image/png, image/jpg, image/webp", req.Mask.ContentType))
		}
	}

	productID := s.gateway.ProductID()
	s.gateway.PingTrialSafe(ctx, productID)

	t.DeviceID = s.newDeviceID()
	log = log.With(zap.String("e_id", t.DeviceID))
	t.log = log

	size := int64(len(req.Image.Data))
	if size == 0 {
		return nil, t.fail(newError(KindInvalid, nil, "image is empty"))
	}
	if size > s.maxFileSize {
		return nil, t.fail(newError(KindTooLarge, nil, "file too large: %.2fMB, the maximum is %.0fMB",
			float64(size)/1024/1024, float64(s.maxFileSize)/1024/1024))
	}

	var width, height *int
	if dims, err := imaging.Probe(req.Image.Data); err != nil {
		log.Warn("Failed to read image dimensions.", zap.Error(err))
	} else {
		width, height = &dims.Width, &dims.Height
		log.Debug("Image probed.", zap.String("format", dims.Format), zap.Int("width", dims.Width), zap.Int("height", dims.Height))
	}

	sig, err := s.sign(req.Image.Data)
	if err != nil {
		return nil, t.fail(newError(KindInternal, err, "failed to sign upload"))
	}

	displayName := req.Image.Filename
	if displayName == "" {
		displayName = defaultDisplayName
	}
	log.Info("Upload prepared.",
		zap.String("name", displayName),
		zap.Int64("size", size),
		zap.Int64("timestamp", sig.TimestampMs),
	)

	if status := s.gateway.BenefitStatusSafe(ctx, "", productID); status != nil {
		if qerr := checkBenefits(status, size, width, height); qerr != nil {
			return nil, t.fail(qerr)
		}
	} else {
		log.Warn("Benefit status unavailable, skipping quota checks.")
	}

	upload := upstream.UploadRequest{
		Image: upstream.FilePart{
			Data:        req.Image.Data,
			Filename:    req.Image.Filename,
			ContentType: req.Image.ContentType,
		},
		Signature:   &sig,
		DisplayName: displayName,
		DeviceID:    t.DeviceID,
	}
	if req.Mask != nil {
		upload.Mask = &upstream.FilePart{Data: req.Mask.Data, Filename: req.Mask.Filename, ContentType: req.Mask.ContentType}
	}

	uploadResp, err := s.gateway.Upload(ctx, upload)
	if err != nil {
		return nil, t.fail(newError(KindUpstream, err, "upload to remote service failed"))
	}
	token, err := upstream.ExtractToken(uploadResp)
	if err != nil {
		return nil, t.fail(vendorFailure(err, "remote service rejected the upload"))
	}
	t.Token = token
	t.advance(schemas.TaskUploaded)

	wmResp, err := s.gateway.WMStatus(ctx, token, t.DeviceID)
	if err != nil {
		return nil, t.fail(newError(KindUpstream, err, "watermark status query failed"))
	}
	if err := upstream.CheckStatus(upstream.OpWMStatus, wmResp); err != nil {
		return nil, t.fail(vendorFailure(err, "erase failed"))
	}
	t.advance(schemas.TaskStatusQueried)

	if url := wmResp.URL(); url != "" {
		t.ResultURL = url
		t.advance(schemas.TaskCompleted)
	}

	res := &Result{
		Token:     token,
		Message:   SubmittedMessage,
		DeviceID:  t.DeviceID,
		ResultURL: t.ResultURL,
		State:     t.State,
	}
	res.RecordID = s.record(ctx, log, req, t.EraseTask, size, width, height, displayName)

	log.Info("Erase request accepted.", zap.String("token", token), zap.String("state", string(t.State)))
	return res, nil
}

// record journals the attempt. Failures are logged and never reach the caller.
func (s *Service) record(ctx context.Context, log *zap.Logger, req Request, et schemas.EraseTask, size int64, width, height *int, name string) int64 {
	if s.journal == nil {
		return 0
	}
	id, err := s.journal.Record(ctx, schemas.CallRecord{
		IPAddress:        req.IP,
		UserAgent:        req.UserAgent,
		ImageFilename:    name,
		ImageData:        req.Image.Data,
		ImageContentType: req.Image.ContentType,
		ImageSizeBytes:   size,
		ImageWidth:       width,
		ImageHeight:      height,
		Token:            et.Token,
		DeviceID:         et.DeviceID,
		ResultURL:        et.ResultURL,
	})
	if err != nil {
		log.Error("Failed to journal erase call.", zap.Error(err))
		return 0
	}
	return id
}

// Status polls the vendor for the outcome of token and passes the vendor
// reply through. A result url, when present, is written to the journal.
// Like Erase, it runs to completion even if ctx is cancelled.
func (s *Service) Status(ctx context.Context, token string) (schemas.VendorResponse, error) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With(zap.String("request_id", uuid.NewString()), zap.String("token", token))
	if token == "" {
		return nil, newError(KindInvalid, upstream.ErrMissingInput, "token is required")
	}

	resp, err := s.gateway.RemoveStatus(ctx, token)
	if err != nil {
		log.Error("Remove status query failed.", zap.Error(err))
		return nil, newError(KindUpstream, err, "remote status query failed")
	}

	if url := resp.URL(); url != "" && s.journal != nil {
		ok, err := s.journal.SetResultURL(ctx, token, url)
		switch {
		case err != nil:
			log.Warn("Failed to update result url.", zap.Error(err))
		case !ok:
			log.Debug("No journaled call for token.")
		}
	}
	log.Info("Status query completed.", zap.String("status", resp.Status()))
	return resp, nil
}

// vendorFailure turns a vendor-level rejection into a 502 that carries the
// vendor's own message.
func vendorFailure(err error, prefix string) *Error {
	var ve *upstream.VendorError
	if errors.As(err, &ve) {
		msg := ve.Message
		if msg == "" {
			msg = "unknown error"
		}
		return newError(KindUpstream, err, "%s: %s", prefix, msg)
	}
	return newError(KindUpstream, err, "%s", prefix)
}

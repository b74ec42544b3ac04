// Package upstream wraps the vendor's HTTP endpoints.
//
// Each call attaches the common browser headers, a freshly synthesized
// identity and, for uploads, the request signature. The gateway never retries;
// callers decide what a failure means.
package upstream

import (
	"time"

	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/network"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/stealth"
)

// Operation names, used in errors and logs.
const (
	OpTrial        = "trial"
	OpBenefit      = "benefit_status"
	OpUpload       = "upload"
	OpWMStatus     = "wm_status"
	OpRemoveStatus = "remove_status"
)

const (
	DefaultProductID = "56"

	DefaultTimeout = 10 * time.Second
	UploadTimeout  = 30 * time.Second

	formContentType = "application/x-www-form-urlencoded; charset=UTF-8"
	octetStream     = "application/octet-stream"

	// bareFormContentType is what a body encoder emits for url-encoded forms.
	// The wm-status call sends it instead of the page's charset variant.
	bareFormContentType = "application/x-www-form-urlencoded"

	// maxBodyBytes bounds how much of a vendor reply is read.
	maxBodyBytes = 8 << 20
)

// Endpoints are the five vendor URLs.
type Endpoints struct {
	Trial        string
	Benefit      string
	Upload       string
	WMStatus     string
	RemoveStatus string
}

// DefaultEndpoints returns the production vendor URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Trial:        "https://account.api.apeaksoft.com/v9/product/trial",
		Benefit:      "https://account.api.apeaksoft.com/v9/benefit/status",
		Upload:       "https://ai-api.apeaksoft.com/v6/removeWM/upload",
		WMStatus:     "https://ai-api.apeaksoft.com/v6/removeWM/WM",
		RemoveStatus: "https://ai-api.apeaksoft.com/v6/removeWM/status",
	}
}

// DefaultCommonHeaders are sent on every call, mirroring the vendor's web page.
func DefaultCommonHeaders() map[string]string {
	return map[string]string{
		"accept":          "*/*",
		"accept-language": "zh-CN,zh;q=0.9",
		"origin":          "https://www.apeaksoft.com",
		"priority":        "u=1, i",
		"referer":         "https://www.apeaksoft.com/",
	}
}

// Config configures a Gateway. Zero values take the defaults.
type Config struct {
	Endpoints      Endpoints
	ProductID      string
	CommonHeaders  map[string]string
	DefaultTimeout time.Duration
	UploadTimeout  time.Duration
}

func (c *Config) setDefaults() {
	def := DefaultEndpoints()
	if c.Endpoints.Trial == "" {
		c.Endpoints.Trial = def.Trial
	}
	if c.Endpoints.Benefit == "" {
		c.Endpoints.Benefit = def.Benefit
	}
	if c.Endpoints.Upload == "" {
		c.Endpoints.Upload = def.Upload
	}
	if c.Endpoints.WMStatus == "" {
		c.Endpoints.WMStatus = def.WMStatus
	}
	if c.Endpoints.RemoveStatus == "" {
		c.Endpoints.RemoveStatus = def.RemoveStatus
	}
	if c.ProductID == "" {
		c.ProductID = DefaultProductID
	}
	if c.CommonHeaders == nil {
		c.CommonHeaders = DefaultCommonHeaders()
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = UploadTimeout
	}
}

// Gateway issues the vendor calls.
type Gateway struct {
	cfg        Config
	pool       *network.Pool
	identities schemas.IdentitySource
	logger     *zap.Logger
}

// New creates a Gateway over a shared connection pool.
func New(cfg Config, pool *network.Pool, identities schemas.IdentitySource, logger *zap.Logger) *Gateway {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = network.NewPool(nil, logger)
	}
	if identities == nil {
		identities = stealth.NewSynthesizer(nil, logger)
	}
	return &Gateway{
		cfg:        cfg,
		pool:       pool,
		identities: identities,
		logger:     logger.Named("upstream"),
	}
}

// ProductID is the vendor product the gateway speaks for.
func (g *Gateway) ProductID() string {
	return g.cfg.ProductID
}

// headers builds common headers, a fresh identity, and the content type when set.
func (g *Gateway) headers(contentType string) map[string]string {
	h := make(map[string]string, len(g.cfg.CommonHeaders)+8)
	for k, v := range g.cfg.CommonHeaders {
		h[k] = v
	}
	for k, v := range g.identities.Synthesize().Headers() {
		h[k] = v
	}
	if contentType != "" {
		h["content-type"] = contentType
	}
	return h
}

// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/config"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/erase"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/journal"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/network"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/server"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/stealth"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/upstream"
)

// Components holds every long-lived service the commands need.
// This struct centralizes their lifecycle management.
type Components struct {
	Pool    *network.Pool
	Gateway *upstream.Gateway
	Journal schemas.Journal
	Service *erase.Service
}

// Shutdown releases resources in reverse order of construction.
func (c *Components) Shutdown(logger *zap.Logger) {
	logger.Debug("Beginning components shutdown sequence.")

	if c.Journal != nil {
		if err := c.Journal.Close(); err != nil {
			logger.Warn("Error closing the call journal.", zap.Error(err))
		} else {
			logger.Debug("Call journal closed.")
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
		logger.Debug("Outbound connection pool closed.")
	}

	logger.Info("All components shut down.")
}

// buildGateway creates the connection pool and the vendor gateway.
func buildGateway(cfg *config.Config, logger *zap.Logger) (*network.Pool, *upstream.Gateway, error) {
	clientCfg, err := clientConfig(cfg.Network, logger)
	if err != nil {
		return nil, nil, err
	}
	pool := network.NewPool(clientCfg, logger)
	synth := stealth.NewSynthesizer(stealth.NewDefaultProvider(logger), logger)
	return pool, upstream.New(gatewayConfig(cfg.Vendor), pool, synth, logger), nil
}

// buildJournal opens the configured journal, or returns nil when it is disabled.
func buildJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (schemas.Journal, error) {
	if !cfg.Enabled {
		logger.Info("Call journal disabled.")
		return nil, nil
	}
	j, err := journal.New(ctx, journal.Options{Driver: cfg.Driver, DSN: cfg.DSN}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open call journal: %w", err)
	}
	logger.Info("Call journal ready.", zap.String("driver", cfg.Driver))
	return j, nil
}

// buildComponents wires everything the serve command runs.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}

	pool, gw, err := buildGateway(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Pool, c.Gateway = pool, gw

	j, err := buildJournal(ctx, cfg.Journal, logger)
	if err != nil {
		c.Shutdown(logger)
		return nil, err
	}
	c.Journal = j

	c.Service = erase.NewService(gw, j, erase.Config{MaxFileSize: cfg.Server.MaxFileSize}, logger)
	return c, nil
}

func clientConfig(cfg config.NetworkConfig, logger *zap.Logger) (*network.ClientConfig, error) {
	c := network.NewDefaultClientConfig()
	c.Logger = logger
	if cfg.DialTimeout > 0 {
		c.DialTimeout = cfg.DialTimeout
	}
	if cfg.KeepAlive > 0 {
		c.KeepAlive = cfg.KeepAlive
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost > 0 {
		c.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		c.IdleConnTimeout = cfg.IdleConnTimeout
	}
	c.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	c.ForceHTTP2 = cfg.ForceHTTP2
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid network.proxy: %w", err)
		}
		c.ProxyURL = u
	}
	return c, nil
}

func gatewayConfig(cfg config.VendorConfig) upstream.Config {
	gc := upstream.Config{
		Endpoints: upstream.Endpoints{
			Trial:        cfg.TrialURL,
			Benefit:      cfg.BenefitURL,
			Upload:       cfg.UploadURL,
			WMStatus:     cfg.WMStatusURL,
			RemoveStatus: cfg.RemoveStatusURL,
		},
		ProductID:      cfg.ProductID,
		DefaultTimeout: cfg.DefaultTimeout,
		UploadTimeout:  cfg.UploadTimeout,
	}
	if len(cfg.Headers) > 0 {
		// Configured headers extend the built-in set.
		gc.CommonHeaders = upstream.DefaultCommonHeaders()
		for k, v := range cfg.Headers {
			gc.CommonHeaders[k] = v
		}
	}
	return gc
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MaxUploadBytes:    2*cfg.Server.MaxFileSize + 1<<20,
		RateLimit:         cfg.RateLimit.RequestsPerSecond,
		RateBurst:         cfg.RateLimit.Burst,
		CORSOrigins:       cfg.Server.CORSOrigins,
	}
}

// Package server exposes the erase service over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/erase"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/imaging"
)

const (
	defaultAddr            = ":8000"
	defaultShutdownTimeout = 10 * time.Second
	limiterTTL             = 10 * time.Minute
	multipartMemory        = 32 << 20
)

// Eraser is what the HTTP layer needs from the erase service.
type Eraser interface {
	Erase(ctx context.Context, req erase.Request) (*erase.Result, error)
	Status(ctx context.Context, token string) (schemas.VendorResponse, error)
}

// Config configures the HTTP listener.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	// MaxUploadBytes bounds the whole multipart body, image and mask together.
	MaxUploadBytes int64
	// RateLimit is the sustained requests per second allowed per client IP. Zero disables limiting.
	RateLimit float64
	RateBurst int
	CORSOrigins []string
}

// Server serves the erase API.
type Server struct {
	cfg     Config
	eraser  Eraser
	journal schemas.Journal
	logger  *zap.Logger
	limiter *multiLimiter
	router  chi.Router
}

// New builds the router. The journal may be nil, in which case the journal
// read endpoints answer 503.
func New(cfg Config, eraser Eraser, journal schemas.Journal, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 2*imaging.MaxFileSize + 1<<20
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{
		cfg:     cfg,
		eraser:  eraser,
		journal: journal,
		logger:  logger.Named("server"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = newMultiLimiter(rate.Limit(cfg.RateLimit), burst, limiterTTL)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/erase", s.handleErase)
		r.Post("/erase/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/calls", s.handleCalls)
		r.Get("/calls/{token}", s.handleCall)
		r.Get("/calls/{token}/image", s.handleCallImage)
		r.Get("/images/{id}", s.handleImage)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("ip", clientIP(r)),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package network

import (
	"sync"

	"go.uber.org/zap"
)

// Pool owns the shared outbound client. The client is built on first use and
// rebuilt if it is acquired after Close.
type Pool struct {
	config *ClientConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *Client
	closed bool
	builds int
}

// NewPool creates a Pool. Nothing is dialled until Acquire.
func NewPool(config *ClientConfig, logger *zap.Logger) *Pool {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{config: config, logger: logger.Named("pool")}
}

// Acquire returns the live client, creating it if needed.
func (p *Pool) Acquire() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil || p.closed {
		p.client = NewClient(p.config)
		p.closed = false
		p.builds++
		p.logger.Debug("Outbound HTTP client initialized.", zap.Int("generation", p.builds))
	}
	return p.client
}

// Close releases pooled connections. A later Acquire reinitializes the client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil || p.closed {
		return
	}
	p.client.CloseIdle()
	p.client = nil
	p.closed = true
	p.logger.Debug("Outbound HTTP client closed.")
}

// Generation reports how many times the client has been built.
func (p *Pool) Generation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builds
}

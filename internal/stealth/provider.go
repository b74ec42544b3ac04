package stealth

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FallbackUserAgent is used whenever the pool cannot produce a value.
const FallbackUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/143.0.0.0 Safari/537.36 Edg/143.0.0.0"

// ErrEmptyPool is returned by a PoolProvider with nothing to draw from.
var ErrEmptyPool = errors.New("stealth: user agent pool is empty")

// UserAgentProvider is the capability of drawing a user agent string.
type UserAgentProvider interface {
	Random() (string, error)
}

// WeightedAgent is a pool entry. Weight is relative to the other entries.
type WeightedAgent struct {
	UserAgent string
	Weight    int
}

// DefaultAgents is the rotating pool. Edge and Chrome dominate, matching the
// traffic the vendor's own web client sees.
var DefaultAgents = []WeightedAgent{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36 Edg/143.0.0.0", 12},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36 Edg/142.0.0.0", 8},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36 Edg/143.0.0.0", 4},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36 Edg/141.0.0.0", 2},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36", 14},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36", 10},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36", 8},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36", 3},
	{"Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Mobile Safari/537.36", 4},
	{"Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Mobile Safari/537.36 EdgA/142.0.0.0", 1},
}

// PoolProvider draws weighted random entries from a fixed pool.
type PoolProvider struct {
	mu     sync.Mutex
	rng    *rand.Rand
	agents []WeightedAgent
	total  int
}

// NewPoolProvider builds a provider over agents. A nil rng is seeded from the clock.
func NewPoolProvider(agents []WeightedAgent, rng *rand.Rand) *PoolProvider {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p := &PoolProvider{rng: rng}
	for _, a := range agents {
		if a.Weight <= 0 || a.UserAgent == "" {
			continue
		}
		p.agents = append(p.agents, a)
		p.total += a.Weight
	}
	return p
}

// Random implements UserAgentProvider.
func (p *PoolProvider) Random() (string, error) {
	if p.total == 0 {
		return "", ErrEmptyPool
	}
	p.mu.Lock()
	n := p.rng.Intn(p.total)
	p.mu.Unlock()

	for _, a := range p.agents {
		if n < a.Weight {
			return a.UserAgent, nil
		}
		n -= a.Weight
	}
	return "", ErrEmptyPool
}

// ConstantProvider always returns the same value.
type ConstantProvider string

// Random implements UserAgentProvider.
func (c ConstantProvider) Random() (string, error) {
	return string(c), nil
}

// FallbackProvider tries Primary and substitutes Fallback on any failure,
// including a panic inside Primary. It never returns an error.
type FallbackProvider struct {
	Primary  UserAgentProvider
	Fallback UserAgentProvider
	Logger   *zap.Logger
}

// Random implements UserAgentProvider.
func (f *FallbackProvider) Random() (ua string, err error) {
	ua, err = f.tryPrimary()
	if err == nil && ua != "" {
		return ua, nil
	}
	if f.Logger != nil {
		f.Logger.Debug("User agent pool failed, using fallback.", zap.Error(err))
	}
	if f.Fallback != nil {
		if fb, fbErr := f.Fallback.Random(); fbErr == nil && fb != "" {
			return fb, nil
		}
	}
	return FallbackUserAgent, nil
}

func (f *FallbackProvider) tryPrimary() (ua string, err error) {
	if f.Primary == nil {
		return "", errors.New("stealth: no primary provider")
	}
	defer func() {
		if r := recover(); r != nil {
			ua, err = "", fmt.Errorf("stealth: provider panicked: %v", r)
		}
	}()
	ua, err = f.Primary.Random()
	if err == nil && ua == "" {
		err = errors.New("stealth: provider returned an empty user agent")
	}
	return ua, err
}

// NewDefaultProvider wires the weighted pool in front of the constant fallback.
func NewDefaultProvider(logger *zap.Logger) UserAgentProvider {
	return &FallbackProvider{
		Primary:  NewPoolProvider(DefaultAgents, nil),
		Fallback: ConstantProvider(FallbackUserAgent),
		Logger:   logger,
	}
}

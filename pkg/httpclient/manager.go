package httpclient

import (
	"log/slog"
	"sync"
)

// CircuitBreakerConfig holds the global circuit breaker profile and
// per-service overrides, keyed by service name. Profile values are merged
// over the global config, so sparse overrides inherit the rest.
type CircuitBreakerConfig struct {
	Global   BreakerConfig            `json:"global" yaml:"global"`
	Profiles map[string]BreakerConfig `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

// DefaultCircuitBreakerConfig returns a config with sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Global: DefaultBreakerConfig(),
	}
}

// ProfileFor returns the merged config for a service: the service profile
// layered over global if one exists, otherwise global.
func (c *CircuitBreakerConfig) ProfileFor(serviceName string) BreakerConfig {
	if profile, ok := c.Profiles[serviceName]; ok {
		return c.Global.MergeWith(profile)
	}
	return c.Global
}

// CircuitBreakerManager hands out shared circuit breakers by service name.
// Requesting the same name twice returns the same breaker instance, so every
// client talking to a given backend sees the same open/closed state.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	logger   *slog.Logger
}

// NewCircuitBreakerManager creates a new manager with the given configuration.
func NewCircuitBreakerManager(cfg CircuitBreakerConfig) *CircuitBreakerManager {
	if cfg.Global.FailureThreshold == 0 && cfg.Global.ResetTimeout == 0 {
		cfg.Global = DefaultBreakerConfig()
	}
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		config:   cfg,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the manager.
func (m *CircuitBreakerManager) WithLogger(logger *slog.Logger) *CircuitBreakerManager {
	m.logger = logger
	return m
}

// GetOrCreate returns the circuit breaker for the service name, creating it
// from the merged profile config on first use.
func (m *CircuitBreakerManager) GetOrCreate(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}

	cfg := m.config.ProfileFor(name)
	breaker := NewCircuitBreaker(cfg)
	m.breakers[name] = breaker

	m.logger.Debug("created circuit breaker",
		slog.String("service", name),
		slog.Int("failure_threshold", cfg.FailureThreshold),
		slog.Duration("reset_timeout", cfg.ResetTimeout),
	)

	return breaker
}

// Get returns an existing circuit breaker by name, or nil if not found.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// ClientFor creates an HTTP client wired to the named service's shared
// breaker. The breaker profile's acceptable status codes are applied unless
// the client config sets its own.
func (m *CircuitBreakerManager) ClientFor(name string, cfg Config) *Client {
	breaker := m.GetOrCreate(name)
	if cfg.AcceptableStatusCodes == nil {
		cfg.AcceptableStatusCodes = breaker.Config().AcceptableStatusCodes
	}
	return NewWithBreaker(cfg, breaker)
}

// Names returns the names of all active circuit breakers.
func (m *CircuitBreakerManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// GetAllStats returns statistics for all active circuit breakers.
func (m *CircuitBreakerManager) GetAllStats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for name, breaker := range m.breakers {
		stats[name] = breaker.Stats()
	}
	return stats
}

// ResetBreaker resets a specific circuit breaker to closed state.
func (m *CircuitBreakerManager) ResetBreaker(name string) bool {
	m.mu.RLock()
	breaker, ok := m.breakers[name]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	breaker.Reset()
	m.logger.Info("circuit breaker reset", slog.String("service", name))
	return true
}

// ResetAll resets all circuit breakers to closed state.
func (m *CircuitBreakerManager) ResetAll() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for name, breaker := range m.breakers {
		breaker.Reset()
		m.logger.Debug("circuit breaker reset", slog.String("service", name))
		count++
	}

	return count
}

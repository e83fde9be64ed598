package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StateMachine(t *testing.T) {
	t.Run("opens after threshold consecutive failures", func(t *testing.T) {
		cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMax: 1})

		cb.RecordFailure()
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("transitions to half-open after reset timeout", func(t *testing.T) {
		cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenMax: 1})

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.False(t, cb.Allow())

		time.Sleep(30 * time.Millisecond)

		assert.True(t, cb.Allow())
		assert.Equal(t, CircuitHalfOpen, cb.State())

		// Only one probe allowed.
		assert.False(t, cb.Allow())
	})

	t.Run("probe success closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Millisecond, HalfOpenMax: 1})

		cb.RecordFailure()
		time.Sleep(5 * time.Millisecond)
		require.True(t, cb.Allow())

		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, 0, cb.Failures())
	})

	t.Run("probe failure reopens the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Millisecond, HalfOpenMax: 1})

		cb.RecordFailure()
		time.Sleep(5 * time.Millisecond)
		require.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
	})

	t.Run("reset returns to closed", func(t *testing.T) {
		cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMax: 1})

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())

		cb.Reset()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.True(t, cb.Allow())
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		cb := NewCircuitBreaker(BreakerConfig{})
		cfg := cb.Config()
		assert.Equal(t, DefaultCircuitThreshold, cfg.FailureThreshold)
		assert.Equal(t, DefaultCircuitTimeout, cfg.ResetTimeout)
	})
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute, HalfOpenMax: 1})

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, CircuitClosed, stats.State)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
	assert.InDelta(t, 33.3, stats.FailureRate, 0.1)
	assert.False(t, stats.LastFailure.IsZero())

	t.Run("next probe time set when open", func(t *testing.T) {
		cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMax: 1})
		cb.RecordFailure()

		stats := cb.Stats()
		assert.Equal(t, CircuitOpen, stats.State)
		assert.False(t, stats.NextProbeAt.IsZero())
		assert.True(t, stats.NextProbeAt.After(time.Now()))
	})
}

func TestBreakerConfig_MergeWith(t *testing.T) {
	base := BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 1}

	t.Run("non-zero fields override", func(t *testing.T) {
		merged := base.MergeWith(BreakerConfig{FailureThreshold: 10})
		assert.Equal(t, 10, merged.FailureThreshold)
		assert.Equal(t, 30*time.Second, merged.ResetTimeout)
		assert.Equal(t, 1, merged.HalfOpenMax)
	})

	t.Run("zero profile inherits everything", func(t *testing.T) {
		merged := base.MergeWith(BreakerConfig{})
		assert.Equal(t, base, merged)
	})

	t.Run("acceptable status codes carried over", func(t *testing.T) {
		set := MustParseStatusCodes("100-399")
		merged := base.MergeWith(BreakerConfig{AcceptableStatusCodes: set})
		assert.True(t, merged.AcceptableStatusCodes.Contains(302))
	})
}

func TestCircuitBreakerManager(t *testing.T) {
	t.Run("same name returns same breaker", func(t *testing.T) {
		m := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())

		b1 := m.GetOrCreate("video-gpu0")
		b2 := m.GetOrCreate("video-gpu0")
		b3 := m.GetOrCreate("video-gpu1")

		assert.Same(t, b1, b2)
		assert.NotSame(t, b1, b3)
	})

	t.Run("profile overrides global", func(t *testing.T) {
		cfg := CircuitBreakerConfig{
			Global: BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 1},
			Profiles: map[string]BreakerConfig{
				"tts": {FailureThreshold: 20},
			},
		}
		m := NewCircuitBreakerManager(cfg)

		assert.Equal(t, 20, m.GetOrCreate("tts").Config().FailureThreshold)
		assert.Equal(t, 5, m.GetOrCreate("video-gpu0").Config().FailureThreshold)
		assert.Equal(t, 30*time.Second, m.GetOrCreate("tts").Config().ResetTimeout)
	})

	t.Run("clients share the named breaker", func(t *testing.T) {
		m := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())

		c1 := m.ClientFor("video-gpu0", DefaultConfig())
		c2 := m.ClientFor("video-gpu0", DefaultConfig())

		c1.breaker.RecordFailure()
		assert.Equal(t, 1, c2.breaker.Failures())
	})

	t.Run("client inherits profile status codes", func(t *testing.T) {
		cfg := CircuitBreakerConfig{
			Global: DefaultBreakerConfig(),
			Profiles: map[string]BreakerConfig{
				"video-gpu0": {AcceptableStatusCodes: MustParseStatusCodes("100-399")},
			},
		}
		m := NewCircuitBreakerManager(cfg)

		client := m.ClientFor("video-gpu0", DefaultConfig())
		assert.True(t, client.config.AcceptableStatusCodes.Contains(302))
		assert.False(t, client.config.AcceptableStatusCodes.Contains(500))
	})

	t.Run("stats and reset", func(t *testing.T) {
		m := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())

		m.GetOrCreate("a").RecordFailure()
		m.GetOrCreate("b").RecordSuccess()

		stats := m.GetAllStats()
		require.Len(t, stats, 2)
		assert.Equal(t, int64(1), stats["a"].TotalFailures)
		assert.Equal(t, int64(1), stats["b"].TotalSuccesses)

		assert.True(t, m.ResetBreaker("a"))
		assert.False(t, m.ResetBreaker("missing"))
		assert.Equal(t, 2, m.ResetAll())
	})

	t.Run("get returns nil for unknown", func(t *testing.T) {
		m := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())
		assert.Nil(t, m.Get("unknown"))
	})
}

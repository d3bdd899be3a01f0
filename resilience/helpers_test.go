package resilience

import (
	"context"
	"time"
)

// noopLogger discards every log call; used across the circuit breaker test
// files wherever a test wants a breaker without capturing its log output.
type noopLogger struct{}

func (noopLogger) Info(msg string, fields map[string]interface{})  {}
func (noopLogger) Error(msg string, fields map[string]interface{}) {}
func (noopLogger) Warn(msg string, fields map[string]interface{})  {}
func (noopLogger) Debug(msg string, fields map[string]interface{}) {}

func (noopLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})  {}
func (noopLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {}
func (noopLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})  {}
func (noopLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {}

// newTestBreaker builds a breaker tuned the way the removed
// NewCircuitBreakerLegacy helper used to: a low, simple failure threshold
// with a single half-open probe, for tests that only care about the
// open/half-open/closed transition and not the sliding-window math.
func newTestBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	config := &CircuitBreakerConfig{
		Name:             "test-breaker",
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  recoveryTimeout,
		SleepWindow:      recoveryTimeout,
		ErrorThreshold:   0.5,
		VolumeThreshold:  1,
		HalfOpenRequests: 1,
		SuccessThreshold: 0.5,
		WindowSize:       60 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           noopLogger{},
		Metrics:          &noopMetrics{},
	}
	return NewCircuitBreakerWithConfig(config)
}

package llmclient

import (
	"sync"
	"time"

	"github.com/playforge-studio/modelplane/infrastructure/resilience"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

// breakerManager lazily creates and caches one resilience.CircuitBreaker
// per backend endpoint, matching spec.md §4.5's "circuit breaker state
// per backend" requirement without pre-registering every possible
// endpoint up front.
type breakerManager struct {
	failureThreshold int
	timeout          time.Duration
	log              *logger.Logger
	breakers         sync.Map // endpoint string -> *resilience.CircuitBreaker
}

func newBreakerManager(failureThreshold int, timeout time.Duration, log *logger.Logger) *breakerManager {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &breakerManager{failureThreshold: failureThreshold, timeout: timeout, log: log}
}

func (m *breakerManager) get(endpoint string) *resilience.CircuitBreaker {
	if existing, ok := m.breakers.Load(endpoint); ok {
		return existing.(*resilience.CircuitBreaker)
	}
	log := m.log
	cb := resilience.New(resilience.Config{
		MaxFailures: m.failureThreshold,
		Timeout:     m.timeout,
		OnStateChange: func(from, to resilience.State) {
			log.WithField("endpoint", endpoint).
				WithField("from_state", from.String()).
				WithField("to_state", to.String()).
				Warn("llm backend circuit breaker state changed")
		},
	})
	actual, _ := m.breakers.LoadOrStore(endpoint, cb)
	return actual.(*resilience.CircuitBreaker)
}

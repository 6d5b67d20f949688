package hostinvoker

import (
	"context"
	"sync"
)

// Mock is a RunFunc that records every call and replays canned
// Results, keyed by argv[0]. Tests use this to exercise the
// Provisioning Pipeline, Lifecycle Controller and Host Inspector
// without touching the real host.
type Mock struct {
	mu      sync.Mutex
	Calls   []Spec
	Results map[string]Result // keyed by argv[0]
	Default Result            // returned when argv[0] has no entry
	Secrets []string          // values registered via RegisterSecret
}

// NewMock builds an empty Mock. Results defaults to a map the caller
// populates before use; Default.OK() is true (exit code 0) unless set.
func NewMock() *Mock {
	return &Mock{Results: make(map[string]Result)}
}

// Run records spec and returns the configured Result for argv[0].
func (m *Mock) Run(_ context.Context, spec Spec) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, spec)

	if len(spec.Argv) > 0 {
		if result, ok := m.Results[spec.Argv[0]]; ok {
			return result
		}
	}
	return m.Default
}

// CallCount returns how many times Run was invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// RegisterSecret records value so tests can assert a stage registered
// the secret it was supposed to, without actually redacting anything.
func (m *Mock) RegisterSecret(value string) {
	if value == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Secrets = append(m.Secrets, value)
}

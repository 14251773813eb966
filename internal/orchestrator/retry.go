package orchestrator

import "sync"

// retryState is scoped to a single turn and reset implicitly by being
// rebuilt at turn start. It is shared by concurrent tool-call goroutines
// within one step, so every access goes through the mutex.
type retryState struct {
	mu       sync.Mutex
	attempts map[string]int
	total    int
	capLimit int
}

func newRetryState(capLimit int) *retryState {
	return &retryState{
		attempts: make(map[string]int),
		capLimit: capLimit,
	}
}

// reserve claims one tool-call dispatch against the turn budget. It
// returns false once the cap is reached; the caller must not dispatch.
func (s *retryState) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total >= s.capLimit {
		return false
	}
	s.total++
	return true
}

// countRetry records one window-expansion attempt for the original
// failing signature and reports whether the budget allowed it.
func (s *retryState) countRetry(signature string, maxAttempts int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts[signature] >= maxAttempts {
		return false
	}
	s.attempts[signature]++
	return true
}

func (s *retryState) totalDispatched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task of the given kind can start now.
	CanStart(exclusive bool) bool
	// OnStart is called when a task starts.
	OnStart(exclusive bool)
	// OnComplete is called when a task finishes.
	OnComplete(exclusive bool)
}

// SerializedStrategy runs one exclusive task and one shared task at a time.
// An exclusive task and a shared task can run in parallel.
type SerializedStrategy struct {
	mu               sync.Mutex
	exclusiveRunning bool
	sharedRunning    bool
}

// NewSerializedStrategy creates a strategy that serializes each kind of task.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart(exclusive bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive {
		return !s.exclusiveRunning
	}
	return !s.sharedRunning
}

func (s *SerializedStrategy) OnStart(exclusive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive {
		s.exclusiveRunning = true
	} else {
		s.sharedRunning = true
	}
}

func (s *SerializedStrategy) OnComplete(exclusive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive {
		s.exclusiveRunning = false
	} else {
		s.sharedRunning = false
	}
}

// PooledStrategy runs up to size shared tasks in parallel, plus at most one
// exclusive task.
type PooledStrategy struct {
	mu               sync.Mutex
	size             int
	sharedRunning    int
	exclusiveRunning bool
}

// NewPooledStrategy creates a strategy with a pool of size shared workers.
func NewPooledStrategy(size int) *PooledStrategy {
	if size < 1 {
		size = 1
	}
	return &PooledStrategy{size: size}
}

func (s *PooledStrategy) CanStart(exclusive bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive {
		return !s.exclusiveRunning
	}
	return s.sharedRunning < s.size
}

func (s *PooledStrategy) OnStart(exclusive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive {
		s.exclusiveRunning = true
	} else {
		s.sharedRunning++
	}
}

func (s *PooledStrategy) OnComplete(exclusive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive {
		s.exclusiveRunning = false
	} else if s.sharedRunning > 0 {
		s.sharedRunning--
	}
}

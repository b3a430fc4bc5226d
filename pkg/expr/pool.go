package expr

import (
	"sync"

	"go.starlark.net/starlark"
)

// randomKey is the thread-local slot holding the random source for op.random.
const randomKey = "leapframe.random"

// RandomSource supplies uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// ThreadPool manages a pool of Starlark threads for expression evaluation.
type ThreadPool struct {
	mu      sync.Mutex
	threads []*starlark.Thread
	maxSize int
}

// NewThreadPool creates a new thread pool with the specified maximum size.
func NewThreadPool(maxSize int) *ThreadPool {
	if maxSize <= 0 {
		maxSize = 10 // default pool size
	}
	return &ThreadPool{
		threads: make([]*starlark.Thread, 0, maxSize),
		maxSize: maxSize,
	}
}

var defaultPool = NewThreadPool(0)

// DefaultPool returns the shared thread pool.
func DefaultPool() *ThreadPool {
	return defaultPool
}

// Get retrieves a thread from the pool or creates a new one. The thread
// name is used for error reporting; rnd backs op.random and may be nil.
func (p *ThreadPool) Get(name string, rnd RandomSource) *starlark.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	var thread *starlark.Thread
	if n := len(p.threads); n > 0 {
		thread = p.threads[n-1]
		p.threads = p.threads[:n-1]
		thread.Name = name
	} else {
		thread = &starlark.Thread{
			Name:  name,
			Print: func(_ *starlark.Thread, _ string) {},
		}
	}
	thread.SetLocal(randomKey, rnd)
	return thread
}

// Put returns a thread to the pool for reuse.
// If the pool is full, the thread is discarded.
func (p *ThreadPool) Put(thread *starlark.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) < p.maxSize {
		// Clear any state that might leak between uses
		thread.Name = ""
		thread.SetLocal(randomKey, nil)
		p.threads = append(p.threads, thread)
	}
}

// Size returns the current number of threads in the pool.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

package worker

import (
	"log/slog"
	"sync"

	"github.com/baharkarakas/cirqle-payments/internal/metrics"
)

type task func()

// Pool runs fire-and-forget jobs off the request path (settlement events).
type Pool struct {
	wg     sync.WaitGroup
	jobs   chan task
	mu     sync.RWMutex
	closed bool
}

func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
				run(job)
			}
		}()
	}
	return p
}

func run(job task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker job panicked", "panic", r)
		}
	}()
	job()
}

// Submit enqueues f. It reports false when the pool is stopped or the queue is
// full; the job is dropped in that case.
func (p *Pool) Submit(f task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- f:
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		return true
	default:
		return false
	}
}

// Stop drains queued jobs and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

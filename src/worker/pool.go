package worker

import (
	"log/slog"
	"runtime"
	"sync"
)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{jobs: make(chan func(), 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				run(job)
			}
		}()
	}
}

func run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker job panicked", "panic", r)
		}
	}()
	job()
}

// Submit enqueues job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(job func()) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work. Submit must not be
// called afterwards.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}

package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one unit of delivery work.
type Task func(ctx context.Context)

// Scheduler runs tasks now or after a delay.
type Scheduler interface {
	RunNow(task Task)
	Schedule(task Task, delay time.Duration)
}

// Runner executes tasks on at most `workers` goroutines at a time. Delayed
// tasks are held by timers until they fire. Tasks submitted after Stop, and
// tasks still waiting for a worker when it is called, are dropped; their logs
// stay in storage and the poller picks them up on the next start.
type Runner struct {
	sem   chan struct{}
	drain time.Duration
	quit  chan struct{}
	log   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewRunner returns a runner with the given number of workers. On Stop,
// running tasks get up to drain to finish before their context is cancelled.
func NewRunner(workers int, drain time.Duration, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:    make(chan struct{}, workers),
		drain:  drain,
		quit:   make(chan struct{}),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[*time.Timer]struct{}),
	}
}

func (r *Runner) RunNow(task Task) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		select {
		case r.sem <- struct{}{}:
		case <-r.quit:
			return
		}
		defer func() { <-r.sem }()
		select {
		case <-r.quit:
			return
		default:
		}
		defer func() {
			if v := recover(); v != nil {
				r.log.Error().Interface("panic", v).Msg("delivery task panicked")
			}
		}()
		task(r.ctx)
	}()
}

func (r *Runner) Schedule(task Task, delay time.Duration) {
	if delay <= 0 {
		r.RunNow(task)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()
		r.RunNow(task)
	})
	r.timers[t] = struct{}{}
}

// Pending returns the number of delayed tasks not yet fired.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Wait blocks until every task started so far has returned. Delayed tasks
// are not waited for.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels pending timers and drops tasks waiting for a worker. Running
// tasks keep their context for up to the drain period and are cancelled
// after it; Stop returns once all of them have returned.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	close(r.quit)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	if r.drain > 0 {
		timer := time.NewTimer(r.drain)
		select {
		case <-done:
		case <-timer.C:
			r.log.Warn().Dur("drain", r.drain).Msg("cancelling delivery tasks still running after drain")
		}
		timer.Stop()
	}
	r.cancel()
	<-done
}

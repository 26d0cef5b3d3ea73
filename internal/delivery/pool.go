package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pool periodically re-dispatches hook logs whose attempt is due and
// recovers attempts interrupted by a crash. Tasks it dispatches run on the
// engine's Runner; dispatching a log that already has a task queued is
// harmless because only one of them can claim it.
type Pool struct {
	engine   *Engine
	runner   *Runner
	batch    int
	pollRate time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewPool(engine *Engine, runner *Runner, workers int, pollRate time.Duration, log zerolog.Logger) *Pool {
	if pollRate <= 0 {
		pollRate = 5 * time.Second
	}
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		engine:   engine,
		runner:   runner,
		batch:    workers * 4,
		pollRate: pollRate,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("batch", p.batch).Dur("poll_interval", p.pollRate).Msg("starting delivery pool")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
}

// Stop ends polling and waits for in-flight attempts to finish.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping delivery pool")
	close(p.stop)
	p.wg.Wait()
	p.runner.Stop()
	p.log.Info().Msg("delivery pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Pool) poll(ctx context.Context) {
	if n, err := p.engine.RecoverStale(ctx, p.batch); err != nil {
		p.log.Error().Err(err).Msg("failed to recover interrupted deliveries")
	} else if n > 0 {
		p.log.Warn().Int("count", n).Msg("recovered interrupted deliveries")
	}

	n, err := p.engine.DispatchDue(ctx, p.batch)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch due deliveries")
		return
	}
	if n > 0 {
		p.log.Debug().Int("count", n).Msg("dispatched due deliveries")
	}
}

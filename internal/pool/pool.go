// Package pool provides bounded translation worker pools and a small cache
// that reuses them across jobs with identical sizing.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Task is one unit of translation work executed on a pool worker.
type Task func(ctx context.Context)

// TranslationPool runs tasks on a fixed number of workers fed from a bounded
// queue. Pools are expensive to spin up relative to per-job orchestration,
// which is why the cache reuses them.
type TranslationPool struct {
	workerCount int
	tasks       chan Task
	logger      arbor.ILogger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

// NewTranslationPool creates and starts a pool with the given worker count
// and queue size.
func NewTranslationPool(workerCount, queueSize int, logger arbor.ILogger) *TranslationPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = workerCount
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &TranslationPool{
		workerCount: workerCount,
		tasks:       make(chan Task, queueSize),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Debug().
		Int("worker_count", workerCount).
		Int("queue_size", queueSize).
		Msg("Translation pool started")
	return p
}

// WorkerCount returns the pool's fixed parallelism.
func (p *TranslationPool) WorkerCount() int {
	return p.workerCount
}

// Submit queues a task, blocking while the queue is full. Returns an error
// once the pool is shut down or the caller's context ends.
func (p *TranslationPool) Submit(ctx context.Context, task Task) error {
	if p.ctx.Err() != nil {
		return fmt.Errorf("translation pool is shut down")
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("translation pool is shut down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains already-queued tasks and stops the workers, waiting up to
// the given timeout for them to exit.
func (p *TranslationPool) Shutdown(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.cancel()
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("translation pool shutdown timed out after %s", timeout)
		}
	})
	return err
}

func (p *TranslationPool) worker(workerID int) {
	defer p.wg.Done()
	p.logger.Debug().Int("worker_id", workerID).Msg("Pool worker started")
	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			p.logger.Debug().Int("worker_id", workerID).Msg("Pool worker stopped")
			return
		case task := <-p.tasks:
			if task != nil {
				task(p.ctx)
			}
		}
	}
}

// drain finishes tasks already queued at shutdown without accepting more.
func (p *TranslationPool) drain() {
	for {
		select {
		case task := <-p.tasks:
			if task != nil {
				task(p.ctx)
			}
		default:
			return
		}
	}
}

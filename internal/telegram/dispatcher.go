package telegram

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snapbuy/snapbuy/internal/logger"
)

// Dispatcher runs every submitted job in its own goroutine. There is no
// queue: a slow identification never delays another user's update.
type Dispatcher struct {
	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.RWMutex

	inFlight  atomic.Int64
	processed atomic.Int64
	panics    atomic.Int64
}

func NewDispatcher() *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{ctx: ctx, cancel: cancel}
}

func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	logger.InfoMsg("Dispatcher started")
	return nil
}

// Submit runs job asynchronously. The job's context is cancelled only when
// Stop gives up waiting.
func (d *Dispatcher) Submit(job func(ctx context.Context)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started {
		return fmt.Errorf("dispatcher not started")
	}

	d.wg.Add(1)
	d.inFlight.Add(1)
	go d.run(job)
	return nil
}

func (d *Dispatcher) run(job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			logger.Error("Dispatcher job panic recovered", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
		}
		d.inFlight.Add(-1)
		d.processed.Add(1)
		d.wg.Done()
	}()

	job(d.ctx)
}

// Stop rejects new jobs and waits up to timeout for running ones.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.started = false
	d.mu.Unlock()

	logger.Info("Stopping dispatcher...", map[string]interface{}{
		"in_flight": d.inFlight.Load(),
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		logger.InfoMsg("Dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		d.cancel()
		logger.Warn("Dispatcher shutdown timed out", map[string]interface{}{
			"in_flight": d.inFlight.Load(),
		})
		return fmt.Errorf("dispatcher shutdown timed out")
	}
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return map[string]interface{}{
		"started":   d.started,
		"in_flight": d.inFlight.Load(),
		"processed": d.processed.Load(),
		"panics":    d.panics.Load(),
	}
}

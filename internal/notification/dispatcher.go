package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal/obs"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification dispatcher closed")
)

type Worker struct {
	ID         int
	WorkerPool chan chan Notification
	JobChannel chan Notification
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Notification, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Notification),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Notification)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			// register as idle, then wait for work
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing notification", "worker_id", w.ID, "order_number", job.OrderNumber)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Config struct {
	MaxWorkers int
	QueueSize  int
	Timeout    time.Duration
}

// Dispatcher fans queued notifications out to a fixed pool of workers.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	metrics  *obs.Metrics
	logger   *slog.Logger

	jobQueue   chan Notification
	workerPool chan chan Notification
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pending    sync.WaitGroup
	once       sync.Once

	// mu orders Enqueue against Shutdown so nothing lands in a queue that
	// has already been settled.
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(config Config, notifier Notifier, metrics *obs.Metrics, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		notifier:   notifier,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan Notification, queueSize),
		workerPool: make(chan chan Notification, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the workers and the dispatch loop. Calling it again is a
// no-op.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		for i := 0; i < d.maxWorkers; i++ {
			worker := NewWorker(i, d.workerPool, d.logger)
			worker.Start(d.ctx, &d.wg, d.deliver)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("notification worker pool started",
			"max_workers", d.maxWorkers,
			"queue_size", cap(d.jobQueue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.jobQueue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- job:
				case <-d.ctx.Done():
					d.discard(job)
					return
				}
			case <-d.ctx.Done():
				d.discard(job)
				return
			}
		case <-d.ctx.Done():
			d.logger.Info("notification dispatcher shutting down")
			return
		}
	}
}

// Enqueue hands n to the pool without blocking. A full queue drops the
// notification; a shut down dispatcher refuses it.
func (d *Dispatcher) Enqueue(n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	d.pending.Add(1)
	select {
	case d.jobQueue <- n:
		return nil
	default:
		d.pending.Done()
		d.metrics.Notification("dropped")
		d.logger.Warn("notification queue full, dropping",
			"order_number", n.OrderNumber,
			"queue_capacity", cap(d.jobQueue))
		return ErrQueueFull
	}
}

func (d *Dispatcher) deliver(n Notification) {
	defer d.pending.Done()

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, n); err != nil {
		d.metrics.Notification("failed")
		d.logger.Error("notification delivery failed",
			"order_number", n.OrderNumber,
			"event_id", n.EventID,
			"error", err)
		return
	}
	d.metrics.Notification("delivered")
}

// discard settles a job that will never reach a worker.
func (d *Dispatcher) discard(n Notification) {
	d.pending.Done()
	d.metrics.Notification("discarded")
	d.logger.Warn("notification discarded on shutdown",
		"order_number", n.OrderNumber,
		"event_id", n.EventID)
}

// Drain blocks until every accepted notification has been delivered or
// discarded by Shutdown, or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the workers. Queued but undelivered notifications are
// discarded, which releases any concurrent Drain.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.logger.Info("shutting down notification dispatcher", "pending", len(d.jobQueue))
	d.cancel()
	d.wg.Wait()

	for {
		select {
		case job := <-d.jobQueue:
			d.discard(job)
		default:
			d.logger.Info("notification dispatcher shutdown complete")
			return
		}
	}
}

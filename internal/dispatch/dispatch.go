// Package dispatch runs update handlers on per-chat workers. Tasks for one
// chat run one at a time in submission order; tasks for different chats run
// concurrently up to a global limit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tg_link_relay_bot/internal/logging"
)

const (
	defaultQueueSize      = 16
	defaultTimeout        = 30 * time.Second
	defaultMaxConcurrency = 8
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("dispatcher is closed")

// Task is a unit of work. The context carries the task deadline and id.
type Task func(ctx context.Context) error

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	MaxConcurrency int
	Timeout        time.Duration
	QueueSize      int
}

// Chat identifies the chat a task belongs to. Tasks are serialized per ID;
// Name only labels log lines.
type Chat struct {
	ID   int64
	Name string
}

type job struct {
	id   string
	name string
	chat Chat
	run  Task
}

type worker struct {
	jobs chan job
	// pending counts submitted jobs not yet finished; guarded by Dispatcher.mu.
	pending int
}

// Dispatcher serializes tasks per chat and bounds overall concurrency.
type Dispatcher struct {
	timeout   time.Duration
	queueSize int
	sem       chan struct{}
	logger    *logrus.Entry

	mu      sync.Mutex
	workers map[int64]*worker
	closed  bool
	wg      sync.WaitGroup
}

// New constructs a Dispatcher.
func New(opts Options, logger *logrus.Entry) *Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Dispatcher{
		timeout:   opts.Timeout,
		queueSize: opts.QueueSize,
		sem:       make(chan struct{}, opts.MaxConcurrency),
		logger:    logger,
		workers:   make(map[int64]*worker),
	}
}

// Submit queues task on the worker for chat and returns the task id. It
// blocks while that chat's queue is full.
func (d *Dispatcher) Submit(chat Chat, name string, task Task) (string, error) {
	if d == nil {
		return "", errors.New("dispatcher is not initialized")
	}
	if task == nil {
		return "", errors.New("task is required")
	}

	j := job{id: uuid.NewString(), name: name, chat: chat, run: task}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	w, ok := d.workers[chat.ID]
	if !ok {
		w = &worker{jobs: make(chan job, d.queueSize)}
		d.workers[chat.ID] = w
		d.wg.Add(1)
		go d.loop(chat.ID, w)
	}
	// The worker cannot exit while pending > 0, so the send below always
	// has a receiver.
	w.pending++
	d.mu.Unlock()

	w.jobs <- j
	return j.id, nil
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for tasks: %w", ctx.Err())
	}
}

// loop drains a chat's queue and exits once the chat has no pending work.
func (d *Dispatcher) loop(chatID int64, w *worker) {
	defer d.wg.Done()

	for j := range w.jobs {
		d.execute(j)

		d.mu.Lock()
		w.pending--
		idle := w.pending == 0
		if idle {
			delete(d.workers, chatID)
		}
		d.mu.Unlock()

		if idle {
			return
		}
	}
}

func (d *Dispatcher) execute(j job) {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	entry := d.logger.
		WithFields(logging.Context{ChatID: j.chat.ID, ChatName: j.chat.Name, TaskID: j.id}.Fields()).
		WithField("task", j.name)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	ctx = logging.WithTaskID(ctx, j.id)

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			entry.WithFields(logging.Fields{
				"event": "task_panic",
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("task panicked")
		}
	}()

	if err := j.run(ctx); err != nil {
		entry.WithFields(logging.Fields{
			"event":       "task_failed",
			"duration_ms": time.Since(started).Milliseconds(),
		}).WithError(err).Error("task failed")
		return
	}

	entry.WithFields(logging.Fields{
		"event":       "task_done",
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("task finished")
}

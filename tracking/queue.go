// Package tracking : best-effort delivery of play analytics
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"cryogon/music-genie/api"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Sender interface {
	TrackPlay(ctx context.Context, generationID string, playDuration *float64) error
}

// singleShot is implemented by senders that retry on their own.
type singleShot interface {
	WithoutRetry() *api.Client
}

// Event is one play report. A nil PlayDuration marks the start of a play.
type Event struct {
	GenerationID string
	PlayDuration *float64
}

type Options struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
	Rate       float64 // sends per second, <= 0 means unlimited
	Timeout    time.Duration
	KeepTasks  int
	Logger     zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		QueueSize:  64,
		MaxRetries: 2,
		RetryDelay: time.Second,
		Rate:       5,
		Timeout:    10 * time.Second,
		KeepTasks:  256,
		Logger:     zerolog.Nop(),
	}
}

var ErrClosed = errors.New("tracking queue closed")

type Queue struct {
	sender  Sender
	opts    Options
	limiter *rate.Limiter

	jobs   chan *Task
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	tasks  map[string]*Task
	order  []string
}

func NewQueue(sender Sender, opts Options) *Queue {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.KeepTasks <= 0 {
		opts.KeepTasks = def.KeepTasks
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	// the queue owns the retry budget
	if s, ok := sender.(singleShot); ok {
		sender = s.WithoutRetry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sender:  sender,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		jobs:    make(chan *Task, opts.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
	}

	go q.worker()

	return q
}

// Enqueue never blocks. It returns the task id, which Task resolves even
// when ok is false because the event was dropped.
func (q *Queue) Enqueue(ev Event) (id string, ok bool) {
	task := &Task{
		ID:        uuid.NewString(),
		Event:     ev,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		task.Status = StatusDropped
		task.Error = ErrClosed.Error()
		q.remember(task)
		return task.ID, false
	}

	select {
	case q.jobs <- task:
		q.remember(task)
		return task.ID, true
	default:
		task.Status = StatusDropped
		task.Error = "queue full"
		q.remember(task)
		q.opts.Logger.Warn().Str("generation_id", ev.GenerationID).Msg("tracking queue full, event dropped")
		return task.ID, false
	}
}

// Task returns a copy of a task record.
func (q *Queue) Task(id string) (Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Snapshot lists the retained tasks oldest first.
func (q *Queue) Snapshot() []Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Task, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.tasks[id])
	}
	return out
}

// Close stops intake and waits for queued events to be sent.
// When ctx expires first, in-flight work is abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer close(q.done)

	q.opts.Logger.Debug().Msg("tracking worker started")

	for task := range q.jobs {
		if q.ctx.Err() != nil {
			q.update(task.ID, StatusDropped, 0, q.ctx.Err())
			continue
		}

		err := q.deliver(task)
		if err != nil {
			q.opts.Logger.Warn().Err(err).Str("task", task.ID).Str("generation_id", task.Event.GenerationID).Msg("play event not delivered")
		} else {
			q.opts.Logger.Debug().Str("task", task.ID).Str("generation_id", task.Event.GenerationID).Msg("play event sent")
		}
	}
}

func (q *Queue) deliver(task *Task) error {
	var err error
	for attempt := 1; attempt <= q.opts.MaxRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-q.ctx.Done():
				q.update(task.ID, StatusFailed, attempt-1, q.ctx.Err())
				return q.ctx.Err()
			case <-time.After(q.opts.RetryDelay):
			}
		}

		if werr := q.limiter.Wait(q.ctx); werr != nil {
			q.update(task.ID, StatusFailed, attempt-1, werr)
			return werr
		}

		q.update(task.ID, StatusSending, attempt, nil)
		err = q.send(task.Event)
		if err == nil {
			q.update(task.ID, StatusSent, attempt, nil)
			return nil
		}
		if !api.IsRetryable(err) {
			break
		}
	}

	q.markFailed(task.ID, err)
	return err
}

func (q *Queue) send(ev Event) error {
	ctx, cancel := context.WithTimeout(q.ctx, q.opts.Timeout)
	defer cancel()
	return q.sender.TrackPlay(ctx, ev.GenerationID, ev.PlayDuration)
}

func (q *Queue) update(id string, status Status, attempts int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return
	}
	task.Status = status
	if attempts > task.Attempts {
		task.Attempts = attempts
	}
	if err != nil {
		task.Error = err.Error()
	}
	if status == StatusSent || status == StatusFailed {
		task.FinishedAt = time.Now()
	}
}

func (q *Queue) markFailed(id string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task, ok := q.tasks[id]; ok {
		task.Status = StatusFailed
		task.Error = err.Error()
		task.FinishedAt = time.Now()
	}
}

// remember must be called with mu held. Finished tasks beyond KeepTasks are forgotten oldest first.
func (q *Queue) remember(task *Task) {
	q.tasks[task.ID] = task
	q.order = append(q.order, task.ID)

	for len(q.order) > q.opts.KeepTasks {
		victim := -1
		for i, id := range q.order {
			if q.tasks[id].Status.Final() {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		delete(q.tasks, q.order[victim])
		q.order = append(q.order[:victim], q.order[victim+1:]...)
	}
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrTaskNotFound  = errors.New("repeating task not found")
	ErrNoHandler     = errors.New("no handler registered for task")
	ErrInvalidPeriod = errors.New("period must be positive")
)

// Task is what a handler receives on each tick. TickAt is the scheduled tick
// time, not the wall-clock dispatch time, so attempts can be keyed stably
// across a replay of the same tick.
type Task struct {
	JobID     string
	Name      string
	RepeatKey string
	Payload   json.RawMessage
	TickAt    time.Time
}

// Handler is invoked once per elapsed period with the original payload.
// Invocations for different tasks may run concurrently; invocations for the
// same task never overlap; a tick that fires while the previous one is
// still running is skipped (the lease stays held until the handler returns).
type Handler func(ctx context.Context, task Task) error

type Options struct {
	// PollInterval is how often due tasks are looked up. Defaults to 1s.
	PollInterval time.Duration
	// LeaseTimeout bounds how long a crashed worker can hold a task before
	// recovery releases it. Defaults to 10m.
	LeaseTimeout time.Duration
	// Concurrency caps in-flight handler invocations. Defaults to 8.
	Concurrency int
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 10 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return opts
}

// Queue is a persistent, interval-driven task queue. Repeating tasks are
// rows in the shared database; the queue polls for due rows, claims them
// with a lease and dispatches the registered handler.
type Queue struct {
	db   *gorm.DB
	opts Options

	mu       sync.RWMutex
	handlers map[string]Handler

	sem  chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(db *gorm.DB, opts Options) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		db:       db,
		opts:     opts,
		handlers: make(map[string]Handler),
		sem:      make(chan struct{}, opts.Concurrency),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a task name. Must be called before Run
// for tasks that are already persisted.
func (q *Queue) RegisterHandler(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Schedule registers a repeating task with a fixed period and persists it.
// The first tick fires one full period after creation. The repeat key is
// returned directly from this call; no secondary lookup is needed to cancel.
func (q *Queue) Schedule(ctx context.Context, name string, payload []byte, every time.Duration) (jobID, repeatKey string, err error) {
	if every <= 0 {
		return "", "", ErrInvalidPeriod
	}
	task := RepeatingTask{
		JobID:     "job_" + uuid.NewString(),
		Name:      name,
		RepeatKey: "rep_" + uuid.NewString(),
		Payload:   string(payload),
		EveryMs:   every.Milliseconds(),
		Enabled:   true,
		NextRunAt: time.Now().Add(every),
	}
	if err := q.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", "", err
	}
	return task.JobID, task.RepeatKey, nil
}

// ScheduleCron registers a repeating task driven by a standard cron
// expression instead of a fixed period.
func (q *Queue) ScheduleCron(ctx context.Context, name string, payload []byte, expr string) (jobID, repeatKey string, err error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return "", "", err
	}
	task := RepeatingTask{
		JobID:     "job_" + uuid.NewString(),
		Name:      name,
		RepeatKey: "rep_" + uuid.NewString(),
		Payload:   string(payload),
		CronExpr:  expr,
		Enabled:   true,
		NextRunAt: sched.Next(time.Now()),
	}
	if err := q.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", "", err
	}
	return task.JobID, task.RepeatKey, nil
}

// ListRepeating returns all persisted repeating tasks.
func (q *Queue) ListRepeating(ctx context.Context) ([]RepeatingTask, error) {
	var tasks []RepeatingTask
	err := q.db.WithContext(ctx).Find(&tasks).Error
	return tasks, err
}

// CancelRepeating removes a repeating task by its repeat key. A tick already
// in flight runs to completion; no further ticks fire.
func (q *Queue) CancelRepeating(ctx context.Context, repeatKey string) error {
	res := q.db.WithContext(ctx).Where("repeat_key = ?", repeatKey).Delete(&RepeatingTask{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Run recovers stale leases and then polls for due tasks until ctx is
// cancelled or Stop is called. Blocking; callers usually run it in a
// goroutine.
func (q *Queue) Run(ctx context.Context) {
	if n, err := q.recoverStale(ctx, time.Now()); err != nil {
		log.Error().Err(err).Msg("queue: stale lease recovery failed")
	} else if n > 0 {
		log.Info().Int64("recovered", n).Msg("queue: recovered stale leases")
	}

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	log.Info().Dur("poll_interval", q.opts.PollInterval).Msg("queue: started")

	defer func() {
		q.wg.Wait()
		close(q.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case now := <-ticker.C:
			q.dispatchDue(ctx, now)
		}
	}
}

// Stop halts polling and blocks until the poll loop has exited and every
// in-flight handler has finished. Run must have been started.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stop) })
	<-q.done
}

// recoverStale releases leases held longer than the lease timeout, e.g. by a
// worker that crashed mid-tick. The tick itself is not re-run; the task fires
// again at its stored NextRunAt.
func (q *Queue) recoverStale(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-q.opts.LeaseTimeout)
	res := q.db.WithContext(ctx).Model(&RepeatingTask{}).
		Where("running = ? AND locked_at < ?", true, cutoff).
		Updates(map[string]interface{}{"running": false, "locked_at": nil})
	return res.RowsAffected, res.Error
}

func (q *Queue) dispatchDue(ctx context.Context, now time.Time) {
	var due []RepeatingTask
	err := q.db.WithContext(ctx).
		Where("enabled = ? AND running = ? AND next_run_at <= ?", true, false, now).
		Find(&due).Error
	if err != nil {
		log.Error().Err(err).Msg("queue: failed to load due tasks")
		return
	}

	for _, task := range due {
		// Claim the lease. RowsAffected 0 means another worker got there
		// first or the previous tick is still running; skip this tick.
		res := q.db.WithContext(ctx).Model(&RepeatingTask{}).
			Where("id = ? AND running = ? AND enabled = ?", task.ID, false, true).
			Updates(map[string]interface{}{"running": true, "locked_at": now})
		if res.Error != nil {
			log.Error().Err(res.Error).Str("job_id", task.JobID).Msg("queue: lease claim failed")
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		q.sem <- struct{}{}
		q.wg.Add(1)
		go q.runTask(ctx, task)
	}
}

func (q *Queue) runTask(ctx context.Context, task RepeatingTask) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	tickAt := task.NextRunAt

	q.mu.RLock()
	handler, ok := q.handlers[task.Name]
	q.mu.RUnlock()

	var err error
	if !ok {
		err = ErrNoHandler
	} else {
		err = handler(ctx, Task{
			JobID:     task.JobID,
			Name:      task.Name,
			RepeatKey: task.RepeatKey,
			Payload:   json.RawMessage(task.Payload),
			TickAt:    tickAt,
		})
	}
	if err != nil {
		log.Error().Err(err).
			Str("job_id", task.JobID).
			Str("task", task.Name).
			Time("tick_at", tickAt).
			Msg("queue: tick failed")
	}

	// Advance from now rather than from the scheduled tick, so a handler
	// that overran its period does not trigger an immediate catch-up burst.
	next, nerr := task.nextAfter(time.Now())
	if nerr != nil {
		log.Error().Err(nerr).Str("job_id", task.JobID).Msg("queue: next run computation failed, disabling task")
		q.db.Model(&RepeatingTask{}).Where("id = ?", task.ID).
			Updates(map[string]interface{}{"running": false, "locked_at": nil, "enabled": false})
		return
	}

	res := q.db.Model(&RepeatingTask{}).Where("id = ?", task.ID).
		Updates(map[string]interface{}{
			"running":     false,
			"locked_at":   nil,
			"last_run_at": tickAt,
			"next_run_at": next,
		})
	if res.Error != nil {
		log.Error().Err(res.Error).Str("job_id", task.JobID).Msg("queue: failed to release lease")
	}
}

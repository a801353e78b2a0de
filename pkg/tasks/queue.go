package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charlievoice/charlie/pkg/logger"
)

// Runner executes one queued request through to a terminal status.
type Runner interface {
	Run(ctx context.Context, req *Request, spec TypeSpec) Result
}

// QueueConfig bounds admission and dispatch.
type QueueConfig struct {
	Capacity    int
	Workers     int
	MaxRetries  int
	BaseBackoff time.Duration

	// ResultRetention is how long a terminal task stays queryable
	// through GetStatus before it is pruned. The audit log keeps the
	// permanent record.
	ResultRetention time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Capacity <= 0 {
		c.Capacity = 64
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = time.Hour
	}
	return c
}

// Queue admits, orders, and dispatches task executions: bounded
// admission with fail-fast backpressure, FIFO per user, concurrent
// across users up to the worker-pool size.
type Queue struct {
	cfg       QueueConfig
	registry  *Registry
	validator *Validator
	runner    Runner
	audit     *AuditLog

	mu       sync.Mutex
	queued   int
	users    map[string]*userTasks
	statuses map[string]*taskState
	finished []string

	dispatch  chan string
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	baseCtx   context.Context
	cancel    context.CancelFunc
}

type userTasks struct {
	pending []*Request
	active  bool
}

type taskState struct {
	req    *Request
	result *Result
	doneAt time.Time
}

// NewQueue builds the queue and starts its worker pool. Call Close to
// stop the workers and cancel in-flight runs.
func NewQueue(registry *Registry, validator *Validator, runner Runner, audit *AuditLog, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		registry:  registry,
		validator: validator,
		runner:    runner,
		audit:     audit,
		users:     map[string]*userTasks{},
		statuses:  map[string]*taskState{},
		dispatch:  make(chan string, cfg.Capacity),
		stopCh:    make(chan struct{}),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Close stops the workers and cancels running sandboxes. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.stopCh)
		q.cancel()
	})
	q.wg.Wait()
}

// Submit validates and enqueues a task. It returns the task id
// immediately, a validation error with no side effects, or ErrQueueFull
// when the queue is at capacity.
func (q *Queue) Submit(userID string, taskType Type, params map[string]string) (string, error) {
	req := &Request{
		ID:        "task-" + uuid.NewString(),
		UserID:    userID,
		Type:      taskType,
		Params:    params,
		CreatedAt: time.Now(),
	}

	if err := q.validator.Validate(req); err != nil {
		q.recordRejection(req, err)
		return "", err
	}

	q.mu.Lock()
	q.pruneLocked(time.Now())
	if q.queued >= q.cfg.Capacity {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %d tasks pending", ErrQueueFull, q.cfg.Capacity)
	}
	q.queued++
	req.Status = StatusQueued
	q.statuses[req.ID] = &taskState{req: req}
	ut := q.users[userID]
	if ut == nil {
		ut = &userTasks{}
		q.users[userID] = ut
	}
	ut.pending = append(ut.pending, req)
	signal := !ut.active
	if signal {
		ut.active = true
	}
	q.mu.Unlock()

	if signal {
		q.dispatch <- userID
	}
	return req.ID, nil
}

// recordRejection makes a rejected submission visible in the status map
// and the audit log. No sandbox or queue resource was created.
func (q *Queue) recordRejection(req *Request, cause error) {
	q.mu.Lock()
	q.statuses[req.ID] = &taskState{req: req, doneAt: time.Now()}
	q.finished = append(q.finished, req.ID)
	q.mu.Unlock()
	if err := q.audit.Append(q.baseCtx, AuditEntry{
		TaskID: req.ID,
		UserID: req.UserID,
		Type:   req.Type,
		Params: req.Params,
		Status: StatusRejected,
		Error:  cause.Error(),
	}); err != nil {
		logger.ErrorCF("queue", "audit rejected task failed", map[string]interface{}{
			"task_id": req.ID,
			"error":   err.Error(),
		})
	}
}

// GetStatus returns the current status and, once terminal, the result.
func (q *Queue) GetStatus(taskID string) (Status, *Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[taskID]
	if !ok {
		return "", nil, ErrNotFound
	}
	return st.req.Status, st.result, nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case userID := <-q.dispatch:
			q.drainUser(userID)
		}
	}
}

// drainUser runs the user's pending tasks in submission order. One
// worker owns a user at a time, so per-user execution is serial while
// different users run in parallel.
func (q *Queue) drainUser(userID string) {
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		q.mu.Lock()
		ut := q.users[userID]
		if ut == nil || len(ut.pending) == 0 {
			if ut != nil {
				ut.active = false
			}
			q.mu.Unlock()
			return
		}
		req := ut.pending[0]
		ut.pending = ut.pending[1:]
		q.queued--
		q.mu.Unlock()

		q.runWithRetry(req)
		q.markDone(req.ID)
	}
}

// markDone timestamps a finished task for retention pruning. It fires
// once the whole retry loop is over, not per attempt, so a task mid
// retry cannot be evicted.
func (q *Queue) markDone(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.statuses[taskID]; ok {
		st.doneAt = time.Now()
		q.finished = append(q.finished, taskID)
	}
}

// pruneLocked evicts terminal tasks older than the retention window.
// Caller holds q.mu. The finished list is in completion order, so the
// scan stops at the first entry still inside the window.
func (q *Queue) pruneLocked(now time.Time) {
	cutoff := now.Add(-q.cfg.ResultRetention)
	i := 0
	for ; i < len(q.finished); i++ {
		st, ok := q.statuses[q.finished[i]]
		if ok && st.doneAt.After(cutoff) {
			break
		}
		delete(q.statuses, q.finished[i])
	}
	q.finished = q.finished[i:]
}

func (q *Queue) runWithRetry(req *Request) {
	spec, ok := q.registry.Lookup(req.Type)
	if !ok {
		// Validation guarantees membership; a miss here is a bug.
		q.setResult(req, Result{TaskID: req.ID, Status: StatusFailed, Error: "type missing from dispatch table"})
		return
	}

	delay := q.cfg.BaseBackoff
	for attempt := 0; ; attempt++ {
		result := q.runner.Run(q.baseCtx, req, spec)
		q.setResult(req, result)

		retryable := spec.Idempotent && (result.Status == StatusTimedOut || (result.Status == StatusFailed && result.Transient))
		if !retryable || attempt >= q.cfg.MaxRetries {
			return
		}
		logger.WarnCF("queue", "retrying idempotent task", map[string]interface{}{
			"task_id": req.ID,
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"status":  string(result.Status),
		})
		select {
		case <-q.stopCh:
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (q *Queue) setResult(req *Request, result Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.statuses[req.ID]; ok {
		st.result = &result
	}
}

package tasks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/charlievoice/charlie/pkg/logger"
)

// ScheduledTask is a recurring submission: a cron expression plus the
// task it submits through the same validated path as ad-hoc tasks.
type ScheduledTask struct {
	Expr   string
	UserID string
	Type   Type
	Params map[string]string
}

// Scheduler ticks on minute boundaries and submits due entries.
type Scheduler struct {
	queue *Queue
	gron  *gronx.Gronx

	mu      sync.Mutex
	entries []ScheduledTask

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	startOnce sync.Once
}

func NewScheduler(queue *Queue) *Scheduler {
	return &Scheduler{
		queue:  queue,
		gron:   gronx.New(),
		stopCh: make(chan struct{}),
	}
}

// Add registers a recurring task after checking its cron expression.
func (s *Scheduler) Add(entry ScheduledTask) error {
	if !s.gron.IsValid(entry.Expr) {
		return fmt.Errorf("invalid cron expression %q", entry.Expr)
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

// Start launches the minute loop. Idempotent.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Close stops the loop. Idempotent.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	// Align the first tick to the next minute boundary so every minute
	// slot is evaluated exactly once.
	first := time.NewTimer(time.Until(time.Now().Truncate(time.Minute).Add(time.Minute)))
	defer first.Stop()
	select {
	case <-s.stopCh:
		return
	case now := <-first.C:
		s.tick(now)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	entries := make([]ScheduledTask, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	// Five-field expressions gain an implicit seconds segment, so the
	// reference must sit exactly on the minute boundary to match.
	now = now.Truncate(time.Minute)

	for _, entry := range entries {
		due, err := s.gron.IsDue(entry.Expr, now)
		if err != nil || !due {
			continue
		}
		taskID, err := s.queue.Submit(entry.UserID, entry.Type, entry.Params)
		if err != nil {
			level := logger.WarnCF
			if errors.Is(err, ErrQueueFull) {
				// Backpressure: the slot is skipped, not buffered.
				level = logger.InfoCF
			}
			level("scheduler", "recurring submission not admitted", map[string]interface{}{
				"user_id": entry.UserID,
				"type":    string(entry.Type),
				"error":   err.Error(),
			})
			continue
		}
		logger.DebugCF("scheduler", "submitted recurring task", map[string]interface{}{
			"task_id": taskID,
			"type":    string(entry.Type),
		})
	}
}

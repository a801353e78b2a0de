package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charlievoice/charlie/pkg/logger"
	"github.com/charlievoice/charlie/pkg/memory"
)

// Store is the slice of the memory store the session manager needs.
type Store interface {
	Create(ctx context.Context, r memory.Record) (memory.Record, error)
	Query(ctx context.Context, userID string, f memory.QueryFilter) ([]memory.Record, error)
}

// Manager owns the short-term window per user and decides which turns
// become long-term memories.
type Manager struct {
	cfg   Config
	store Store

	mu       sync.Mutex
	sessions map[string]*userSession

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	now func() time.Time
}

type userSession struct {
	mu             sync.Mutex
	window         []Turn
	lastActivityAt time.Time
	promoted       map[string]struct{}
	keyCounts      map[string]int
}

// NewManager builds a manager and starts its expiry sweeper. Call Close
// to stop it.
func NewManager(store Store, cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		store:    store,
		sessions: map[string]*userSession{},
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Close stops the background sweeper. Idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, sess := range m.sessions {
		sess.mu.Lock()
		expired := now.Sub(sess.lastActivityAt) > m.cfg.Timeout
		sess.mu.Unlock()
		if expired {
			delete(m.sessions, userID)
			logger.DebugCF("session", "expired idle session", map[string]interface{}{
				"user_id": userID,
			})
		}
	}
}

// session returns the user's live session, resetting it lazily when the
// previous one has idled past the timeout.
func (m *Manager) session(userID string) *userSession {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	if ok {
		sess.mu.Lock()
		stale := now.Sub(sess.lastActivityAt) > m.cfg.Timeout
		sess.mu.Unlock()
		if !stale {
			return sess
		}
	}
	sess = &userSession{
		lastActivityAt: now,
		promoted:       map[string]struct{}{},
		keyCounts:      map[string]int{},
	}
	m.sessions[userID] = sess
	return sess
}

// AppendTurn appends a turn to the user's window under that user's lock,
// promoting memorable user turns and evicting overflow. Long-term
// storage failures degrade to a log line; the turn itself never fails.
func (m *Manager) AppendTurn(ctx context.Context, userID string, role Role, text string) Turn {
	turn := Turn{
		ID:        "turn-" + uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Text:      text,
		Timestamp: m.now(),
	}

	sess := m.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.window = append(sess.window, turn)
	sess.lastActivityAt = turn.Timestamp

	if role == RoleUser {
		sig := DeriveSignals(text)
		sess.keyCounts[sig.Key]++
		// Repetition across the conversation boosts the score.
		sig.Score += sess.keyCounts[sig.Key] - 1
		if sig.Score >= m.cfg.PromoteThreshold {
			m.promote(ctx, sess, userID, sig)
		}
	}

	for len(sess.window) > m.cfg.WindowCapacity {
		evicted := sess.window[0]
		sess.window = sess.window[1:]
		m.scoreEvicted(ctx, sess, evicted)
	}
	return turn
}

// scoreEvicted gives a turn leaving the window one last chance at
// promotion, with its score decayed by age.
func (m *Manager) scoreEvicted(ctx context.Context, sess *userSession, evicted Turn) {
	if evicted.Role != RoleUser {
		return
	}
	sig := DeriveSignals(evicted.Text)
	if count := sess.keyCounts[sig.Key]; count > 1 {
		sig.Score += count - 1
	}
	age := m.now().Sub(evicted.Timestamp)
	sig.Score -= int(age / (10 * time.Minute))
	if sig.Score >= m.cfg.PromoteThreshold {
		m.promote(ctx, sess, evicted.UserID, sig)
	}
}

func (m *Manager) promote(ctx context.Context, sess *userSession, userID string, sig Signals) {
	if _, done := sess.promoted[sig.Key]; done {
		return
	}
	rec := memory.Record{
		UserID:     userID,
		Type:       sig.Type,
		Content:    sig.Content,
		Importance: clampImportance(sig.Score),
		Tags:       sig.Tags,
	}
	created, err := m.store.Create(ctx, rec)
	if err != nil {
		logger.WarnCF("session", "memory promotion failed, continuing without persistence", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return
	}
	sess.promoted[sig.Key] = struct{}{}
	logger.DebugCF("session", "promoted turn to long-term memory", map[string]interface{}{
		"user_id":    userID,
		"memory_id":  created.ID,
		"importance": created.Importance,
	})
}

// RetrieveRelevant queries long-term memory with the tags detected in
// the current turn. Ordering is deterministic for identical store state.
func (m *Manager) RetrieveRelevant(ctx context.Context, userID, turnText string, k int) ([]memory.Record, error) {
	if k <= 0 {
		k = m.cfg.RetrieveLimit
	}
	return m.store.Query(ctx, userID, memory.QueryFilter{
		Tags:  QueryTags(turnText),
		Limit: k,
	})
}

// Window returns a copy of the user's current short-term window in
// chronological order.
func (m *Manager) Window(userID string) []Turn {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if m.now().Sub(sess.lastActivityAt) > m.cfg.Timeout {
		return nil
	}
	out := make([]Turn, len(sess.window))
	copy(out, sess.window)
	return out
}

// CloseSession drops the user's short-term window. Long-term memory is
// unaffected.
func (m *Manager) CloseSession(userID string) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

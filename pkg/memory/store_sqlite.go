package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/charlievoice/charlie/pkg/logger"
)

// SQLiteStore is the canonical persistent memory storage.
type SQLiteStore struct {
	db      *sql.DB
	weights RankWeights
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string, weights RankWeights) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, weights: weights}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance INTEGER NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL,
			last_accessed_at_ms INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			soft_deleted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS memories_user_rank_idx ON memories(user_id, soft_deleted, importance DESC, last_accessed_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS memories_user_created_idx ON memories(user_id, created_at_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	line := strings.TrimSpace(stmt)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func validateRecord(r Record) error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: empty user id", ErrValidation)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrValidation)
	}
	if !validType(r.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, r.Type)
	}
	if r.Importance < 1 || r.Importance > 5 {
		return fmt.Errorf("%w: importance %d outside [1,5]", ErrValidation, r.Importance)
	}
	if len(r.Tags) == 0 {
		return fmt.Errorf("%w: no tags", ErrValidation)
	}
	for _, tag := range r.Tags {
		if !ValidTag(tag) {
			return fmt.Errorf("%w: tag %q outside controlled vocabulary", ErrValidation, tag)
		}
	}
	return nil
}

// Create validates and persists a record. On success the record survives
// process restart.
func (s *SQLiteStore) Create(ctx context.Context, r Record) (Record, error) {
	if err := validateRecord(r); err != nil {
		return Record{}, err
	}
	if r.ID == "" {
		r.ID = "mem-" + uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.LastAccessedAt.IsZero() {
		r.LastAccessedAt = r.CreatedAt
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO memories(id, user_id, type, content, importance, tags_json, created_at_ms, last_accessed_at_ms, access_count, soft_deleted)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(r.Type), r.Content, r.Importance, encodeTags(r.Tags),
		r.CreatedAt.UnixMilli(), r.LastAccessedAt.UnixMilli(), r.AccessCount, boolToInt(r.SoftDeleted))
	if err != nil {
		return Record{}, fmt.Errorf("create memory: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		r.seq = seq
	}
	return r, nil
}

// Get returns one record by id, soft-deleted included.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT rowid, id, user_id, type, content, importance, tags_json, created_at_ms, last_accessed_at_ms, access_count, soft_deleted
FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get memory: %w", err)
	}
	return rec, nil
}

// Query returns the user's records ordered by relevance to the filter
// tags. Soft-deleted rows are excluded unless the filter asks for them.
func (s *SQLiteStore) Query(ctx context.Context, userID string, f QueryFilter) ([]Record, error) {
	softFilter := 0
	if f.IncludeSoftDeleted {
		softFilter = 1
	}
	text := strings.TrimSpace(strings.ToLower(f.Text))
	rows, err := s.db.QueryContext(ctx, `
SELECT rowid, id, user_id, type, content, importance, tags_json, created_at_ms, last_accessed_at_ms, access_count, soft_deleted
FROM memories
WHERE user_id = ?
AND (? = 1 OR soft_deleted = 0)
AND (? = '' OR instr(lower(content), ?) > 0)`,
		userID, softFilter, text, text)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	out = rankRecords(out, f.Tags, time.Now(), s.weights)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Touch records a use of the memory in a prompt.
func (s *SQLiteStore) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE memories
SET access_count = access_count + 1, last_accessed_at_ms = ?
WHERE id = ?`, nowMS(), id)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete hides a record from normal queries without destroying it.
func (s *SQLiteStore) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET soft_deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("soft delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Erase hard-deletes every record belonging to userID. Irreversible.
func (s *SQLiteStore) Erase(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("erase user memories: %w", err)
	}
	n, _ := res.RowsAffected()
	logger.WarnCF("memory", "hard-erased user records", map[string]interface{}{
		"user_id": userID,
		"count":   n,
	})
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var typ, tagsRaw string
	var createdMS, accessedMS int64
	var soft int
	if err := row.Scan(&rec.seq, &rec.ID, &rec.UserID, &typ, &rec.Content, &rec.Importance, &tagsRaw, &createdMS, &accessedMS, &rec.AccessCount, &soft); err != nil {
		return Record{}, err
	}
	rec.Type = RecordType(typ)
	rec.Tags = decodeTags(tagsRaw)
	rec.CreatedAt = time.UnixMilli(createdMS)
	rec.LastAccessedAt = time.UnixMilli(accessedMS)
	rec.SoftDeleted = soft != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

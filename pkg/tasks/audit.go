package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// AuditLog is the append-only record of terminal task transitions. Rows
// are never updated or deleted.
type AuditLog struct {
	db *sql.DB
}

// AuditEntry is one immutable row of the task log.
type AuditEntry struct {
	ID         int64
	TaskID     string
	UserID     string
	Type       Type
	Params     map[string]string
	Status     Status
	DurationMS int64
	Output     string
	Stderr     string
	Error      string
	CreatedAt  time.Time
}

func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS task_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			params_json TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			output TEXT NOT NULL DEFAULT '',
			stderr TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS task_audit_task_idx ON task_audit(task_id, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS task_audit_status_idx ON task_audit(status, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init audit schema: %w", err)
		}
	}
	return &AuditLog{db: db}, nil
}

func (a *AuditLog) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Append writes one terminal transition. Params are redacted before they
// touch disk.
func (a *AuditLog) Append(ctx context.Context, e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx, `
INSERT INTO task_audit(task_id, user_id, type, params_json, status, duration_ms, output, stderr, error, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.UserID, string(e.Type), encodeParams(redactParams(e.Params)),
		string(e.Status), e.DurationMS, e.Output, e.Stderr, e.Error, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append task audit: %w", err)
	}
	return nil
}

func (a *AuditLog) ListByTask(ctx context.Context, taskID string) ([]AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT id, task_id, user_id, type, params_json, status, duration_ms, output, stderr, error, created_at_ms
FROM task_audit
WHERE task_id = ?
ORDER BY created_at_ms ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list audit by task: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func (a *AuditLog) ListByStatus(ctx context.Context, status Status, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT id, task_id, user_id, type, params_json, status, duration_ms, output, stderr, error, created_at_ms
FROM task_audit
WHERE status = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit by status: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]AuditEntry, error) {
	out := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var typ, status, paramsRaw string
		var createdMS int64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &typ, &paramsRaw, &status, &e.DurationMS, &e.Output, &e.Stderr, &e.Error, &createdMS); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Type = Type(typ)
		e.Status = Status(status)
		e.Params = decodeParams(paramsRaw)
		e.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func encodeParams(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeParams(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

var sensitiveParamKeys = map[string]struct{}{
	"content":  {},
	"body":     {},
	"source":   {},
	"password": {},
	"token":    {},
	"secret":   {},
	"api_key":  {},
}

// redactParams keeps structural params (operation, path, action) and
// blanks anything that may carry user content or credentials.
func redactParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if _, sensitive := sensitiveParamKeys[strings.ToLower(k)]; sensitive {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

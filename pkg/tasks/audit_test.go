package tasks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditLog(t *testing.T) *AuditLog {
	t.Helper()
	a, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAuditAppendAndListByTask(t *testing.T) {
	a := newTestAuditLog(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, status := range []Status{StatusRunning, StatusSucceeded} {
		require.NoError(t, a.Append(ctx, AuditEntry{
			TaskID:     "task-1",
			UserID:     "user-1",
			Type:       TypeFileOps,
			Params:     map[string]string{"operation": "create", "path": "a.txt"},
			Status:     status,
			DurationMS: int64(i * 100),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, a.Append(ctx, AuditEntry{
		TaskID: "task-2", UserID: "user-1", Type: TypeScript, Status: StatusFailed,
	}))

	entries, err := a.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StatusRunning, entries[0].Status)
	assert.Equal(t, StatusSucceeded, entries[1].Status)
	assert.Equal(t, "a.txt", entries[1].Params["path"])
}

func TestAuditListByStatus(t *testing.T) {
	a := newTestAuditLog(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Append(ctx, AuditEntry{
			TaskID:    "task-" + string(rune('a'+i)),
			UserID:    "user-1",
			Type:      TypeEmail,
			Status:    StatusTimedOut,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, a.Append(ctx, AuditEntry{
		TaskID: "task-ok", UserID: "user-1", Type: TypeEmail, Status: StatusSucceeded, CreatedAt: now,
	}))

	entries, err := a.ListByStatus(ctx, StatusTimedOut, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "task-c", entries[0].TaskID)
	assert.Equal(t, "task-b", entries[1].TaskID)
}

func TestAuditRedactsSensitiveParams(t *testing.T) {
	a := newTestAuditLog(t)
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, AuditEntry{
		TaskID: "task-1",
		UserID: "user-1",
		Type:   TypeEmail,
		Status: StatusSucceeded,
		Params: map[string]string{
			"to":      "sam@example.com",
			"subject": "dinner",
			"body":    "meet me at the safe house",
			"api_key": "sk-very-secret",
		},
	}))

	entries, err := a.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	params := entries[0].Params
	assert.Equal(t, "sam@example.com", params["to"])
	assert.Equal(t, "dinner", params["subject"])
	assert.Equal(t, "[redacted]", params["body"])
	assert.Equal(t, "[redacted]", params["api_key"])
}

func TestAuditSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	a, err := NewAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, a.Append(ctx, AuditEntry{
		TaskID: "task-1", UserID: "user-1", Type: TypeScript, Status: StatusFailed, Error: "exit status 3",
	}))
	require.NoError(t, a.Close())

	reopened, err := NewAuditLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "exit status 3", entries[0].Error)
}

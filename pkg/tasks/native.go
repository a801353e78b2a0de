package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// resolveManaged joins a validated relative path onto the managed files
// root and re-checks containment before any filesystem access.
func resolveManaged(root, rel string) (string, error) {
	if err := safeRelPath(rel); err != nil {
		return "", err
	}
	resolved := filepath.Join(root, filepath.Clean(rel))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the managed root", rel)
	}
	return resolved, nil
}

func runFileOps(ctx context.Context, env ExecEnv, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	op := params["operation"]

	if op == "list" {
		dir := env.FilesRoot
		if params["path"] != "" {
			resolved, err := resolveManaged(env.FilesRoot, params["path"])
			if err != nil {
				return "", err
			}
			dir = resolved
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("list %s: %w", params["path"], err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return strings.Join(names, "\n"), nil
	}

	resolved, err := resolveManaged(env.FilesRoot, params["path"])
	if err != nil {
		return "", err
	}

	switch op {
	case "create":
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return "", fmt.Errorf("create parent dirs: %w", err)
		}
		if err := os.WriteFile(resolved, []byte(params["content"]), 0o644); err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		return fmt.Sprintf("created %s (%d bytes)", params["path"], len(params["content"])), nil
	case "append":
		f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return "", fmt.Errorf("open for append: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString(params["content"]); err != nil {
			return "", fmt.Errorf("append: %w", err)
		}
		return fmt.Sprintf("appended %d bytes to %s", len(params["content"]), params["path"]), nil
	case "read":
		data, err := os.ReadFile(resolved)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", params["path"], err)
		}
		return string(data), nil
	case "delete":
		if err := os.Remove(resolved); err != nil {
			return "", fmt.Errorf("delete %s: %w", params["path"], err)
		}
		return fmt.Sprintf("deleted %s", params["path"]), nil
	}
	return "", fmt.Errorf("operation %q not supported", op)
}

// runEmail queues the message as a file in the outbox; actual delivery
// is an external collaborator's job.
func runEmail(ctx context.Context, env ExecEnv, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	outbox := filepath.Join(env.FilesRoot, "outbox")
	if err := os.MkdirAll(outbox, 0o755); err != nil {
		return "", fmt.Errorf("create outbox: %w", err)
	}
	name := "msg-" + uuid.NewString() + ".eml"
	body := fmt.Sprintf("To: %s\nSubject: %s\nDate: %s\n\n%s\n",
		params["to"], params["subject"], time.Now().Format(time.RFC1123Z), params["body"])
	if err := os.WriteFile(filepath.Join(outbox, name), []byte(body), 0o600); err != nil {
		return "", fmt.Errorf("write outbox message: %w", err)
	}
	return "queued message to " + params["to"], nil
}

func runCalendar(ctx context.Context, env ExecEnv, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(env.FilesRoot, "calendar")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create calendar dir: %w", err)
	}
	event := map[string]string{
		"id":    "evt-" + uuid.NewString(),
		"title": params["title"],
		"when":  params["when"],
		"notes": params["notes"],
	}
	line, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	return "scheduled " + params["title"] + " at " + params["when"], nil
}

package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ExecEnv is what a task execution sees: its ephemeral working
// directory and the persistent managed-files root.
type ExecEnv struct {
	WorkDir   string
	FilesRoot string
}

// TypeSpec is one entry of the dispatch table: parameter schema,
// idempotency, capability flags, and how the task runs. Exactly one of
// Command and Native is set. Command tasks run as a subprocess inside
// the sandbox; Native tasks run in-process against the sandbox paths.
type TypeSpec struct {
	Name       Type
	Idempotent bool
	Network    bool
	Validate   func(params map[string]string) error
	Command    func(env ExecEnv, params map[string]string) ([]string, error)
	Native     func(ctx context.Context, env ExecEnv, params map[string]string) (string, error)
}

// Registry is the closed allow-list, built once at startup. Dispatch
// goes through this table only.
type Registry struct {
	specs map[Type]TypeSpec
}

func NewRegistry() *Registry {
	r := &Registry{specs: map[Type]TypeSpec{}}
	for _, spec := range []TypeSpec{
		{
			Name:       TypeFileOps,
			Idempotent: false,
			Validate:   validateFileOpsParams,
			Native:     runFileOps,
		},
		{
			Name:       TypeScript,
			Idempotent: false,
			Validate:   validateScriptParams,
			Command:    scriptCommand,
		},
		{
			Name:       TypeAppControl,
			Idempotent: false,
			Validate:   validateAppControlParams,
			Command:    appControlCommand,
		},
		{
			Name:       TypeEmail,
			Idempotent: true,
			Network:    true,
			Validate:   validateEmailParams,
			Native:     runEmail,
		},
		{
			Name:       TypeCalendar,
			Idempotent: true,
			Validate:   validateCalendarParams,
			Native:     runCalendar,
		},
	} {
		r.specs[spec.Name] = spec
	}
	return r
}

// Lookup returns the spec for a type, or false for anything outside the
// allow-list.
func (r *Registry) Lookup(t Type) (TypeSpec, bool) {
	spec, ok := r.specs[t]
	return spec, ok
}

// Idempotent reports whether a type may be retried automatically.
func (r *Registry) Idempotent(t Type) bool {
	spec, ok := r.specs[t]
	return ok && spec.Idempotent
}

func scriptCommand(env ExecEnv, params map[string]string) ([]string, error) {
	interpreter := params["interpreter"]
	if interpreter == "" {
		interpreter = "sh"
	}
	ext := "sh"
	if interpreter == "python3" {
		ext = "py"
	}
	scriptPath := filepath.Join(env.WorkDir, "task."+ext)
	if err := os.WriteFile(scriptPath, []byte(params["source"]), 0o600); err != nil {
		return nil, fmt.Errorf("write script file: %w", err)
	}
	return []string{interpreter, scriptPath}, nil
}

func appControlCommand(_ ExecEnv, params map[string]string) ([]string, error) {
	app := params["app"]
	switch params["action"] {
	case "open":
		return []string{"xdg-open", app}, nil
	case "close":
		return []string{"pkill", "-x", app}, nil
	}
	return nil, fmt.Errorf("unsupported app_control action %q", params["action"])
}

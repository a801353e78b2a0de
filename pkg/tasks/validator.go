package tasks

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Validator is the synchronous, side-effect-free gate in front of the
// queue. Nothing touches the filesystem or spawns a process until a
// request has passed here.
type Validator struct {
	registry *Registry
}

func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks the request against the allow-list and the per-type
// parameter schema. On success the request transitions to Validated.
func (v *Validator) Validate(req *Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		req.Status = StatusRejected
		return fmt.Errorf("%w: empty user id", ErrValidation)
	}
	spec, ok := v.registry.Lookup(req.Type)
	if !ok {
		req.Status = StatusRejected
		return fmt.Errorf("%w: type %q not in allow-list", ErrValidation, req.Type)
	}
	if err := spec.Validate(req.Params); err != nil {
		req.Status = StatusRejected
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !spec.Network {
		if err := denyNetworkUse(req.Params); err != nil {
			req.Status = StatusRejected
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	req.Status = StatusValidated
	return nil
}

// denyNetworkUse rejects submitted source for types without the network
// capability. This is a best-effort static check on the source text; the
// residual gap is the sandbox's minimal environment and the closed
// interpreter allow-list.
func denyNetworkUse(params map[string]string) error {
	lower := strings.ToLower(params["source"])
	if lower == "" {
		return nil
	}
	for _, frag := range networkFragments {
		if strings.Contains(lower, frag) {
			return fmt.Errorf("type has no network capability, found %q", strings.TrimSpace(frag))
		}
	}
	return nil
}

var (
	appNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)
	emailRegex   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// Commands a script may never contain, whatever the interpreter.
	restrictedFragments = []string{
		"rm -rf /",
		"sudo",
		"shutdown",
		"reboot",
		"mkfs",
		"dd if=",
		":(){",
		"> /dev/",
	}
	// Network clients and interpreter network primitives, denied in
	// source submitted for types without the network capability.
	networkFragments = []string{
		"curl", "wget", "nc ", "netcat", "ssh ", "scp ",
		"/dev/tcp", "/dev/udp",
		"socket", "urllib", "http.client", "requests", "ftplib", "smtplib", "telnetlib",
	}

	allowedOps          = map[string]bool{"create": true, "read": true, "append": true, "delete": true, "list": true}
	allowedInterpreters = map[string]bool{"": true, "sh": true, "bash": true, "python3": true}
)

// safeRelPath confines a user-supplied path to a managed root: relative
// only, no traversal out of the root.
func safeRelPath(p string) error {
	p = strings.TrimSpace(p)
	if p == "" {
		return fmt.Errorf("path is required")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("path %q must be relative", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes the sandbox root", p)
	}
	return nil
}

func validateFileOpsParams(params map[string]string) error {
	op := params["operation"]
	if !allowedOps[op] {
		return fmt.Errorf("operation %q not supported", op)
	}
	if op == "list" && params["path"] == "" {
		return nil
	}
	if err := safeRelPath(params["path"]); err != nil {
		return err
	}
	if (op == "create" || op == "append") && params["content"] == "" {
		return fmt.Errorf("content is required for %s", op)
	}
	return nil
}

func validateScriptParams(params map[string]string) error {
	if !allowedInterpreters[params["interpreter"]] {
		return fmt.Errorf("interpreter %q not allowed", params["interpreter"])
	}
	source := params["source"]
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("source is required")
	}
	if len(source) > 64*1024 {
		return fmt.Errorf("source exceeds 64KiB")
	}
	lower := strings.ToLower(source)
	for _, frag := range restrictedFragments {
		if strings.Contains(lower, frag) {
			return fmt.Errorf("source contains restricted command %q", frag)
		}
	}
	return nil
}

func validateAppControlParams(params map[string]string) error {
	if params["action"] != "open" && params["action"] != "close" {
		return fmt.Errorf("action must be open or close")
	}
	if !appNameRegex.MatchString(params["app"]) {
		return fmt.Errorf("app name %q not allowed", params["app"])
	}
	return nil
}

func validateEmailParams(params map[string]string) error {
	if !emailRegex.MatchString(params["to"]) {
		return fmt.Errorf("recipient %q is not a valid address", params["to"])
	}
	if strings.TrimSpace(params["subject"]) == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

func validateCalendarParams(params map[string]string) error {
	if strings.TrimSpace(params["title"]) == "" {
		return fmt.Errorf("title is required")
	}
	if _, err := time.Parse(time.RFC3339, params["when"]); err != nil {
		return fmt.Errorf("when must be RFC3339: %v", err)
	}
	return nil
}

package providers

import (
	"context"
	"errors"
)

// Message is one chat message in the provider wire shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer is the language-model completion service. Implementations
// must respect ctx cancellation and deadlines.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ErrTransient marks a failure worth retrying: timeouts, connection
// errors, rate limits, 5xx responses. Anything else is permanent.
var ErrTransient = errors.New("providers: transient service failure")

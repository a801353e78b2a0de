package providers

import "context"

// StaticCompleter returns a canned reply. Used in tests and offline mode.
type StaticCompleter struct {
	Reply string
	Err   error
}

func (s StaticCompleter) Complete(_ context.Context, _ []Message) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}

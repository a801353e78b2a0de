package session

import "time"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a user's short-term window. Ephemeral unless
// promoted to a long-term memory record.
type Turn struct {
	ID        string
	UserID    string
	Role      Role
	Text      string
	Timestamp time.Time
}

// Config bounds the short-term window and the promotion/expiry rules.
type Config struct {
	WindowCapacity   int
	Timeout          time.Duration
	PromoteThreshold int
	SweepInterval    time.Duration
	RetrieveLimit    int
}

func (c Config) withDefaults() Config {
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.PromoteThreshold <= 0 {
		c.PromoteThreshold = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.RetrieveLimit <= 0 {
		c.RetrieveLimit = 5
	}
	return c
}

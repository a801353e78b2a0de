package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charlievoice/charlie/pkg/logger"
	"github.com/charlievoice/charlie/pkg/memory"
	"github.com/charlievoice/charlie/pkg/session"
)

// ErrBudgetExceeded is returned only when the current input alone cannot
// fit the hard token limit. Everything else is trimmed, never refused.
var ErrBudgetExceeded = errors.New("prompt: current input exceeds token budget")

// Toucher is the slice of the memory store the assembler needs to record
// which memories were actually used.
type Toucher interface {
	Touch(ctx context.Context, id string) error
}

// Message is one entry of the assembled payload, in conversation order.
type Message struct {
	Role    string
	Content string
}

// Payload is the bounded request for the language-model service.
type Payload struct {
	Messages        []Message
	IncludedMemory  []memory.Record
	EstimatedTokens int
}

// Assembler builds deterministic, budget-bounded prompt payloads.
type Assembler struct {
	store     Toucher
	maxTokens int
	system    string
}

func NewAssembler(store Toucher, maxTokens int, systemInstructions string) *Assembler {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Assembler{store: store, maxTokens: maxTokens, system: systemInstructions}
}

// Assemble merges system instructions, retrieved memories (most relevant
// first), the session window (chronological) and the current input.
// Over budget it trims the lowest-relevance memories first, then the
// oldest window turns. System instructions and the current input are
// never dropped.
func (a *Assembler) Assemble(ctx context.Context, memories []memory.Record, window []session.Turn, input string) (Payload, error) {
	inputTokens := estimateTokens(input) + messageOverheadTokens
	if inputTokens > a.maxTokens {
		return Payload{}, fmt.Errorf("%w: %d tokens over a %d limit", ErrBudgetExceeded, inputTokens, a.maxTokens)
	}

	systemTokens := 0
	if a.system != "" {
		systemTokens = estimateTokens(a.system) + messageOverheadTokens
	}
	budget := a.maxTokens - inputTokens - systemTokens

	included := make([]memory.Record, len(memories))
	copy(included, memories)
	turns := make([]session.Turn, len(window))
	copy(turns, window)

	// Cost counts what will actually be sent: the rendered recall block
	// with its header and bullets, plus the framing overhead each
	// message carries on the wire.
	cost := func() int {
		total := 0
		if len(included) > 0 {
			total += estimateTokens(formatRecall(included)) + messageOverheadTokens
		}
		for _, t := range turns {
			total += estimateTokens(t.Text) + messageOverheadTokens
		}
		return total
	}

	// Memories arrive ordered most relevant first, so trimming from the
	// tail drops the least relevant.
	for cost() > budget && len(included) > 0 {
		included = included[:len(included)-1]
	}
	for cost() > budget && len(turns) > 0 {
		turns = turns[1:]
	}

	messages := make([]Message, 0, len(turns)+3)
	if a.system != "" {
		messages = append(messages, Message{Role: "system", Content: a.system})
	}
	if len(included) > 0 {
		messages = append(messages, Message{Role: "system", Content: formatRecall(included)})
	}
	for _, t := range turns {
		messages = append(messages, Message{Role: string(t.Role), Content: t.Text})
	}
	messages = append(messages, Message{Role: "user", Content: input})

	for _, rec := range included {
		if err := a.store.Touch(ctx, rec.ID); err != nil {
			logger.WarnCF("prompt", "touch memory failed", map[string]interface{}{
				"memory_id": rec.ID,
				"error":     err.Error(),
			})
		}
	}

	return Payload{
		Messages:        messages,
		IncludedMemory:  included,
		EstimatedTokens: systemTokens + inputTokens + cost(),
	}, nil
}

// messageOverheadTokens covers the role and framing tokens each chat
// message costs beyond its text.
const messageOverheadTokens = 4

func formatRecall(records []memory.Record) string {
	var b strings.Builder
	b.WriteString("Relevant things you know about this user:\n")
	for _, rec := range records {
		b.WriteString("- ")
		b.WriteString(memoryLine(rec))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func memoryLine(rec memory.Record) string {
	return fmt.Sprintf("[%s] %s", rec.Type, rec.Content)
}

// estimateTokens approximates tokens from rune count. Rough, but stable
// across runs, which is what budget trimming needs.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) * 2 / 5
	if n < 8 {
		n = 8
	}
	return n
}

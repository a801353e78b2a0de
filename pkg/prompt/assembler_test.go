package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charlievoice/charlie/pkg/memory"
	"github.com/charlievoice/charlie/pkg/session"
)

type touchRecorder struct {
	touched []string
}

func (t *touchRecorder) Touch(_ context.Context, id string) error {
	t.touched = append(t.touched, id)
	return nil
}

func sampleMemories() []memory.Record {
	return []memory.Record{
		{ID: "mem-1", Type: memory.TypePreference, Content: "favorite color: blue", Importance: 4},
		{ID: "mem-2", Type: memory.TypePersonal, Content: "name: Sam", Importance: 3},
	}
}

func sampleWindow() []session.Turn {
	now := time.Now()
	return []session.Turn{
		{Role: session.RoleUser, Text: "hi there", Timestamp: now.Add(-2 * time.Minute)},
		{Role: session.RoleAssistant, Text: "hello, how can I help?", Timestamp: now.Add(-time.Minute)},
	}
}

func TestAssembleOrdering(t *testing.T) {
	rec := &touchRecorder{}
	a := NewAssembler(rec, 4096, "You are Charlie.")

	payload, err := a.Assemble(context.Background(), sampleMemories(), sampleWindow(), "what's my favorite color?")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	msgs := payload.Messages
	if msgs[0].Role != "system" || msgs[0].Content != "You are Charlie." {
		t.Fatalf("first message should be system instructions, got %+v", msgs[0])
	}
	if msgs[1].Role != "system" || !strings.Contains(msgs[1].Content, "favorite color: blue") {
		t.Fatalf("second message should carry recalled memories, got %+v", msgs[1])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "hi there" {
		t.Fatalf("window should follow memories chronologically, got %+v", msgs[2])
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "what's my favorite color?" {
		t.Fatalf("current input must be last, got %+v", last)
	}

	// Most relevant memory listed before the less relevant one.
	blueIdx := strings.Index(msgs[1].Content, "favorite color")
	nameIdx := strings.Index(msgs[1].Content, "name: Sam")
	if blueIdx < 0 || nameIdx < 0 || blueIdx > nameIdx {
		t.Fatalf("memory ordering wrong: %q", msgs[1].Content)
	}
}

func TestAssembleTouchesIncludedMemories(t *testing.T) {
	rec := &touchRecorder{}
	a := NewAssembler(rec, 4096, "sys")

	if _, err := a.Assemble(context.Background(), sampleMemories(), nil, "hello"); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(rec.touched) != 2 || rec.touched[0] != "mem-1" || rec.touched[1] != "mem-2" {
		t.Fatalf("touched = %v, want both memories", rec.touched)
	}
}

func TestAssembleTrimsMemoriesBeforeWindow(t *testing.T) {
	rec := &touchRecorder{}
	// Budget fits system + input + window, but not both memories.
	a := NewAssembler(rec, 70, "sys")

	long := strings.Repeat("x", 120)
	memories := []memory.Record{
		{ID: "mem-keep", Type: memory.TypePreference, Content: "short fact"},
		{ID: "mem-drop", Type: memory.TypeFact, Content: long},
	}
	window := []session.Turn{{Role: session.RoleUser, Text: "earlier turn"}}

	payload, err := a.Assemble(context.Background(), memories, window, "now")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for _, m := range payload.IncludedMemory {
		if m.ID == "mem-drop" {
			t.Fatalf("least relevant memory should have been trimmed first")
		}
	}
	if len(rec.touched) != len(payload.IncludedMemory) {
		t.Fatalf("trimmed memories must not be touched: touched %d, included %d", len(rec.touched), len(payload.IncludedMemory))
	}
}

func TestAssembleDropsOldestTurnsLast(t *testing.T) {
	rec := &touchRecorder{}
	a := NewAssembler(rec, 40, "sys")

	window := []session.Turn{
		{Role: session.RoleUser, Text: strings.Repeat("old ", 40)},
		{Role: session.RoleAssistant, Text: "recent short reply"},
	}
	payload, err := a.Assemble(context.Background(), nil, window, "input")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for _, m := range payload.Messages {
		if strings.HasPrefix(m.Content, "old ") {
			t.Fatalf("oldest oversized turn should have been trimmed")
		}
	}
	last := payload.Messages[len(payload.Messages)-1]
	if last.Content != "input" {
		t.Fatalf("current input must survive trimming")
	}
}

func TestAssembleBudgetExceededOnlyForInput(t *testing.T) {
	rec := &touchRecorder{}
	a := NewAssembler(rec, 20, "sys")

	_, err := a.Assemble(context.Background(), nil, nil, strings.Repeat("words ", 50))
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}

	// A fitting input always assembles, whatever else is supplied.
	payload, err := a.Assemble(context.Background(), sampleMemories(), sampleWindow(), "hi")
	if err != nil {
		t.Fatalf("Assemble with fitting input: %v", err)
	}
	if len(payload.Messages) == 0 {
		t.Fatalf("payload empty")
	}
}

func TestAssembleDeterministic(t *testing.T) {
	rec := &touchRecorder{}
	a := NewAssembler(rec, 200, "sys")

	first, err := a.Assemble(context.Background(), sampleMemories(), sampleWindow(), "question")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := a.Assemble(context.Background(), sampleMemories(), sampleWindow(), "question")
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if len(again.Messages) != len(first.Messages) {
			t.Fatalf("payload shape changed between identical inputs")
		}
		for j := range again.Messages {
			if again.Messages[j] != first.Messages[j] {
				t.Fatalf("message %d changed between identical inputs", j)
			}
		}
	}
}

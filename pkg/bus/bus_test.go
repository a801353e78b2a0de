package bus

import (
	"context"
	"testing"
)

func TestMessageBus_PublishTurnDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.turns); i++ {
		mb.PublishTurn(TurnMessage{UserID: "u", Text: "msg"})
	}

	mb.PublishTurn(TurnMessage{UserID: "u", Text: "overflow"})
	if mb.DroppedTurns() != 1 {
		t.Fatalf("expected dropped turn count 1, got %d", mb.DroppedTurns())
	}
}

func TestMessageBus_PublishReplyDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.replies); i++ {
		mb.PublishReply(ReplyMessage{UserID: "u", Text: "msg"})
	}

	mb.PublishReply(ReplyMessage{UserID: "u", Text: "overflow"})
	if mb.DroppedReplies() != 1 {
		t.Fatalf("expected dropped reply count 1, got %d", mb.DroppedReplies())
	}
}

func TestMessageBus_RoundTrip(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishTurn(TurnMessage{UserID: "u", Text: "hello", Voice: true, Confidence: 0.88})
	msg, ok := mb.ConsumeTurn(context.Background())
	if !ok {
		t.Fatalf("expected a turn message")
	}
	if msg.Text != "hello" || !msg.Voice {
		t.Fatalf("unexpected turn message: %+v", msg)
	}
}

func TestMessageBus_ClosedChannelsReturnFalse(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if _, ok := mb.ConsumeTurn(context.Background()); ok {
		t.Fatalf("expected closed turn consume to return ok=false")
	}
	if _, ok := mb.ConsumeReply(context.Background()); ok {
		t.Fatalf("expected closed reply consume to return ok=false")
	}
}

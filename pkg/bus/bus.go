package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TurnMessage is one user utterance entering the assistant, either
// typed or produced by speech recognition.
type TurnMessage struct {
	UserID     string
	Text       string
	Voice      bool
	Confidence float64
}

// ReplyMessage is the assistant's answer on its way back to the
// frontend. Audio is set only for voice turns.
type ReplyMessage struct {
	UserID string
	Text   string
	Audio  []byte
}

// MessageBus decouples frontends from the assistant loop with bounded
// buffers. Publishing never blocks longer than publishTimeout; overflow
// is dropped and counted rather than stalling the producer.
type MessageBus struct {
	turns   chan TurnMessage
	replies chan ReplyMessage
	closed  bool
	dropped droppedCounters
	mu      sync.RWMutex
}

type droppedCounters struct {
	turns   atomic.Uint64
	replies atomic.Uint64
}

const publishTimeout = 100 * time.Millisecond

func NewMessageBus() *MessageBus {
	return &MessageBus{
		turns:   make(chan TurnMessage, 100),
		replies: make(chan ReplyMessage, 100),
	}
}

func (mb *MessageBus) PublishTurn(msg TurnMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.turns <- msg:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.turns <- msg:
		case <-timer.C:
			mb.dropped.turns.Add(1)
		}
	}
}

func (mb *MessageBus) ConsumeTurn(ctx context.Context) (TurnMessage, bool) {
	select {
	case msg, ok := <-mb.turns:
		if !ok {
			return TurnMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return TurnMessage{}, false
	}
}

func (mb *MessageBus) PublishReply(msg ReplyMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.replies <- msg:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.replies <- msg:
		case <-timer.C:
			mb.dropped.replies.Add(1)
		}
	}
}

func (mb *MessageBus) ConsumeReply(ctx context.Context) (ReplyMessage, bool) {
	select {
	case msg, ok := <-mb.replies:
		if !ok {
			return ReplyMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return ReplyMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.turns)
	close(mb.replies)
}

func (mb *MessageBus) DroppedTurns() uint64 {
	return mb.dropped.turns.Load()
}

func (mb *MessageBus) DroppedReplies() uint64 {
	return mb.dropped.replies.Load()
}

package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charlievoice/charlie/pkg/bus"
	"github.com/charlievoice/charlie/pkg/config"
	"github.com/charlievoice/charlie/pkg/logger"
	"github.com/charlievoice/charlie/pkg/memory"
	"github.com/charlievoice/charlie/pkg/prompt"
	"github.com/charlievoice/charlie/pkg/providers"
	"github.com/charlievoice/charlie/pkg/session"
	"github.com/charlievoice/charlie/pkg/tasks"
	"github.com/charlievoice/charlie/pkg/voice"
)

const overlongInputReply = "That message is too long for me to take in at once. Could you break it into smaller pieces?"

// Assistant wires the memory store, session windows, prompt assembly,
// the completion provider and the task engine behind one surface. Every
// turn gets a reply: provider failures degrade to the configured
// fallback instead of an error or silence.
type Assistant struct {
	cfg       *config.Config
	store     *memory.SQLiteStore
	sessions  *session.Manager
	assembler *prompt.Assembler
	completer providers.Completer
	queue     *tasks.Queue
	scheduler *tasks.Scheduler
	audit     *tasks.AuditLog
	stt       voice.Transcriber
	tts       voice.Synthesizer
}

// New builds a fully wired assistant from the configuration. The
// completer and voice services are injected so frontends and tests can
// swap providers without touching the pipeline.
func New(cfg *config.Config, completer providers.Completer, stt voice.Transcriber, tts voice.Synthesizer) (*Assistant, error) {
	store, err := memory.NewSQLiteStore(cfg.StatePath("memory.db"), memory.RankWeights{
		TagOverlap: cfg.Memory.TagOverlapWeight,
		Recency:    cfg.Memory.RecencyWeight,
		Importance: cfg.Memory.ImportanceWeight,
		HalfLife:   time.Duration(cfg.Memory.RecencyHalfLifeHrs) * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	sessions := session.NewManager(store, session.Config{
		WindowCapacity:   cfg.Session.WindowCapacity,
		Timeout:          time.Duration(cfg.Session.TimeoutSeconds) * time.Second,
		PromoteThreshold: cfg.Session.PromoteThreshold,
		SweepInterval:    time.Duration(cfg.Session.SweepSeconds) * time.Second,
		RetrieveLimit:    cfg.Memory.RetrieveLimit,
	})

	audit, err := tasks.NewAuditLog(cfg.StatePath("tasks.db"))
	if err != nil {
		sessions.Close()
		_ = store.Close()
		return nil, fmt.Errorf("open task audit log: %w", err)
	}

	registry := tasks.NewRegistry()
	sandbox := tasks.NewSandbox(tasks.SandboxConfig{
		Root:           cfg.SandboxRoot(),
		FilesRoot:      cfg.FilesRoot(),
		Timeout:        time.Duration(cfg.Tasks.TimeoutSeconds) * time.Second,
		MaxOutputBytes: cfg.Tasks.MaxOutputBytes,
		MaxMemoryBytes: int64(cfg.Tasks.MaxMemoryMB) << 20,
		MaxCPUPercent:  float64(cfg.Tasks.MaxCPUPercent),
	}, audit)
	queue := tasks.NewQueue(registry, tasks.NewValidator(registry), sandbox, audit, tasks.QueueConfig{
		Capacity:   cfg.Tasks.QueueCapacity,
		Workers:    cfg.Tasks.Workers,
		MaxRetries: cfg.Tasks.MaxRetries,
	})

	a := &Assistant{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		assembler: prompt.NewAssembler(store, cfg.Prompt.MaxTokens, cfg.Prompt.SystemInstructions),
		completer: completer,
		queue:     queue,
		audit:     audit,
		stt:       stt,
		tts:       tts,
	}
	if cfg.Scheduler.Enabled {
		a.scheduler = tasks.NewScheduler(queue)
		a.scheduler.Start()
	}
	return a, nil
}

// Close releases the stores and stops the workers. Idempotent.
func (a *Assistant) Close() {
	if a.scheduler != nil {
		a.scheduler.Close()
	}
	a.queue.Close()
	a.sessions.Close()
	if err := a.audit.Close(); err != nil {
		logger.WarnCF("assistant", "close audit log failed", map[string]interface{}{"error": err.Error()})
	}
	if err := a.store.Close(); err != nil {
		logger.WarnCF("assistant", "close memory store failed", map[string]interface{}{"error": err.Error()})
	}
}

// SubmitTurn runs one user utterance through the full pipeline and
// returns the assistant's reply. The reply is never empty: provider
// failures and over-budget inputs degrade to canned responses while the
// turn still lands in the session window.
func (a *Assistant) SubmitTurn(ctx context.Context, userID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if userID == "" || text == "" {
		return "", errors.New("submit turn: user id and text are required")
	}

	a.sessions.AppendTurn(ctx, userID, session.RoleUser, text)

	recalled, err := a.sessions.RetrieveRelevant(ctx, userID, text, a.cfg.Memory.RetrieveLimit)
	if err != nil {
		// Degraded mode: answer from the window alone.
		logger.WarnCF("assistant", "memory retrieval failed, continuing without recall", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		recalled = nil
	}

	window := a.sessions.Window(userID)
	if len(window) > 0 {
		// The current input is passed separately to the assembler.
		window = window[:len(window)-1]
	}

	payload, err := a.assembler.Assemble(ctx, recalled, window, text)
	if err != nil {
		if errors.Is(err, prompt.ErrBudgetExceeded) {
			a.sessions.AppendTurn(ctx, userID, session.RoleAssistant, overlongInputReply)
			return overlongInputReply, nil
		}
		return "", fmt.Errorf("assemble prompt: %w", err)
	}

	reply := a.complete(ctx, userID, payload)
	a.sessions.AppendTurn(ctx, userID, session.RoleAssistant, reply)
	return reply, nil
}

func (a *Assistant) complete(ctx context.Context, userID string, payload prompt.Payload) string {
	messages := make([]providers.Message, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := a.completer.Complete(ctx, messages)
	if err != nil {
		logger.WarnCF("assistant", "completion failed, serving fallback reply", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return a.cfg.Provider.FallbackReply
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return a.cfg.Provider.FallbackReply
	}
	return reply
}

// VoiceReply carries a spoken answer next to its text form.
type VoiceReply struct {
	Transcript string
	Text       string
	Audio      []byte
}

// SubmitVoiceTurn transcribes captured audio, runs the text through the
// turn pipeline, and renders the reply with the configured voice.
func (a *Assistant) SubmitVoiceTurn(ctx context.Context, userID string, audio io.Reader) (VoiceReply, error) {
	if a.stt == nil || a.tts == nil {
		return VoiceReply{}, errors.New("voice services are not configured")
	}

	transcript, err := a.stt.Transcribe(ctx, audio)
	if err != nil {
		return VoiceReply{}, fmt.Errorf("transcribe turn: %w", err)
	}

	text, err := a.SubmitTurn(ctx, userID, transcript.Text)
	if err != nil {
		return VoiceReply{}, err
	}

	stream, err := a.tts.Synthesize(ctx, text, voice.Params{
		Voice:        a.cfg.Voice.DefaultVoice,
		SpeakingRate: a.cfg.Voice.SpeakingRate,
	})
	if err != nil {
		// The reply still reaches the user as text.
		logger.WarnCF("assistant", "speech synthesis failed, returning text only", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return VoiceReply{Transcript: transcript.Text, Text: text}, nil
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		logger.WarnCF("assistant", "reading synthesized audio failed, returning text only", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return VoiceReply{Transcript: transcript.Text, Text: text}, nil
	}
	return VoiceReply{Transcript: transcript.Text, Text: text, Audio: buf.Bytes()}, nil
}

// SubmitTask validates and enqueues a task for the user, returning its
// id for status polling.
func (a *Assistant) SubmitTask(userID string, taskType tasks.Type, params map[string]string) (string, error) {
	return a.queue.Submit(userID, taskType, params)
}

// GetTaskStatus reports the task's current status and, once terminal,
// its result.
func (a *Assistant) GetTaskStatus(taskID string) (tasks.Status, *tasks.Result, error) {
	return a.queue.GetStatus(taskID)
}

// ScheduleTask registers a recurring task. Each due slot is submitted
// through the same validation and queue as a direct submission.
func (a *Assistant) ScheduleTask(entry tasks.ScheduledTask) error {
	if a.scheduler == nil {
		return errors.New("scheduler is disabled")
	}
	return a.scheduler.Add(entry)
}

// QueryMemory returns the user's long-term records matching the filter,
// most relevant first.
func (a *Assistant) QueryMemory(ctx context.Context, userID string, f memory.QueryFilter) ([]memory.Record, error) {
	return a.store.Query(ctx, userID, f)
}

// ForgetMemory soft-deletes one record so it stops surfacing in recall.
func (a *Assistant) ForgetMemory(ctx context.Context, id string) error {
	return a.store.SoftDelete(ctx, id)
}

// EraseUserData hard-deletes every long-term record for the user and
// drops their session window. It returns the number of removed records.
func (a *Assistant) EraseUserData(ctx context.Context, userID string) (int, error) {
	n, err := a.store.Erase(ctx, userID)
	if err != nil {
		return 0, err
	}
	a.sessions.CloseSession(userID)
	return n, nil
}

// Run consumes turns from the bus until ctx is cancelled, publishing
// one reply per turn. Voice turns reuse the text pipeline; their reply
// carries synthesized audio when the synthesizer is available.
func (a *Assistant) Run(ctx context.Context, mb *bus.MessageBus) error {
	for {
		msg, ok := mb.ConsumeTurn(ctx)
		if !ok {
			return ctx.Err()
		}

		reply := bus.ReplyMessage{UserID: msg.UserID}
		if msg.Voice && a.stt != nil && a.tts != nil {
			vr, err := a.SubmitVoiceTurn(ctx, msg.UserID, strings.NewReader(msg.Text))
			if err != nil {
				reply.Text = a.cfg.Provider.FallbackReply
			} else {
				reply.Text = vr.Text
				reply.Audio = vr.Audio
			}
		} else {
			text, err := a.SubmitTurn(ctx, msg.UserID, msg.Text)
			if err != nil {
				text = a.cfg.Provider.FallbackReply
			}
			reply.Text = text
		}
		mb.PublishReply(reply)
	}
}

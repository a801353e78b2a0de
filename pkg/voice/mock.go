package voice

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// MockTranscriber reads the audio stream as plain UTF-8 text. It stands
// in for a real STT service in tests and local development.
type MockTranscriber struct {
	Confidence float64
}

func (m MockTranscriber) Transcribe(ctx context.Context, audio io.Reader) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	data, err := io.ReadAll(audio)
	if err != nil {
		return Transcript{}, fmt.Errorf("read audio: %w", err)
	}
	confidence := m.Confidence
	if confidence == 0 {
		confidence = 0.95
	}
	return Transcript{Text: strings.TrimSpace(string(data)), Confidence: confidence}, nil
}

// MockSynthesizer emits a deterministic pseudo-audio stream that embeds
// the spoken text, so tests can assert on what would be said.
type MockSynthesizer struct{}

func (MockSynthesizer) Synthesize(ctx context.Context, text string, params Params) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	voice := params.Voice
	if voice == "" {
		voice = "default"
	}
	payload := fmt.Sprintf("AUDIO[%s|%.2f]%s", voice, params.SpeakingRate, text)
	return io.NopCloser(strings.NewReader(payload)), nil
}

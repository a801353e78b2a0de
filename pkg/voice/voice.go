package voice

import (
	"context"
	"io"
)

// Transcript is the result of a speech-to-text call.
type Transcript struct {
	Text       string
	Confidence float64
}

// Params shape a text-to-speech rendering.
type Params struct {
	Voice        string
	SpeakingRate float64
}

// Transcriber converts captured audio to text. Implementations must
// respect ctx cancellation; a cancelled call discards partial text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (Transcript, error)
}

// Synthesizer renders text as an audio stream. A cancelled call discards
// partially generated audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params Params) (io.ReadCloser, error)
}

package speech

import (
	"context"
	"errors"
)

// ErrTranscription is returned for any engine-side failure of a single call.
var ErrTranscription = errors.New("transcription failed")

type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// Transcriber converts one canonical 16 kHz mono WAV file to text.
// Implementations hold no per-call state and are safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language, prompt string) (*Result, error)
	IsAvailable(ctx context.Context) bool
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package whisper

import (
	"context"
	"time"
)

// Token is a decoded token as reported by whisper.cpp.
type Token struct {
	ID          int
	Text        string
	Probability float64
}

// Segment is one timed piece of a transcription. Start and End are seconds
// from the beginning of the audio.
type Segment struct {
	ID     int
	Start  float64
	End    float64
	Text   string
	Tokens []Token
}

// Result is the engine-native transcription of one audio file.
type Result struct {
	Text     string
	Language string
	Duration time.Duration
	Segments []Segment
}

// Engine loads whisper models by name or path.
type Engine interface {
	Name() string
	LoadModel(ctx context.Context, name string) (Model, error)
}

// Model is a loaded model handle. It is used for one file and then closed.
type Model interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
	Close() error
}

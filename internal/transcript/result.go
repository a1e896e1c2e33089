// Package transcript turns engine output into the records printed on stdout.
package transcript

import "github.com/fmueller/whisperjson/internal/whisper"

// Segment is the public shape of a timed transcript fragment.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is either a successful transcription or an in-band failure.
type Result struct {
	Success  bool
	Text     string
	Language string
	Segments []Segment
	Error    string
}

func Failure(message string) Result {
	return Result{Error: message}
}

// FromEngine projects an engine result onto the public Result.
func FromEngine(native *whisper.Result) Result {
	if native == nil {
		return Failure("engine returned no result")
	}

	return Result{
		Success:  true,
		Text:     native.Text,
		Language: native.Language,
		Segments: ProjectSegments(native.Segments),
	}
}

// ProjectSegments copies start, end and text of every segment in order.
// Anything else the engine reports per segment is dropped.
func ProjectSegments(native []whisper.Segment) []Segment {
	out := make([]Segment, 0, len(native))
	for _, seg := range native {
		out = append(out, Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return out
}

type successRecord struct {
	Success  bool      `json:"success"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

type failureRecord struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Record returns the value that is serialized for r.
func (r Result) Record() any {
	if !r.Success {
		return failureRecord{Success: false, Error: r.Error}
	}

	segments := r.Segments
	if segments == nil {
		segments = []Segment{}
	}
	return successRecord{
		Success:  true,
		Text:     r.Text,
		Language: r.Language,
		Segments: segments,
	}
}

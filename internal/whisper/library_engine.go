//go:build whispercpp

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/fmueller/whisperjson/internal/audio"
	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

func init() {
	newLibraryEngine = func(opts Options) (Engine, error) {
		opts.Logger.Debug("using linked whisper.cpp engine")
		return &libraryEngine{opts: opts}, nil
	}
}

// libraryEngine runs whisper.cpp in-process through the cgo bindings.
type libraryEngine struct {
	opts Options
}

func (e *libraryEngine) Name() string {
	return "whisper.cpp"
}

func (e *libraryEngine) LoadModel(ctx context.Context, name string) (Model, error) {
	resolved, err := e.opts.Store.Ensure(ctx, name)
	if err != nil {
		return nil, err
	}

	model, err := whispercpp.New(resolved.Path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", resolved.Path, err)
	}

	return &libraryModel{model: model, opts: e.opts}, nil
}

type libraryModel struct {
	model whispercpp.Model
	opts  Options
}

func (m *libraryModel) Close() error {
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}

func (m *libraryModel) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if m.model == nil {
		return nil, errors.New("whisper model closed")
	}

	samples, err := m.loadSamples(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("empty audio samples")
	}

	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}

	threads := m.opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	language := languageOption(m.opts.Language)
	if err := wctx.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("set language %q: %w", language, err)
	}

	encoderCb := func() bool {
		return ctx.Err() == nil
	}

	m.opts.Logger.Debug("running whisper.cpp", zap.Int("samples", len(samples)), zap.Int("threads", threads), zap.String("language", language))
	if err := wctx.Process(samples, encoderCb, nil, nil); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Duration: time.Duration(float64(len(samples)) / float64(whispercpp.SampleRate) * float64(time.Second)),
		Segments: make([]Segment, 0),
	}

	var text strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		segment := Segment{
			ID:    seg.Num,
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  seg.Text,
		}
		for _, token := range seg.Tokens {
			segment.Tokens = append(segment.Tokens, Token{ID: token.Id, Text: token.Text, Probability: float64(token.P)})
		}
		result.Segments = append(result.Segments, segment)
		text.WriteString(seg.Text)
	}

	result.Text = strings.TrimSpace(text.String())
	result.Language = wctx.DetectedLanguage()
	if result.Language == "" {
		result.Language = language
	}

	return result, nil
}

// loadSamples returns mono float32 PCM at the model sample rate, converting
// the input with ffmpeg when it is not already 16 kHz mono PCM WAV.
func (m *libraryModel) loadSamples(ctx context.Context, audioPath string) ([]float32, error) {
	input, err := audio.Prepare(ctx, audioPath, libraryReadable, audio.NormalizeOptions{
		FFmpegPath: m.opts.FFmpegPath,
		Logger:     m.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	defer input.Close()

	fh, err := os.Open(input.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer fh.Close()

	dec := wav.NewDecoder(fh)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if int(dec.SampleRate) != int(whispercpp.SampleRate) {
		return nil, fmt.Errorf("unsupported sample rate: %d", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		return nil, fmt.Errorf("unsupported number of channels: %d", dec.NumChans)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return samples, nil
}

func libraryReadable(format audio.Format, info audio.WAVInfo) bool {
	return format == audio.FormatWAV && info.IsWhisperPCM()
}

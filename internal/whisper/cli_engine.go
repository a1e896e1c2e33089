package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fmueller/whisperjson/internal/audio"
	"go.uber.org/zap"
)

// cliEngine drives a whisper-cli executable and reads its full JSON output.
type cliEngine struct {
	executable string
	opts       Options
}

func newCLIEngine(executable string, opts Options) *cliEngine {
	return &cliEngine{executable: executable, opts: opts}
}

func (e *cliEngine) Name() string {
	return "whisper-cli"
}

func (e *cliEngine) LoadModel(ctx context.Context, name string) (Model, error) {
	resolved, err := e.opts.Store.Ensure(ctx, name)
	if err != nil {
		return nil, err
	}

	return &cliModel{engine: e, model: resolved}, nil
}

type cliModel struct {
	engine *cliEngine
	model  ResolvedModel
}

func (m *cliModel) Close() error {
	return nil
}

func (m *cliModel) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if strings.TrimSpace(audioPath) == "" {
		return nil, errors.New("audio path is required")
	}

	if err := ensureExecutable(m.engine.executable); err != nil {
		return nil, fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	workDir, err := os.MkdirTemp("", "whisperjson-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	logger := m.engine.opts.Logger
	input, err := audio.Prepare(ctx, audioPath, cliReadable, audio.NormalizeOptions{
		FFmpegPath: m.engine.opts.FFmpegPath,
		TempDir:    workDir,
		Logger:     logger,
	})
	switch {
	case errors.Is(err, audio.ErrFFmpegMissing) && input.Format == audio.FormatUnknown:
		logger.Warn("ffmpeg unavailable; passing unrecognized audio to whisper-cli as is", zap.String("audio", audioPath))
		input = audio.Input{Path: audioPath, Format: audio.FormatUnknown}
	case err != nil:
		return nil, err
	}
	defer input.Close()

	outBase := filepath.Join(workDir, "transcript")
	jsonOut := outBase + ".json"

	args := []string{"-m", m.model.Path, "-f", input.Path, "-np", "-ojf", "-of", outBase, "-l", languageOption(m.engine.opts.Language)}
	if m.engine.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(m.engine.opts.Threads))
	}

	cmd := exec.CommandContext(ctx, m.engine.executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	logger.Debug("running whisper engine", zap.String("engine", m.engine.executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return nil, fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", m.engine.executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return nil, fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set WHISPERJSON_WHISPER_PATH to a whisper-cli binary built for your CPU")
		}
		return nil, fmt.Errorf("whisper transcribe failed: %w (%s)", err, lastLine(errText))
	}

	content, err := os.ReadFile(jsonOut)
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	return parseCLIOutput(content)
}

// cliReadable lists the containers whisper-cli decodes on its own. Anything
// else, including unrecognized input, goes through ffmpeg first.
func cliReadable(format audio.Format, _ audio.WAVInfo) bool {
	switch format {
	case audio.FormatWAV, audio.FormatMP3, audio.FormatFLAC, audio.FormatOGG:
		return true
	default:
		return false
	}
}

type cliOutput struct {
	Params struct {
		Language string `json:"language"`
	} `json:"params"`
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			ID   int     `json:"id"`
			Text string  `json:"text"`
			P    float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func parseCLIOutput(content []byte) (*Result, error) {
	var out cliOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}

	result := &Result{
		Language: out.Result.Language,
		Segments: make([]Segment, 0, len(out.Transcription)),
	}
	if result.Language == "" {
		result.Language = out.Params.Language
	}

	var text strings.Builder
	for i, entry := range out.Transcription {
		segment := Segment{
			ID:    i,
			Start: millisToSeconds(entry.Offsets.From),
			End:   millisToSeconds(entry.Offsets.To),
			Text:  entry.Text,
		}
		for _, token := range entry.Tokens {
			segment.Tokens = append(segment.Tokens, Token{ID: token.ID, Text: token.Text, Probability: token.P})
		}
		result.Segments = append(result.Segments, segment)
		text.WriteString(entry.Text)
	}

	result.Text = strings.TrimSpace(text.String())
	if n := len(result.Segments); n > 0 {
		result.Duration = time.Duration(result.Segments[n-1].End * float64(time.Second))
	}

	return result, nil
}

func millisToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}

func languageOption(language string) string {
	trimmed := strings.TrimSpace(strings.ToLower(language))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}

func lastLine(text string) string {
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}

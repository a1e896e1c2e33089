package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var ErrFFmpegMissing = errors.New("ffmpeg not found on PATH")

// NormalizeOptions configures ffmpeg transcoding. FFmpegPath overrides the
// lookup on PATH and TempDir receives the transcoded file (os.TempDir when
// empty).
type NormalizeOptions struct {
	FFmpegPath string
	TempDir    string
	Logger     *zap.Logger
}

// Input is an audio file ready for an engine. Close removes any temporary
// file created while preparing it.
type Input struct {
	Path      string
	Format    Format
	Converted bool
}

func (in Input) Close() error {
	if !in.Converted {
		return nil
	}
	if err := os.Remove(in.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// AcceptFunc reports whether an engine reads the sniffed input directly.
// info is the zero value for anything but a parseable WAV file.
type AcceptFunc func(format Format, info WAVInfo) bool

// Prepare returns path unchanged when accept allows it and otherwise a
// temporary 16 kHz mono PCM WAV transcoded with ffmpeg. A file that starts
// like WAV but whose header cannot be parsed is handed to ffmpeg as unknown.
// When transcoding fails the returned Input still carries the sniffed format.
func Prepare(ctx context.Context, path string, accept AcceptFunc, opts NormalizeOptions) (Input, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	format, err := Sniff(path)
	if err != nil {
		return Input{}, err
	}

	var info WAVInfo
	if format == FormatWAV {
		info, err = ReadWAVInfo(path)
		switch {
		case errors.Is(err, ErrInvalidWAV):
			logger.Debug("wav header is damaged; treating input as unknown", zap.String("audio", path), zap.Error(err))
			format = FormatUnknown
		case err != nil:
			logger.Debug("wav header inspection failed", zap.String("audio", path), zap.Error(err))
			info = WAVInfo{}
		default:
			logger.Debug("wav input",
				zap.String("audio", path),
				zap.Uint32("sample_rate", info.SampleRate),
				zap.Uint16("channels", info.Channels),
				zap.Duration("duration", info.Duration()),
			)
		}
	}

	if accept == nil || accept(format, info) {
		return Input{Path: path, Format: format}, nil
	}

	logger.Debug("normalizing audio with ffmpeg", zap.String("audio", path), zap.Stringer("format", format))
	out, err := Normalize(ctx, path, opts)
	if err != nil {
		return Input{Path: path, Format: format}, fmt.Errorf("decode %s audio: %w", format, err)
	}

	return Input{Path: out, Format: FormatWAV, Converted: true}, nil
}

// Normalize transcodes src into a temporary 16 kHz mono 16-bit PCM WAV file
// and returns its path. Video streams are dropped.
func Normalize(ctx context.Context, src string, opts NormalizeOptions) (string, error) {
	ffmpeg, err := resolveFFmpeg(opts.FFmpegPath)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(opts.TempDir, "whisperjson-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	dst := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("close temp wav: %w", err)
	}

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vn", "-ac", "1", "-ar", strconv.Itoa(WhisperSampleRate),
		"-c:a", "pcm_s16le", "-f", "wav",
		dst,
	}

	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(dst)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("ffmpeg: %w (%s)", err, msg)
		}
		return "", fmt.Errorf("ffmpeg: %w", err)
	}

	return dst, nil
}

func resolveFFmpeg(override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		info, err := os.Stat(override)
		if err != nil || info.IsDir() {
			return "", ErrFFmpegMissing
		}
		return override, nil
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", ErrFFmpegMissing
	}
	return path, nil
}

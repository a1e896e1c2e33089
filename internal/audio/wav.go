package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3

	// WhisperSampleRate is the rate whisper models are trained on.
	WhisperSampleRate = 16000
)

// WAVInfo is the format description taken from a RIFF/WAVE header.
type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// IsWhisperPCM reports whether the stream is 16-bit mono PCM at 16 kHz and
// can be fed to whisper.cpp without resampling.
func (w WAVInfo) IsWhisperPCM() bool {
	return w.AudioFormat == wavFormatPCM && w.Channels == 1 && w.SampleRate == WhisperSampleRate && w.BitsPerSample == 16
}

func (w WAVInfo) Duration() time.Duration {
	frameSize := uint64(w.Channels) * uint64(w.BitsPerSample/8)
	if frameSize == 0 || w.SampleRate == 0 {
		return 0
	}
	frames := uint64(w.DataSize) / frameSize
	return time.Duration(frames) * time.Second / time.Duration(w.SampleRate)
}

// ReadWAVInfo walks the RIFF chunks of path until both the fmt and data
// chunks have been seen.
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	return readWAVInfo(f)
}

func readWAVInfo(r io.ReadSeeker) (WAVInfo, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return WAVInfo{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return WAVInfo{}, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVInfo{}, ErrInvalidWAV
	}

	var (
		info    WAVInfo
		hasFmt  bool
		hasData bool
	)

	chunkHeader := make([]byte, 8)
	for !hasFmt || !hasData {
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return WAVInfo{}, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])
		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return WAVInfo{}, ErrInvalidWAV
			}

			buf := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, buf); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return WAVInfo{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
				}
				return WAVInfo{}, fmt.Errorf("read wav fmt chunk: %w", err)
			}

			info.AudioFormat = binary.LittleEndian.Uint16(buf[0:2])
			info.Channels = binary.LittleEndian.Uint16(buf[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(buf[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			hasFmt = true

			if chunkSize%2 != 0 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return WAVInfo{}, fmt.Errorf("seek wav fmt padding: %w", err)
				}
			}
		case "data":
			info.DataSize = chunkSize
			hasData = true
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return WAVInfo{}, fmt.Errorf("seek wav data chunk: %w", err)
			}
		default:
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return WAVInfo{}, fmt.Errorf("seek wav chunk %s: %w", chunkID, err)
			}
		}
	}

	if !hasFmt || !hasData {
		return WAVInfo{}, ErrInvalidWAV
	}

	if err := validateFormat(info.AudioFormat, info.BitsPerSample); err != nil {
		return WAVInfo{}, err
	}

	return info, nil
}

func validateFormat(audioFormat, bitsPerSample uint16) error {
	switch audioFormat {
	case wavFormatPCM:
		switch bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case wavFormatFloat:
		switch bitsPerSample {
		case 32, 64:
			return nil
		}
	}

	return ErrUnsupportedWAV
}

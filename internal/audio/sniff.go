package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format is an audio or video container family.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatMP4     Format = "mp4"
	FormatWebM    Format = "webm"
	FormatAVI     Format = "avi"
)

func (f Format) String() string {
	if f == FormatUnknown {
		return "unknown"
	}
	return string(f)
}

// Sniff identifies the container of path from its leading bytes. Files it
// does not recognise yield FormatUnknown without an error.
func Sniff(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown, fmt.Errorf("read audio header: %w", err)
	}

	return sniffHeader(head[:n]), nil
}

func sniffHeader(head []byte) Format {
	switch {
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return FormatWAV
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("AVI ")):
		return FormatAVI
	case bytes.HasPrefix(head, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(head, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(head, []byte("ID3")):
		return FormatMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0 && head[1]&0x06 != 0:
		return FormatMP3
	case len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")):
		return FormatMP4
	case bytes.HasPrefix(head, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	default:
		return FormatUnknown
	}
}

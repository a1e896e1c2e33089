package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/whisperjson/internal/whisper"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.ExecuteContext(context.Background())
	return outBuf.String(), errBuf.String(), err
}

// fakeEngine records the model names it is asked to load and replays a
// fixed result or error for every transcription.
type fakeEngine struct {
	result *whisper.Result
	err    error
	loaded []string
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) LoadModel(_ context.Context, name string) (whisper.Model, error) {
	e.loaded = append(e.loaded, name)
	return fakeModel{engine: e}, nil
}

type fakeModel struct {
	engine *fakeEngine
}

func (m fakeModel) Transcribe(context.Context, string) (*whisper.Result, error) {
	return m.engine.result, m.engine.err
}

func (fakeModel) Close() error { return nil }

func appWithEngine(engine whisper.Engine) *appState {
	app := newAppState()
	app.probeFn = func(whisper.Options) (whisper.Engine, error) {
		return engine, nil
	}
	return app
}

func writeAudioFixture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAVForTest(make([]int16, 1600), 16000, 1), 0o644))
	return path
}

func makePCM16WAVForTest(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}

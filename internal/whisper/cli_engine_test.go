package whisper

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/fmueller/whisperjson/internal/audio"
	"github.com/fmueller/whisperjson/internal/download"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleCLIOutput = `{
	"systeminfo": "AVX = 1 | AVX2 = 1",
	"model": {"type": "base", "multilingual": true},
	"params": {"model": "ggml-base.bin", "language": "auto", "translate": false},
	"result": {"language": "en"},
	"transcription": [
		{
			"timestamps": {"from": "00:00:00,000", "to": "00:00:01,200"},
			"offsets": {"from": 0, "to": 1200},
			"text": " hello world",
			"tokens": [
				{"text": " hello", "timestamps": {"from": "00:00:00,000", "to": "00:00:00,600"}, "offsets": {"from": 0, "to": 600}, "id": 7751, "p": 0.98, "t_dtw": -1},
				{"text": " world", "timestamps": {"from": "00:00:00,600", "to": "00:00:01,200"}, "offsets": {"from": 600, "to": 1200}, "id": 1002, "p": 0.91, "t_dtw": -1}
			]
		},
		{
			"timestamps": {"from": "00:00:01,200", "to": "00:00:02,500"},
			"offsets": {"from": 1200, "to": 2500},
			"text": " again."
		}
	]
}`

func TestParseCLIOutput(t *testing.T) {
	t.Parallel()

	result, err := parseCLIOutput([]byte(sampleCLIOutput))
	require.NoError(t, err)
	require.Equal(t, "hello world again.", result.Text)
	require.Equal(t, "en", result.Language)
	require.Equal(t, 2500*time.Millisecond, result.Duration)
	require.Len(t, result.Segments, 2)

	first := result.Segments[0]
	require.Equal(t, 0.0, first.Start)
	require.Equal(t, 1.2, first.End)
	require.Equal(t, " hello world", first.Text)
	require.Len(t, first.Tokens, 2)
	require.Equal(t, Token{ID: 7751, Text: " hello", Probability: 0.98}, first.Tokens[0])

	second := result.Segments[1]
	require.Equal(t, 1, second.ID)
	require.Equal(t, 1.2, second.Start)
	require.Equal(t, 2.5, second.End)
	require.Empty(t, second.Tokens)
}

func TestParseCLIOutputFallsBackToRequestedLanguage(t *testing.T) {
	t.Parallel()

	result, err := parseCLIOutput([]byte(`{"params": {"language": "de"}, "transcription": []}`))
	require.NoError(t, err)
	require.Equal(t, "de", result.Language)
	require.Empty(t, result.Text)
	require.NotNil(t, result.Segments)
	require.Empty(t, result.Segments)
}

func TestParseCLIOutputRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseCLIOutput([]byte("not json"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode whisper output")
}

func TestLanguageOption(t *testing.T) {
	t.Parallel()

	require.Equal(t, "auto", languageOption(""))
	require.Equal(t, "auto", languageOption("  "))
	require.Equal(t, "en", languageOption(" EN "))
}

func TestCLIEngineTranscribesWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}

	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > '" + argsFile + "'\n" +
		"while [ \"$#\" -gt 0 ]; do\n" +
		"  case \"$1\" in\n" +
		"    -of) out=\"$2\"; shift 2 ;;\n" +
		"    *) shift ;;\n" +
		"  esac\n" +
		"done\n" +
		"cat > \"$out.json\" <<'EOF'\n" + sampleCLIOutput + "\nEOF\n"
	exe := writeExecutable(t, dir, script)

	modelPath := filepath.Join(dir, "custom.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("ggml"), 0o644))
	audioPath := filepath.Join(dir, "a.wav")
	require.NoError(t, os.WriteFile(audioPath, makeWAVForTest(1600), 0o644))

	engine := newCLIEngine(exe, Options{Language: "auto", Threads: 2, Logger: zap.NewNop()})
	model, err := engine.LoadModel(context.Background(), modelPath)
	require.NoError(t, err)
	defer model.Close()

	result, err := model.Transcribe(context.Background(), audioPath)
	require.NoError(t, err)
	require.Equal(t, "hello world again.", result.Text)
	require.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 2)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(args), "-m "+modelPath)
	require.Contains(t, string(args), "-f "+audioPath)
	require.Contains(t, string(args), "-ojf")
	require.Contains(t, string(args), "-l auto")
	require.Contains(t, string(args), "-t 2")

	fields := strings.Fields(string(args))
	for i, field := range fields {
		if field == "-of" && i+1 < len(fields) {
			require.NoDirExists(t, filepath.Dir(fields[i+1]))
		}
	}
}

func TestCLIReadableSendsUnknownContainersThroughFFmpeg(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}

	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpeg, []byte("#!/bin/sh\nfor last; do :; done\ncp '"+filepath.Join(dir, "converted.wav")+"' \"$last\"\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "converted.wav"), makeWAVForTest(16), 0o644))

	adts := filepath.Join(dir, "clip.aac")
	require.NoError(t, os.WriteFile(adts, []byte{0xFF, 0xF1, 0x50, 0x80, 0x02, 0x1F, 0xFC, 0x00}, 0o644))

	input, err := audio.Prepare(context.Background(), adts, cliReadable, audio.NormalizeOptions{FFmpegPath: ffmpeg, TempDir: dir})
	require.NoError(t, err)
	defer input.Close()

	require.True(t, input.Converted)
	require.NotEqual(t, adts, input.Path)
	require.Equal(t, audio.FormatWAV, input.Format)
}

func TestCLIEngineFallsBackToRawInputWithoutFFmpeg(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}

	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > '" + argsFile + "'\n" +
		"while [ \"$#\" -gt 0 ]; do\n" +
		"  case \"$1\" in\n" +
		"    -of) out=\"$2\"; shift 2 ;;\n" +
		"    *) shift ;;\n" +
		"  esac\n" +
		"done\n" +
		"echo '{\"result\":{\"language\":\"en\"},\"transcription\":[]}' > \"$out.json\"\n"
	exe := writeExecutable(t, dir, script)

	modelPath := filepath.Join(dir, "custom.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("ggml"), 0o644))
	adts := filepath.Join(dir, "clip.aac")
	require.NoError(t, os.WriteFile(adts, []byte{0xFF, 0xF1, 0x50, 0x80, 0x02, 0x1F, 0xFC, 0x00}, 0o644))

	engine := newCLIEngine(exe, Options{FFmpegPath: filepath.Join(dir, "no-ffmpeg"), Logger: zap.NewNop()})
	model, err := engine.LoadModel(context.Background(), modelPath)
	require.NoError(t, err)

	result, err := model.Transcribe(context.Background(), adts)
	require.NoError(t, err)
	require.Empty(t, result.Segments)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(args), "-f "+adts)
	require.FileExists(t, adts)
}

func TestCLIEngineReportsMissingFFmpegForKnownContainers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	modelPath := filepath.Join(dir, "custom.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("ggml"), 0o644))
	webm := filepath.Join(dir, "clip.webm")
	require.NoError(t, os.WriteFile(webm, []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00}, 0o644))

	self, err := os.Executable()
	require.NoError(t, err)

	engine := newCLIEngine(self, Options{FFmpegPath: filepath.Join(dir, "no-ffmpeg"), Logger: zap.NewNop()})
	model, err := engine.LoadModel(context.Background(), modelPath)
	require.NoError(t, err)

	_, err = model.Transcribe(context.Background(), webm)
	require.ErrorIs(t, err, audio.ErrFFmpegMissing)
	require.Contains(t, err.Error(), "decode webm audio")
}

func TestCLIEngineReportsEngineFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}

	dir := t.TempDir()
	exe := writeExecutable(t, dir, "#!/bin/sh\necho 'whisper_init_from_file: loading model' >&2\necho 'error: failed to read audio file' >&2\nexit 3\n")

	modelPath := filepath.Join(dir, "custom.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("ggml"), 0o644))
	audioPath := filepath.Join(dir, "a.wav")
	require.NoError(t, os.WriteFile(audioPath, makeWAVForTest(16), 0o644))

	engine := newCLIEngine(exe, Options{Logger: zap.NewNop()})
	model, err := engine.LoadModel(context.Background(), modelPath)
	require.NoError(t, err)

	_, err = model.Transcribe(context.Background(), audioPath)
	require.Error(t, err)
	require.True(t, strings.HasSuffix(err.Error(), "(error: failed to read audio file)"), err.Error())
}

func TestCLIEngineLoadModelUnknownName(t *testing.T) {
	t.Parallel()

	engine := newCLIEngine("/bin/true", Options{Store: ModelStore{Dir: t.TempDir()}, Logger: zap.NewNop()})
	_, err := engine.LoadModel(context.Background(), "enormous")
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown model "enormous"`)
}

func TestModelStoreWithoutAutoDownload(t *testing.T) {
	t.Parallel()

	store := ModelStore{Dir: t.TempDir()}
	_, err := store.Ensure(context.Background(), "tiny")
	require.Error(t, err)
	require.Contains(t, err.Error(), `model "tiny" is missing`)
}

func TestModelStoreUsesCachedModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cached := filepath.Join(dir, "ggml-base.bin")
	require.NoError(t, os.WriteFile(cached, []byte("ggml"), 0o644))

	store := ModelStore{Dir: dir, AutoDownload: true}
	resolved, err := store.Ensure(context.Background(), "base")
	require.NoError(t, err)
	require.Equal(t, cached, resolved.Path)
	require.False(t, resolved.NeedsDownload)
}

type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func TestModelStoreRejectsTamperedDownload(t *testing.T) {
	t.Parallel()

	requested := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case requested <- r.URL.Path:
		default:
		}
		_, _ = w.Write([]byte("not a model"))
	}))
	defer server.Close()

	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	dir := t.TempDir()
	store := ModelStore{
		Dir:          dir,
		AutoDownload: true,
		HTTPClient:   &http.Client{Transport: rewriteTransport{target: target}},
	}
	_, err = store.Ensure(context.Background(), "tiny")
	require.ErrorIs(t, err, download.ErrChecksumMismatch)
	require.Contains(t, err.Error(), `download model "tiny"`)
	require.Equal(t, "/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin", <-requested)
	require.NoFileExists(t, filepath.Join(dir, "ggml-tiny.bin"))
}

func writeExecutable(t *testing.T, dir, script string) string {
	t.Helper()

	path := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func makeWAVForTest(samples int) []byte {
	dataSize := samples * 2
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], 1)
	binary.LittleEndian.PutUint32(out[24:], 16000)
	binary.LittleEndian.PutUint32(out[28:], 32000)
	binary.LittleEndian.PutUint16(out[32:], 2)
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	return out
}

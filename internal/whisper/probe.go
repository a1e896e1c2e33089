package whisper

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("inference engine unavailable")

// UnavailableError reports that no whisper engine could be located.
type UnavailableError struct {
	Dependency  string
	Instruction string
	Err         error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is not installed. Run: %s", e.Dependency, e.Instruction)
}

func (e *UnavailableError) Unwrap() error {
	return ErrUnavailable
}

// Options configures engine discovery and model loading.
type Options struct {
	ExecutablePath string
	FFmpegPath     string
	Language       string
	Threads        int
	Store          ModelStore
	Logger         *zap.Logger
}

// newLibraryEngine is set when the binary is built with the whispercpp tag.
var newLibraryEngine func(opts Options) (Engine, error)

// Probe locates the inference capability once. In-process bindings win when
// compiled in; otherwise a whisper-cli executable is searched for.
func Probe(opts Options) (Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Logger
	}

	if newLibraryEngine != nil {
		return newLibraryEngine(opts)
	}

	executable, err := resolveExecutable(opts.ExecutablePath)
	if err != nil {
		opts.Logger.Debug("whisper-cli lookup failed", zap.Error(err))
		return nil, &UnavailableError{
			Dependency:  engineBinaryName(),
			Instruction: installInstruction(runtime.GOOS),
			Err:         err,
		}
	}

	opts.Logger.Debug("using whisper-cli engine", zap.String("engine", executable))
	return newCLIEngine(executable, opts), nil
}

func resolveExecutable(override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("configured whisper path is not executable: %w", err)
		}
		return override, nil
	}

	self, err := os.Executable()
	if err == nil {
		if found, err := ResolveBundledEnginePath(self); err == nil {
			return found, nil
		}
	}

	found, err := exec.LookPath(engineBinaryName())
	if err != nil {
		return "", err
	}
	return found, nil
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("bundled whisper engine not found near %s", selfExecutable)
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", runtime.GOOS+"_"+runtime.GOARCH, engineName),
		filepath.Join(binDir, engineName),
	}
}

func installInstruction(goos string) string {
	switch goos {
	case "darwin":
		return "brew install whisper-cpp"
	case "windows":
		return "download whisper-bin-x64.zip from https://github.com/ggml-org/whisper.cpp/releases and add whisper-cli.exe to PATH"
	default:
		return "cmake -B build && cmake --build build --target whisper-cli in a https://github.com/ggml-org/whisper.cpp checkout, then put build/bin/whisper-cli on PATH or set WHISPERJSON_WHISPER_PATH"
	}
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

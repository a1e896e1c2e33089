package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fmueller/whisperjson/internal/logging"
	"github.com/fmueller/whisperjson/internal/transcript"
	"github.com/fmueller/whisperjson/internal/version"
	"github.com/fmueller/whisperjson/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

const appName = "whisperjson"

type appState struct {
	cfg    config
	logger *zap.Logger

	probeFn    func(opts whisper.Options) (whisper.Engine, error)
	isTerminal func() bool
}

func newAppState() *appState {
	return &appState{
		probeFn: whisper.Probe,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stderr.Fd()))
		},
	}
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName + " <audio_file> [model_name]",
		Short: "Transcribe an audio file with whisper and print the result as JSON",
		Long: `Transcribe an audio file with a local whisper engine.

The result is printed to stdout as a single JSON record. Inference failures are
reported inside the record with "success": false; usage and environment errors
print {"error": "..."} and exit with status 1.

Settings can also be provided as WHISPERJSON_* environment variables, for
example WHISPERJSON_MODEL_DIR or WHISPERJSON_WHISPER_PATH.

Flags must come before the audio file. Use -- to pass a file whose name starts
with a dash, for example: whisperjson -- -take1.wav`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Verbose: cfg.verbose, JSON: cfg.logJSON})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.cfg = cfg
			app.logger = logger

			info := version.Current(appName)
			logger.Debug("starting", zap.String("version", info.Version), zap.String("commit", info.Commit))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, args)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")
	bindConfigFlags(cmd)
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// run probes the engine before looking at the arguments so that a missing
// engine is always reported first.
func (a *appState) run(cmd *cobra.Command, args []string) error {
	progress := a.progressWriter(cmd)

	engine, err := a.probe(progress)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return &usageError{use: cmd.Use}
	}

	audioPath := args[0]
	modelName := whisper.DefaultModel
	if len(args) > 1 {
		modelName = args[1]
	}
	if len(args) > 2 {
		a.log().Debug("ignoring extra arguments", zap.Strings("args", args[2:]))
	}

	if _, err := os.Stat(audioPath); err != nil {
		return &fileNotFoundError{path: audioPath, err: err}
	}

	a.log().Info("transcribing", zap.String("audio", audioPath), zap.String("model", modelName), zap.String("engine", engine.Name()))
	stopSpinner := startSpinner(cmd.Context(), progress, "Transcribing")
	result := transcript.Transcribe(cmd.Context(), engine, transcript.Request{
		AudioPath: audioPath,
		ModelName: modelName,
	}, a.log())
	stopSpinner()

	if err := transcript.WriteResult(cmd.OutOrStdout(), result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func (a *appState) probe(progress io.Writer) (whisper.Engine, error) {
	probeFn := a.probeFn
	if probeFn == nil {
		probeFn = whisper.Probe
	}

	return probeFn(whisper.Options{
		ExecutablePath: a.cfg.whisperPath,
		FFmpegPath:     a.cfg.ffmpegPath,
		Language:       a.cfg.language,
		Threads:        a.cfg.threads,
		Store: whisper.ModelStore{
			Dir:          a.cfg.modelDir,
			AutoDownload: a.cfg.autoDownload,
			Progress:     progress,
			Logger:       a.log(),
		},
		Logger: a.log(),
	})
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

// progressWriter returns the command's stderr when progress was requested
// and stderr is a terminal, and nil otherwise.
func (a *appState) progressWriter(cmd *cobra.Command) io.Writer {
	if !a.cfg.progress || a.isTerminal == nil || !a.isTerminal() {
		return nil
	}
	return cmd.ErrOrStderr()
}

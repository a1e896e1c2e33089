package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "WHISPERJSON"

type config struct {
	modelDir     string
	whisperPath  string
	ffmpegPath   string
	language     string
	threads      int
	autoDownload bool
	progress     bool
	verbose      bool
	logJSON      bool
}

func bindConfigFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("model-dir", "", "Directory where models are stored")
	flags.String("whisper-path", "", "Path to the whisper-cli executable")
	flags.String("ffmpeg-path", "", "Path to the ffmpeg executable used to convert audio")
	flags.String("language", "auto", "Language code (auto|en|de|...) passed to the engine")
	flags.Int("threads", 0, "Inference threads; 0 uses the engine default")
	flags.Bool("auto-download", true, "Automatically download missing models")
	flags.Bool("progress", false, "Show progress indicators on stderr when it is a terminal")
	flags.Bool("verbose", false, "Enable verbose logs on stderr")
	flags.Bool("log-json", false, "Encode logs as JSON")
}

// loadConfig merges flags with WHISPERJSON_* environment variables. An
// explicitly set flag wins over the environment.
func loadConfig(cmd *cobra.Command) (config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := config{
		modelDir:     strings.TrimSpace(v.GetString("model-dir")),
		whisperPath:  strings.TrimSpace(v.GetString("whisper-path")),
		ffmpegPath:   strings.TrimSpace(v.GetString("ffmpeg-path")),
		language:     sanitizeLanguage(v.GetString("language")),
		threads:      v.GetInt("threads"),
		autoDownload: v.GetBool("auto-download"),
		progress:     v.GetBool("progress"),
		verbose:      v.GetBool("verbose"),
		logJSON:      v.GetBool("log-json"),
	}
	if cfg.threads < 0 {
		return config{}, fmt.Errorf("invalid --threads %d: must not be negative", cfg.threads)
	}
	return cfg, nil
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}

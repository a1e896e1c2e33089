package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/fmueller/whisperjson/internal/whisper"
	"go.uber.org/zap"
)

// Request is one invocation: an audio file and the model to run over it.
type Request struct {
	AudioPath string
	ModelName string
}

// Transcribe loads the requested model, runs it once over the audio file and
// returns the projected result. Errors from the engine, including panics in
// it, come back as a Failure result.
func Transcribe(ctx context.Context, engine whisper.Engine, req Request, logger *zap.Logger) (result Result) {
	if logger == nil {
		logger = zap.NewNop()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("whisper engine panicked", zap.Any("panic", r))
			result = Failure(fmt.Sprint(r))
		}
	}()

	modelName := req.ModelName
	if modelName == "" {
		modelName = whisper.DefaultModel
	}

	started := time.Now()
	model, err := engine.LoadModel(ctx, modelName)
	if err != nil {
		logger.Warn("model load failed", zap.String("model", modelName), zap.Error(err))
		return Failure(err.Error())
	}
	defer func() {
		if err := model.Close(); err != nil {
			logger.Warn("failed to release model", zap.String("model", modelName), zap.Error(err))
		}
	}()
	logger.Debug("model loaded", zap.String("engine", engine.Name()), zap.String("model", modelName), zap.Duration("elapsed", time.Since(started)))

	started = time.Now()
	native, err := model.Transcribe(ctx, req.AudioPath)
	if err != nil {
		logger.Warn("transcription failed", zap.String("audio", req.AudioPath), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return Failure(err.Error())
	}

	result = FromEngine(native)
	logger.Info("transcription finished",
		zap.String("audio", req.AudioPath),
		zap.String("language", result.Language),
		zap.Int("segments", len(result.Segments)),
		zap.Duration("audio_duration", native.Duration),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result
}

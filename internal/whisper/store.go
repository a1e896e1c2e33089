package whisper

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fmueller/whisperjson/internal/download"
	"github.com/fmueller/whisperjson/internal/platform"
	"go.uber.org/zap"
)

// ModelStore is the on-disk cache of ggml model files. Download progress is
// drawn on Progress when it is set.
type ModelStore struct {
	Dir          string
	AutoDownload bool
	Progress     io.Writer
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Ensure resolves modelRef and downloads the named model into the store when
// it is missing and auto-download is enabled.
func (s ModelStore) Ensure(ctx context.Context, modelRef string) (ResolvedModel, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir, err := platform.ResolveModelDir(s.Dir)
	if err != nil {
		return ResolvedModel{}, err
	}

	resolved, err := ResolveModel(modelRef, dir)
	if err != nil {
		return ResolvedModel{}, err
	}

	if resolved.IsCustomPath {
		logger.Debug("using custom model file", zap.String("path", resolved.Path))
		return resolved, nil
	}
	if !resolved.NeedsDownload {
		logger.Debug("using cached model", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
		return resolved, nil
	}

	if !s.AutoDownload {
		return ResolvedModel{}, fmt.Errorf("model %q is missing at %s; rerun with --auto-download=true", resolved.Name, resolved.Path)
	}

	logger.Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	client := &download.Client{HTTP: s.HTTPClient, Progress: s.Progress, Logger: logger}
	if err := client.Fetch(ctx, download.Request{
		URL:         resolved.URL,
		Destination: resolved.Path,
		SHA256:      resolved.SHA256,
	}); err != nil {
		return ResolvedModel{}, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

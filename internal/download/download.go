// Package download fetches model files and verifies them against a pinned
// SHA-256 before they become visible at their final path.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

const userAgent = "whisperjson/1"

// ErrChecksumMismatch is returned when the fetched bytes do not hash to the
// expected digest. It is not retried.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Request names one remote file and where it should end up.
type Request struct {
	URL         string
	Destination string
	SHA256      string
}

// Client downloads files with bounded retries. A nil Progress writer
// disables the progress bar.
type Client struct {
	HTTP     *http.Client
	Attempts int
	Backoff  time.Duration
	Progress io.Writer
	Logger   *zap.Logger
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// Fetch downloads req.URL next to req.Destination and renames it into place
// once the checksum matched. Transient failures (transport errors, 5xx and
// 429 responses) are retried with linear backoff.
func (c *Client) Fetch(ctx context.Context, req Request) error {
	if req.URL == "" {
		return errors.New("download URL is required")
	}
	if req.Destination == "" {
		return errors.New("destination path is required")
	}

	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	logger := c.logger()

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying download", zap.Int("attempt", attempt), zap.Int("max", attempts), zap.String("url", req.URL), zap.Error(err))
			timer := time.NewTimer(time.Duration(attempt-1) * backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = c.fetchOnce(ctx, req)
		if err == nil || !retryable(ctx, err) {
			return err
		}
	}

	return err
}

func (c *Client) fetchOnce(ctx context.Context, req Request) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(req.Destination), filepath.Base(req.Destination)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	digest := sha256.New()
	body := io.TeeReader(resp.Body, digest)
	if bar := c.bar(resp.ContentLength, filepath.Base(req.Destination)); bar != nil {
		defer func() { _ = bar.Finish() }()
		body = io.TeeReader(body, bar)
	}

	if _, err := io.Copy(tmp, body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	if err := verify(digest, req.SHA256); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, req.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}

	committed = true
	return nil
}

func verify(digest hash.Hash, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return nil
	}
	if actual := hex.EncodeToString(digest.Sum(nil)); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrChecksumMismatch) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.code >= 500 || status.code == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) bar(size int64, name string) *progressbar.ProgressBar {
	if c.Progress == nil || size <= 0 {
		return nil
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription("downloading "+name),
		progressbar.OptionSetWriter(c.Progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return &http.Client{Timeout: 30 * time.Minute}
	}
	return c.HTTP
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

package cli

import (
	"context"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

type stopFunc func()

// startSpinner animates description on w until the returned func is called
// or ctx ends. A nil writer yields a no-op. Calling stop more than once is
// safe.
func startSpinner(ctx context.Context, w io.Writer, description string) stopFunc {
	if w == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				_ = bar.Finish()
				return
			case <-tick.C:
				_ = bar.Add(1)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

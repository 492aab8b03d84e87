package scan

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Stability is the outcome of re-statting a candidate after the wait
// window. An unstable file is not an error; the caller retries it on
// the next scan cycle.
type Stability struct {
	Stable      bool
	InitialSize int64
	CurrentSize int64
}

// CompareSizes is the pure size comparison behind CheckStability,
// split out so the boundary can be tested without sleeping.
func CompareSizes(initial, current int64) Stability {
	return Stability{
		Stable:      initial == current,
		InitialSize: initial,
		CurrentSize: current,
	}
}

// CheckStability waits for the configured window, then re-stats the
// file and compares sizes. The wait is interruptible through ctx so
// daemon shutdown does not hang on in-flight checks.
func CheckStability(ctx context.Context, path string, initialSize int64, wait time.Duration) (Stability, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return Stability{}, fmt.Errorf("stability check for %s: %w", path, ctx.Err())
	}

	info, err := os.Stat(path)
	if err != nil {
		return Stability{}, fmt.Errorf("stability check for %s: %w", path, err)
	}
	return CompareSizes(initialSize, info.Size()), nil
}

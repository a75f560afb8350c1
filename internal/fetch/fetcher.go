// Package fetch retrieves resolved media and leaves a single audio file in
// the job's target format at the requested path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrFileTooSmall means the produced file is implausibly small and was deleted.
	ErrFileTooSmall = errors.New("output file too small")
	// ErrUnsupportedRef means no fetcher handles the media reference.
	ErrUnsupportedRef = errors.New("unsupported media reference")
)

// DefaultMinFileSize is the smallest output accepted as a real track.
const DefaultMinFileSize int64 = 10 * 1024

// Fetcher writes the audio for mediaRef to destPath. Implementations are
// stateless per call and safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, mediaRef, destPath string) error
}

// Attempt describes one try of a fetch, for logging.
type Attempt struct {
	Ref     string
	Number  int
	Cookies bool
	Err     error
}

// Dispatcher routes magnet links to the torrent fetcher and everything else
// to the default fetcher.
type Dispatcher struct {
	Default Fetcher
	Magnet  Fetcher
}

func (d Dispatcher) Fetch(ctx context.Context, mediaRef, destPath string) error {
	next := d.Default
	if strings.HasPrefix(strings.ToLower(mediaRef), "magnet:") {
		next = d.Magnet
	}
	if next == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedRef, mediaRef)
	}
	return next.Fetch(ctx, mediaRef, destPath)
}

// checkOutput verifies path exists and is at least min bytes, deleting it
// otherwise.
func checkOutput(path string, min int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() < min {
		_ = os.Remove(path)
		return fmt.Errorf("%w: %d bytes", ErrFileTooSmall, info.Size())
	}
	return nil
}

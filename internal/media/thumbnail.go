package media

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// VideoPlaceholderSVG is returned by the thumbnail endpoint when video
// thumbnailing fails.
var VideoPlaceholderSVG = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="320" height="180" viewBox="0 0 320 180">` +
	`<rect width="320" height="180" fill="#1f2430"/>` +
	`<polygon points="130,60 130,120 200,90" fill="#8892a6"/>` +
	`</svg>`)

// FrameExtractor spawns an external process that writes a single JPEG
// frame from a video to dst. The concrete binary (ffmpeg-shaped) is
// treated as an opaque external collaborator — this package only
// drives its lifecycle.
type FrameExtractor struct {
	// Binary is the executable name or path, e.g. "ffmpeg".
	Binary string
	log    *slog.Logger
}

// NewFrameExtractor constructs a FrameExtractor. log may be nil.
func NewFrameExtractor(binary string, log *slog.Logger) *FrameExtractor {
	if log == nil {
		log = slog.Default()
	}
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FrameExtractor{Binary: binary, log: log}
}

// seekStrategy names one of the three fallback attempts: fast-seek,
// accurate-seek, fixed 1s seek.
type seekStrategy struct {
	name string
	args func(src, dst string) []string
}

var seekStrategies = []seekStrategy{
	{
		name: "fast-seek",
		args: func(src, dst string) []string {
			return []string{"-ss", "00:00:01", "-i", src, "-frames:v", "1", "-y", dst}
		},
	},
	{
		name: "accurate-seek",
		args: func(src, dst string) []string {
			return []string{"-i", src, "-ss", "00:00:01", "-frames:v", "1", "-y", dst}
		},
	},
	{
		name: "fixed-1s",
		args: func(src, dst string) []string {
			return []string{"-i", src, "-ss", "1", "-frames:v", "1", "-y", dst}
		},
	},
}

// ExtractFrame writes a single JPEG frame from src to dst, trying each
// seek strategy in turn until one succeeds, each bounded by perAttempt.
// The frame is first written to a sibling .tmp.jpg file then atomically
// renamed to dst, so a crash mid-extraction never leaves a partial
// thumbnail visible.
func (fe *FrameExtractor) ExtractFrame(ctx context.Context, src, dst string, perAttempt time.Duration) error {
	tmp := dst + ".tmp.jpg"
	defer os.Remove(tmp)

	var lastErr error
	for _, strat := range seekStrategies {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		err := fe.runOnce(attemptCtx, strat.args(src, tmp))
		cancel()
		if err == nil {
			if err := os.Rename(tmp, dst); err != nil {
				return fmt.Errorf("thumbnail: rename %s -> %s: %w", tmp, dst, err)
			}
			return nil
		}
		fe.log.Warn("video thumbnail attempt failed", "strategy", strat.name, "src", src, "err", err)
		lastErr = err
	}
	return fmt.Errorf("thumbnail: all seek strategies failed for %s: %w", src, lastErr)
}

// runOnce spawns the extractor, waits with the context's deadline,
// killing the process if it overruns, and drains stderr for
// diagnostics on failure.
func (fe *FrameExtractor) runOnce(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, fe.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("timed out: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %s", err, firstLines(stderr.String(), 4))
	}
	return nil
}

func firstLines(s string, n int) string {
	lines := 0
	for i, r := range s {
		if r == '\n' {
			lines++
			if lines >= n {
				return s[:i]
			}
		}
	}
	return s
}

// MakeImageThumbnail re-encodes src into dst, bounded to maxW x maxH,
// preserving aspect ratio, via the imaging library (C3's image path).
// Writes through a sibling tmp file and renames atomically.
func MakeImageThumbnail(src, dst string, maxW, maxH int) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("thumbnail: open %s: %w", src, err)
	}
	thumb := imaging.Fit(img, maxW, maxH, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp.jpg"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, thumb, &jpeg.Options{Quality: 85}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("thumbnail: encode %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

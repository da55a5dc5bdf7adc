// Package video muxes a still cover image and an audio track into an mp4.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/artifacts"
)

// ErrCompositionFailed wraps every failure of a video composition.
var ErrCompositionFailed = errors.New("video composition failed")

// Compositor combines stored audio and image artifacts into a stored video, returning its locator.
type Compositor interface {
	Combine(ctx context.Context, audioLocator, imageLocator string) (string, error)
}

// OutputName derives the video file name from the audio artifact it was built from.
func OutputName(audioLocator string) string {
	base := path.Base(audioLocator)
	return strings.TrimSuffix(base, path.Ext(base)) + ".mp4"
}

// FFmpegCompositor shells out to ffmpeg.
type FFmpegCompositor struct {
	bin    string
	store  *artifacts.Store
	logger *zap.Logger
}

func NewFFmpegCompositor(bin string, store *artifacts.Store, logger *zap.Logger) (*FFmpegCompositor, error) {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegCompositor{bin: resolved, store: store, logger: logger}, nil
}

func (c *FFmpegCompositor) Combine(ctx context.Context, audioLocator, imageLocator string) (string, error) {
	audio, err := c.store.Path(audioLocator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompositionFailed, err)
	}
	img, err := c.store.Path(imageLocator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompositionFailed, err)
	}
	locator := artifacts.Locator(artifacts.KindVideo, OutputName(audioLocator))
	out, err := c.store.Path(locator)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompositionFailed, err)
	}

	cmd := exec.CommandContext(ctx, c.bin, Args(img, audio, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: ffmpeg: %v: %s", ErrCompositionFailed, err, tail(stderr.String(), 512))
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: ffmpeg produced no output", ErrCompositionFailed)
	}
	c.logger.Debug("video composed", zap.String("locator", locator))
	return locator, nil
}

// Args returns the ffmpeg argument list for a still-image video.
func Args(image, audio, out string) []string {
	return []string{
		"-loop", "1",
		"-i", image,
		"-i", audio,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-shortest",
		"-y", out,
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

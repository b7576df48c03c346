package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bnema/dither/internal/port"
)

// Extractor shells out to ffmpeg/ffprobe for video work.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w\noutput: %s", err, string(output))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return duration, nil
}

// ExtractFrame captures a single frame at the given offset into a temp file.
// The caller owns removal of the returned path.
func (e *Extractor) ExtractFrame(ctx context.Context, path string, offsetSeconds float64) (string, error) {
	tmp, err := os.CreateTemp("", "dither-frame-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create frame temp file: %w", err)
	}
	framePath := tmp.Name()
	_ = tmp.Close()

	args := []string{
		"-ss", strconv.FormatFloat(offsetSeconds, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-pix_fmt", "yuvj420p",
		"-q:v", "2",
		"-y",
		framePath,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(framePath)
		return "", fmt.Errorf("ffmpeg frame extraction failed: %w\noutput: %s", err, string(output))
	}
	return framePath, nil
}

var _ port.FrameExtractor = (*Extractor)(nil)

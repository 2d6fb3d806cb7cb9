package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// defaultPageDuration is used when per-page durations are not supplied.
const defaultPageDuration = 3.0

// VideoInput describes a story video to compose from per-page assets.
type VideoInput struct {
	ImageURIs        []string
	AudioURI         string
	PerPageDurations []float64
	Format           string
	FPS              int
}

// Composer builds a story video with ffmpeg: one looped segment per image,
// scaled to 1280x720, concatenated, with an optional single audio track
// muxed with -shortest semantics. The result is a local file path; the
// caller uploads it before asset insertion.
type Composer struct {
	fps     int
	workDir string
}

// NewComposer creates a Composer. workDir holds intermediate segments and
// the output file.
func NewComposer(fps int, workDir string) *Composer {
	if fps <= 0 {
		fps = 24
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Composer{fps: fps, workDir: workDir}
}

// Compose renders the video and returns the local output path.
func (c *Composer) Compose(ctx context.Context, in VideoInput) (string, error) {
	if len(in.ImageURIs) == 0 {
		return "", fmt.Errorf("video input has no images")
	}

	fps := in.FPS
	if fps <= 0 {
		fps = c.fps
	}
	format := in.Format
	if format == "" {
		format = "mp4"
	}

	runID := uuid.New().String()
	dir := filepath.Join(c.workDir, "video-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create video work dir: %w", err)
	}

	log.Info().
		Int("images", len(in.ImageURIs)).
		Bool("audio", in.AudioURI != "").
		Int("fps", fps).
		Msg("Composing story video")

	// One looped segment per image at its page duration.
	segments := make([]string, len(in.ImageURIs))
	for i, imageURI := range in.ImageURIs {
		duration := defaultPageDuration
		if i < len(in.PerPageDurations) && in.PerPageDurations[i] > 0 {
			duration = in.PerPageDurations[i]
		}

		segment := filepath.Join(dir, fmt.Sprintf("segment_%03d.%s", i, format))
		args := []string{
			"-y",
			"-loop", "1",
			"-t", fmt.Sprintf("%.3f", duration),
			"-i", localPath(imageURI),
			"-vf", "scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2,format=yuv420p",
			"-r", fmt.Sprintf("%d", fps),
			segment,
		}
		if err := runFFmpeg(ctx, args); err != nil {
			return "", fmt.Errorf("render segment %d: %w", i, err)
		}
		segments[i] = segment
	}

	// Concat demuxer list.
	listPath := filepath.Join(dir, "segments.txt")
	var list strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(&list, "file '%s'\n", segment)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	silent := filepath.Join(dir, "silent."+format)
	if err := runFFmpeg(ctx, []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		silent,
	}); err != nil {
		return "", fmt.Errorf("concatenate segments: %w", err)
	}

	if in.AudioURI == "" {
		return silent, nil
	}

	output := filepath.Join(dir, "story."+format)
	if err := runFFmpeg(ctx, []string{
		"-y",
		"-i", silent,
		"-i", localPath(in.AudioURI),
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		output,
	}); err != nil {
		return "", fmt.Errorf("mux audio track: %w", err)
	}
	return output, nil
}

// runFFmpeg executes one ffmpeg invocation, honoring cancellation.
func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", args[0], err, tail)
	}
	return nil
}

// localPath strips a file:// scheme; other URIs pass through for ffmpeg's
// own protocol handling.
func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

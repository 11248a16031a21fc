package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/models"
)

// ---------------------------------------------------------------------------
// FFmpegService — the media-mux capability over the ffmpeg/ffprobe binaries.
// Clips are encoded with fixed codec settings so every concat input is
// codec-compatible and can be stream-copied.
// ---------------------------------------------------------------------------

const (
	videoCodec   = "libx264"
	audioCodec   = "aac"
	audioBitrate = "192k"
	pixelFormat  = "yuv420p"
	clipFPS      = 30

	defaultCommandTimeout = 120 * time.Second
)

type FFmpegService struct {
	tempDir string
	timeout time.Duration
}

// Ensure FFmpegService implements MediaMuxer at compile time.
var _ MediaMuxer = (*FFmpegService)(nil)

func NewFFmpegService(tempDir string, timeout time.Duration) *FFmpegService {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}
	return &FFmpegService{tempDir: tempDir, timeout: timeout}
}

// MuxStill builds a video clip from a still image and an audio track. The
// frame is held for duration seconds; audio shorter than the clip is padded
// with trailing silence via apad, audio longer is cut at the clip end.
func (s *FFmpegService) MuxStill(ctx context.Context, imagePath, audioPath string, duration float64, outPath string) error {
	args := []string{
		"-loop", "1",
		"-i", imagePath,
		"-i", audioPath,
		"-af", "apad",
		"-c:v", videoCodec,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-pix_fmt", pixelFormat,
		"-r", fmt.Sprintf("%d", clipFPS),
		"-t", fmt.Sprintf("%.3f", duration),
		"-y",
		outPath,
	}
	log.Printf("[FFmpeg] Muxing still %s + %s (%.1fs)", filepath.Base(imagePath), filepath.Base(audioPath), duration)
	return s.run(ctx, "ffmpeg", args)
}

// MuxStillSilent builds a clip from a still image with a silent audio track,
// so silence scenes stay concat-compatible with voiced clips.
func (s *FFmpegService) MuxStillSilent(ctx context.Context, imagePath string, duration float64, outPath string) error {
	args := []string{
		"-loop", "1",
		"-i", imagePath,
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-c:v", videoCodec,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-pix_fmt", pixelFormat,
		"-r", fmt.Sprintf("%d", clipFPS),
		"-t", fmt.Sprintf("%.3f", duration),
		"-y",
		outPath,
	}
	log.Printf("[FFmpeg] Muxing silent still %s (%.1fs)", filepath.Base(imagePath), duration)
	return s.run(ctx, "ffmpeg", args)
}

// Concat stream-copies the inputs into one file using the concat demuxer.
// All inputs are presumed codec-compatible (they come out of MuxStill with
// fixed settings).
func (s *FFmpegService) Concat(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return models.NewPipelineError(models.ErrKindComposition, "no inputs to concatenate", nil)
	}

	listPath, err := s.writeConcatList(inputs)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outPath,
	}
	log.Printf("[FFmpeg] Concatenating %d inputs into %s", len(inputs), filepath.Base(outPath))
	return s.run(ctx, "ffmpeg", args)
}

// ProbeDuration returns the duration of a media file in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "ffprobe", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return 0, s.commandError(runCtx, "ffprobe", err, stderr.String())
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, models.NewPipelineError(models.ErrKindComposition,
			fmt.Sprintf("failed to parse ffprobe duration %q: %v", strings.TrimSpace(string(output)), err), err)
	}

	return durationSec, nil
}

// writeConcatList writes the concat demuxer list file: one `file '<path>'`
// line per input, single quotes escaped for the quote wrapper.
func (s *FFmpegService) writeConcatList(inputs []string) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "concat_list_*.txt")
	if err != nil {
		return "", models.NewPipelineError(models.ErrKindStorage,
			fmt.Sprintf("failed to create concat list: %v", err), err)
	}

	for _, path := range inputs {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(abs))
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", models.NewPipelineError(models.ErrKindStorage,
			fmt.Sprintf("failed to write concat list: %v", err), err)
	}
	return f.Name(), nil
}

// escapeConcatPath escapes single quotes for the concat list's quote wrapper.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// run executes a media-tool command with the service timeout, capturing
// stderr for the error detail on failure.
func (s *FFmpegService) run(ctx context.Context, name string, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return s.commandError(runCtx, name, err, stderr.String())
	}
	return nil
}

// commandError distinguishes timeouts (retryable) from non-zero exits
// (fatal, with stderr embedded).
func (s *FFmpegService) commandError(runCtx context.Context, name string, err error, stderr string) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return models.NewPipelineError(models.ErrKindExternalService,
			fmt.Sprintf("%s timed out after %v", name, s.timeout), err)
	}
	detail := fmt.Sprintf("%s failed: %v", name, err)
	if stderr != "" {
		detail += "; stderr: " + truncate(strings.TrimSpace(stderr), 2000)
	}
	return models.NewPipelineError(models.ErrKindComposition, detail, err)
}

// TempPath returns a path inside the service temp directory.
func (s *FFmpegService) TempPath(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files.
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

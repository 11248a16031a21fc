// Package services holds the thin adapters over external models and the
// media tool. Each adapter hides its protocol and exposes a capability; all
// adapters are stateless and safe for concurrent use within a job.
package services

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/retry"
)

// ---------------------------------------------------------------------------
// Capability interfaces — implementations are swappable; stages and tests
// depend only on these.
// ---------------------------------------------------------------------------

// TextUnderstanding analyzes prose into the entity graph. Structural problems
// in the model's reply surface as ModelOutputError.
type TextUnderstanding interface {
	Analyze(ctx context.Context, prompt, text string) (*models.AnalyzedText, error)
}

// ImageSynthesizer turns a prompt into an encoded image blob (PNG or JPEG).
// Provider-specific wrapping (base64-in-JSON) is decoded inside the adapter.
type ImageSynthesizer interface {
	GenerateImage(ctx context.Context, prompt, negativePrompt, size string, seed *int64) ([]byte, error)
}

// TTSResponse is the common response type from any speech provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string // "mp3", "wav", etc.
}

// SpeechSynthesizer converts text to an audio blob using a catalog voice.
// Both ElevenLabs and Cartesia implement this interface so the renderer can
// use whichever is configured without knowing the underlying provider.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, speedRatio float64, encoding string) (*TTSResponse, error)
}

// MediaMuxer is the command-shaped capability over the media tool.
type MediaMuxer interface {
	// MuxStill builds a video clip from a still image and an audio track,
	// holding the frame for duration seconds.
	MuxStill(ctx context.Context, imagePath, audioPath string, duration float64, outPath string) error
	// MuxStillSilent builds a silent clip from a still image alone.
	MuxStillSilent(ctx context.Context, imagePath string, duration float64, outPath string) error
	// Concat stream-copies the inputs into one file without re-encoding.
	Concat(ctx context.Context, inputs []string, outPath string) error
	// ProbeDuration returns the duration of a media file in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// ---------------------------------------------------------------------------
// Error classification for the retry harness
// ---------------------------------------------------------------------------

// Classify maps adapter errors onto retry classes: transport-level trouble
// (timeout, connection, 5xx) is retryable, malformed responses and anything
// already tagged with a fatal kind are not.
func Classify(err error) retry.Class {
	switch models.KindOf(err) {
	case models.ErrKindModelOutput, models.ErrKindValidation,
		models.ErrKindComposition, models.ErrKindStorage, models.ErrKindCancelled:
		return retry.Fatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Retryable
	}

	// Transport errors wrapped as plain strings (status lines, resets).
	msg := err.Error()
	for _, marker := range []string{"status 5", "timeout", "connection re", "EOF", "temporarily unavailable"} {
		if strings.Contains(msg, marker) {
			return retry.Retryable
		}
	}

	// ExternalServiceError without a clearer signal: assume retryable — that
	// is what the kind exists for.
	if models.KindOf(err) == models.ErrKindExternalService {
		return retry.Retryable
	}
	return retry.Fatal
}

// Package renderer implements stage 3: synthesizing the image and speech
// assets for every storyboard scene and persisting them into the job scratch.
package renderer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/retry"
	"github.com/bobarin/storyreel/internal/scratch"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/voices"
)

// Progress is invoked after each scene completes, with the number of
// completed scenes so far. Calls are serialized and completed only grows, so
// the orchestrator can map it straight onto the progress band.
type Progress func(completed, total int)

// Renderer fans scene work out to the generative adapters.
type Renderer struct {
	image  services.ImageSynthesizer
	speech services.SpeechSynthesizer
	mux    services.MediaMuxer
}

func New(image services.ImageSynthesizer, speech services.SpeechSynthesizer, mux services.MediaMuxer) *Renderer {
	return &Renderer{image: image, speech: speech, mux: mux}
}

// Render runs stage 3. Scenes may render in parallel up to
// opts.MaxParallelScenes, but results append to the rendered storyboard in
// storyboard order and the progress callback stays monotonic.
func (r *Renderer) Render(
	ctx context.Context,
	board *models.Storyboard,
	sc *scratch.Scratch,
	registry *voices.Registry,
	opts models.JobOptions,
	progress Progress,
) (*models.RenderedStoryboard, error) {
	scenes := board.Scenes()
	total := len(scenes)

	// Pre-assign every dialogue speaker before any scene renders, so render
	// order (or parallelism) can never shuffle voice choices.
	r.preassignVoices(board, registry)

	results := make([]models.RenderedScene, total)

	var mu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxParallelScenes)

	for i, scene := range scenes {
		i, scene := i, scene
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return models.NewPipelineError(models.ErrKindCancelled, "render cancelled", models.ErrCancelled)
			}

			rendered, err := r.renderScene(gctx, scene, sc, registry, opts)
			if err != nil {
				return toSceneError(err, scene.SceneID)
			}
			results[i] = rendered

			// The callback runs under the counter lock so observers see
			// completions strictly in counting order.
			mu.Lock()
			completed++
			if progress != nil {
				progress(completed, total)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.RenderedStoryboard{Storyboard: board, Scenes: results}, nil
}

// preassignVoices walks all audio units in storyboard order and assigns a
// voice to each dialogue speaker.
func (r *Renderer) preassignVoices(board *models.Storyboard, registry *voices.Registry) {
	for _, scene := range board.Scenes() {
		for _, unit := range scene.AudioUnits {
			if unit.Kind != models.AudioKindDialogue || unit.Speaker == "" {
				continue
			}
			character := models.Character{Name: unit.Speaker}
			if c, ok := characterFor(board, unit.Speaker); ok {
				character = c
			}
			registry.Assign(unit.Speaker, character)
		}
	}
}

func characterFor(board *models.Storyboard, name string) (models.Character, bool) {
	for _, c := range board.Characters {
		if c.Name == name {
			return c, true
		}
	}
	return models.Character{}, false
}

// renderScene produces the image and all audio blobs for one scene and
// measures the real audio duration.
func (r *Renderer) renderScene(
	ctx context.Context,
	scene models.StoryboardScene,
	sc *scratch.Scratch,
	registry *voices.Registry,
	opts models.JobOptions,
) (models.RenderedScene, error) {
	var out models.RenderedScene
	out.SceneRef = scene.SceneID
	out.ChapterID = scene.ChapterID

	imagePath, err := r.renderImage(ctx, scene, sc, opts)
	if err != nil {
		return out, err
	}
	out.ImagePath = imagePath

	measured := 0.0
	for unitIdx, unit := range scene.AudioUnits {
		if unit.Kind == models.AudioKindSilence {
			out.AudioPaths = append(out.AudioPaths, "")
			continue
		}

		audioPath, err := r.renderSpeech(ctx, scene, unit, unitIdx, sc, registry, opts)
		if err != nil {
			return out, err
		}
		out.AudioPaths = append(out.AudioPaths, audioPath)

		duration, err := r.mux.ProbeDuration(ctx, audioPath)
		if err != nil {
			return out, fmt.Errorf("probe audio duration for scene %d: %w", scene.SceneID, err)
		}
		measured += duration
	}

	out.MeasuredAudioDuration = measured
	out.FinalDuration = scene.EstimatedDuration
	if measured > out.FinalDuration {
		out.FinalDuration = measured
	}

	log.Printf("[Renderer] Scene %d rendered (estimated=%.1fs, measured=%.1fs, final=%.1fs)",
		scene.SceneID, scene.EstimatedDuration, measured, out.FinalDuration)

	return out, nil
}

func (r *Renderer) renderImage(ctx context.Context, scene models.StoryboardScene, sc *scratch.Scratch, opts models.JobOptions) (string, error) {
	var imageData []byte
	err := retry.Do(ctx, retry.Config{
		Attempts:  opts.RetryAttempts,
		BaseDelay: time.Second,
		Jitter:    true,
		Label:     fmt.Sprintf("image scene %d", scene.SceneID),
	}, services.Classify, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeoutDuration())
		defer cancel()
		var callErr error
		imageData, callErr = r.image.GenerateImage(callCtx, scene.ImageInfo.Prompt, scene.ImageInfo.NegativePrompt, opts.ImageSize, nil)
		return callErr
	})
	if err != nil {
		return "", err
	}

	return sc.SaveImage(imageData, fmt.Sprintf("scene_%d.png", scene.SceneID))
}

func (r *Renderer) renderSpeech(
	ctx context.Context,
	scene models.StoryboardScene,
	unit models.AudioInfo,
	unitIdx int,
	sc *scratch.Scratch,
	registry *voices.Registry,
	opts models.JobOptions,
) (string, error) {
	voiceID := registry.NarrationVoice()
	if unit.Kind == models.AudioKindDialogue {
		voiceID = registry.VoiceFor(unit.Speaker)
	}

	var resp *services.TTSResponse
	err := retry.Do(ctx, retry.Config{
		Attempts:  opts.RetryAttempts,
		BaseDelay: time.Second,
		Jitter:    true,
		Label:     fmt.Sprintf("speech scene %d unit %d", scene.SceneID, unitIdx),
	}, services.Classify, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeoutDuration())
		defer cancel()
		var callErr error
		resp, callErr = r.speech.Synthesize(callCtx, unit.Text, voiceID, opts.SpeechSpeedRatio, "mp3")
		return callErr
	})
	if err != nil {
		return "", err
	}

	return sc.SaveAudio(resp.AudioData, fmt.Sprintf("scene_%d_unit_%d.mp3", scene.SceneID, unitIdx))
}

// toSceneError tags a stage-3 failure with the failing scene. Kinds that
// carry meaning for the observer (model output, validation, storage,
// cancellation) pass through; exhausted external calls become RenderError.
func toSceneError(err error, sceneID int) error {
	pe := models.AsPipelineError(err)
	switch pe.Kind {
	case models.ErrKindModelOutput, models.ErrKindValidation,
		models.ErrKindStorage, models.ErrKindCancelled:
		return models.TagStage(pe, string(models.StageRender), sceneID)
	default:
		mapped := models.NewPipelineError(models.ErrKindRender,
			fmt.Sprintf("scene %d: %s", sceneID, pe.Detail), pe)
		return models.TagStage(mapped, string(models.StageRender), sceneID)
	}
}

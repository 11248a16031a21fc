// Package composer implements stage 4: muxing per-scene clips, concatenating
// them per chapter and into the final video, and promoting the artifact.
package composer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/retry"
	"github.com/bobarin/storyreel/internal/scratch"
	"github.com/bobarin/storyreel/internal/services"
)

// Composer assembles rendered scenes into the final video.
type Composer struct {
	mux services.MediaMuxer
}

func New(mux services.MediaMuxer) *Composer {
	return &Composer{mux: mux}
}

// Compose builds one clip per scene, one concat per chapter, and a final
// concat across chapters (skipped when only one chapter exists), then
// promotes the result out of the scratch tree.
func (c *Composer) Compose(ctx context.Context, rendered *models.RenderedStoryboard, sc *scratch.Scratch, opts models.JobOptions) (*models.FinalVideo, error) {
	byChapter := groupByChapter(rendered)

	var chapterFiles []string
	for _, group := range byChapter {
		chapterFile, err := c.composeChapter(ctx, group, sc)
		if err != nil {
			return nil, models.TagStage(err, string(models.StageCompose), 0)
		}
		chapterFiles = append(chapterFiles, chapterFile)
	}

	// A single chapter IS the final cut; re-concatenating it would only
	// rewrite the same stream.
	finalPath := chapterFiles[0]
	if len(chapterFiles) > 1 {
		finalPath = sc.TempPath("final_concat.mp4")
		if err := c.runMux(ctx, "final concat", func(ctx context.Context) error {
			return c.mux.Concat(ctx, chapterFiles, finalPath)
		}); err != nil {
			return nil, models.TagStage(err, string(models.StageCompose), 0)
		}
	}

	promoted, err := sc.Promote(finalPath)
	if err != nil {
		return nil, models.TagStage(err, string(models.StageCompose), 0)
	}

	duration, err := c.mux.ProbeDuration(ctx, promoted)
	if err != nil {
		return nil, models.TagStage(err, string(models.StageCompose), 0)
	}

	info, err := os.Stat(promoted)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindStorage,
			fmt.Sprintf("stat final video: %v", err), err)
	}

	video := &models.FinalVideo{
		Path:            promoted,
		DurationSeconds: duration,
		ByteSize:        info.Size(),
		SceneCount:      len(rendered.Scenes),
		ChapterCount:    len(byChapter),
	}

	log.Printf("[Composer] Final video ready: %s (%.1fs, %d bytes, %d scenes, %d chapters)",
		video.Path, video.DurationSeconds, video.ByteSize, video.SceneCount, video.ChapterCount)

	return video, nil
}

type chapterGroup struct {
	chapterID int
	scenes    []models.RenderedScene
}

// groupByChapter splits the rendered scenes by chapter, preserving order.
func groupByChapter(rendered *models.RenderedStoryboard) []chapterGroup {
	var groups []chapterGroup
	for _, scene := range rendered.Scenes {
		if len(groups) == 0 || groups[len(groups)-1].chapterID != scene.ChapterID {
			groups = append(groups, chapterGroup{chapterID: scene.ChapterID})
		}
		last := &groups[len(groups)-1]
		last.scenes = append(last.scenes, scene)
	}
	return groups
}

// composeChapter muxes each scene clip and concatenates them into one
// chapter file. Scene clips are unlinked once the chapter file exists.
func (c *Composer) composeChapter(ctx context.Context, group chapterGroup, sc *scratch.Scratch) (string, error) {
	var clipPaths []string
	for _, scene := range group.scenes {
		clipPath, err := c.composeClip(ctx, scene, sc)
		if err != nil {
			return "", err
		}
		clipPaths = append(clipPaths, clipPath)
	}

	// One scene: the clip is the chapter, same rule as the final concat.
	if len(clipPaths) == 1 {
		return clipPaths[0], nil
	}

	chapterFile := sc.TempPath(fmt.Sprintf("chapter_%d.mp4", group.chapterID))
	if err := c.runMux(ctx, fmt.Sprintf("chapter %d concat", group.chapterID), func(ctx context.Context) error {
		return c.mux.Concat(ctx, clipPaths, chapterFile)
	}); err != nil {
		return "", err
	}

	for _, clip := range clipPaths {
		os.Remove(clip)
	}

	return chapterFile, nil
}

// composeClip muxes one scene's still image with its audio track. Scenes
// with multiple audio units get their units concatenated first; silence
// scenes mux against a generated silent track.
func (c *Composer) composeClip(ctx context.Context, scene models.RenderedScene, sc *scratch.Scratch) (string, error) {
	clipPath := sc.TempPath(fmt.Sprintf("clip_%d.mp4", scene.SceneRef))

	audioPath, err := c.sceneAudio(ctx, scene, sc)
	if err != nil {
		return "", err
	}

	label := fmt.Sprintf("scene %d mux", scene.SceneRef)
	if audioPath == "" {
		err = c.runMux(ctx, label, func(ctx context.Context) error {
			return c.mux.MuxStillSilent(ctx, scene.ImagePath, scene.FinalDuration, clipPath)
		})
	} else {
		err = c.runMux(ctx, label, func(ctx context.Context) error {
			return c.mux.MuxStill(ctx, scene.ImagePath, audioPath, scene.FinalDuration, clipPath)
		})
	}
	if err != nil {
		return "", err
	}
	return clipPath, nil
}

// sceneAudio resolves the audio input for a scene clip: empty for silence,
// the single unit's path, or a concat of all unit paths.
func (c *Composer) sceneAudio(ctx context.Context, scene models.RenderedScene, sc *scratch.Scratch) (string, error) {
	var paths []string
	for _, p := range scene.AudioPaths {
		if p != "" {
			paths = append(paths, p)
		}
	}
	switch len(paths) {
	case 0:
		return "", nil
	case 1:
		return paths[0], nil
	}

	joined := sc.TempPath(fmt.Sprintf("scene_%d_audio.mp3", scene.SceneRef))
	if err := c.runMux(ctx, fmt.Sprintf("scene %d audio concat", scene.SceneRef), func(ctx context.Context) error {
		return c.mux.Concat(ctx, paths, joined)
	}); err != nil {
		return "", err
	}
	return joined, nil
}

// runMux executes one media-tool operation. A timeout is retried once (the
// operation is cheap to re-run); a non-zero exit is fatal and carries the
// captured stderr.
func (c *Composer) runMux(ctx context.Context, label string, op func(context.Context) error) error {
	return retry.Do(ctx, retry.Config{
		Attempts:  2,
		BaseDelay: time.Second,
		Label:     label,
	}, func(err error) retry.Class {
		if models.KindOf(err) == models.ErrKindExternalService {
			return retry.Retryable // sub-process timeout
		}
		return retry.Fatal
	}, op)
}

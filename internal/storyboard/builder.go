// Package storyboard implements stage 2: the pure transform from an analyzed
// entity graph to per-scene render instructions. Given the same input and
// options the output is identical.
package storyboard

import (
	"fmt"
	"math"
	"strings"

	"github.com/bobarin/storyreel/internal/models"
)

// pauseMarker separates dialogue lines merged into a single speech unit.
// The ellipsis reads as a natural beat in every TTS provider we use.
const pauseMarker = " ... "

// defaultStyleTags frame every scene prompt.
var defaultStyleTags = []string{"anime", "high quality", "detailed"}

const defaultNegativePrompt = "low quality, blurry, distorted, ugly"

// Builder converts AnalyzedText to a Storyboard under a job's options.
type Builder struct {
	opts models.JobOptions
}

func New(opts models.JobOptions) *Builder {
	return &Builder{opts: opts}
}

// Build runs the transform. The input is not modified.
func (b *Builder) Build(analyzed *models.AnalyzedText) *models.Storyboard {
	board := &models.Storyboard{
		Characters: analyzed.Characters,
		PlotPoints: analyzed.PlotPoints,
	}

	for _, chapter := range analyzed.Chapters {
		bc := models.StoryboardChapter{
			ChapterID: chapter.ChapterID,
			Title:     chapter.Title,
		}
		for _, scene := range chapter.Scenes {
			bc.Scenes = append(bc.Scenes, b.buildScene(scene, chapter.ChapterID, analyzed))
		}
		board.Chapters = append(board.Chapters, bc)
	}

	return board
}

func (b *Builder) buildScene(scene models.Scene, chapterID int, analyzed *models.AnalyzedText) models.StoryboardScene {
	resolved := resolveCharacters(scene, analyzed)
	units := b.buildAudioUnits(scene)
	estimated := b.estimateDuration(scene, units)

	return models.StoryboardScene{
		SceneID:            scene.SceneID,
		ChapterID:          chapterID,
		ImageInfo:          b.buildImageInfo(scene, resolved),
		AudioUnits:         units,
		CharactersResolved: resolved,
		EstimatedDuration:  estimated,
	}
}

// resolveCharacters overlays each scene-local appearance override on top of
// the character's global appearance.
func resolveCharacters(scene models.Scene, analyzed *models.AnalyzedText) []models.CharacterRender {
	var out []models.CharacterRender
	for _, name := range scene.Characters {
		render := models.CharacterRender{Name: name}
		if global, ok := analyzed.CharacterByName(name); ok {
			render.Appearance = global.Appearance
			render.Personality = global.Personality
			render.Role = global.Role
		}
		if override, ok := scene.CharacterAppearances[name]; ok {
			render.Appearance = render.Appearance.Overlay(override)
		}
		out = append(out, render)
	}
	return out
}

// buildAudioUnits applies the dialogue policy: dialogue beats narration,
// narration beats silence.
func (b *Builder) buildAudioUnits(scene models.Scene) []models.AudioInfo {
	switch {
	case len(scene.Dialogue) > 0 && b.opts.DialogueMode == models.DialogueModePerLine:
		units := make([]models.AudioInfo, 0, len(scene.Dialogue))
		for _, line := range scene.Dialogue {
			units = append(units, models.AudioInfo{
				Kind:              models.AudioKindDialogue,
				Speaker:           line.Speaker,
				Text:              line.Text,
				EstimatedDuration: b.textSeconds(line.Text),
			})
		}
		return units

	case len(scene.Dialogue) > 0:
		texts := make([]string, 0, len(scene.Dialogue))
		for _, line := range scene.Dialogue {
			texts = append(texts, line.Text)
		}
		merged := strings.Join(texts, pauseMarker)
		return []models.AudioInfo{{
			Kind:              models.AudioKindDialogue,
			Speaker:           scene.Dialogue[0].Speaker,
			Text:              merged,
			EstimatedDuration: b.textSeconds(merged),
		}}

	case strings.TrimSpace(scene.Narration) != "":
		return []models.AudioInfo{{
			Kind:              models.AudioKindNarration,
			Text:              scene.Narration,
			EstimatedDuration: b.textSeconds(scene.Narration),
		}}

	default:
		return []models.AudioInfo{{
			Kind:              models.AudioKindSilence,
			EstimatedDuration: b.opts.SilentSceneDuration,
		}}
	}
}

// estimateDuration computes the scene estimate:
// max(duration_min, speech_seconds + actions*action_seconds) clamped to
// duration_max. A silence-only scene takes the fixed silent duration.
func (b *Builder) estimateDuration(scene models.Scene, units []models.AudioInfo) float64 {
	if len(units) == 1 && units[0].Kind == models.AudioKindSilence {
		return round1(b.opts.SilentSceneDuration)
	}

	speech := 0.0
	for _, u := range units {
		speech += u.EstimatedDuration
	}
	duration := speech + float64(len(scene.Actions))*b.opts.ActionSeconds

	if duration < b.opts.DurationMin {
		duration = b.opts.DurationMin
	}
	if duration > b.opts.DurationMax {
		duration = b.opts.DurationMax
	}
	return round1(duration)
}

func (b *Builder) textSeconds(text string) float64 {
	return round1(float64(len([]rune(text))) / b.opts.CharsPerSecond)
}

// buildImageInfo composes the scene prompt from description, setting,
// atmosphere, lighting and the resolved character appearances.
func (b *Builder) buildImageInfo(scene models.Scene, resolved []models.CharacterRender) models.ImageInfo {
	parts := []string{defaultStyleTags[0] + " style"}

	if scene.Description != "" {
		parts = append(parts, scene.Description)
	}
	if scene.Location != "" {
		parts = append(parts, "location: "+scene.Location)
	}
	if scene.Time != "" {
		parts = append(parts, "time: "+scene.Time)
	}
	if scene.Atmosphere != "" {
		parts = append(parts, "atmosphere: "+scene.Atmosphere)
	}
	if scene.Lighting != "" {
		parts = append(parts, "lighting: "+scene.Lighting)
	}

	for _, char := range resolved {
		if desc := characterDescriptor(char); desc != "" {
			parts = append(parts, desc)
		}
	}

	for _, action := range scene.Actions {
		if action != "" {
			parts = append(parts, action)
		}
	}

	parts = append(parts, "high quality, detailed, cinematic composition")

	lighting := scene.Lighting
	if lighting == "" {
		lighting = "natural"
	}

	return models.ImageInfo{
		Prompt:         strings.Join(parts, ", "),
		NegativePrompt: defaultNegativePrompt,
		StyleTags:      defaultStyleTags,
		ShotType:       "medium_shot",
		CameraAngle:    "eye_level",
		CameraMovement: "static",
		Composition:    "rule of thirds",
		Lighting:       lighting,
		Mood:           scene.Atmosphere,
		Transition:     "cut",
	}
}

// characterDescriptor flattens a resolved character into a prompt fragment:
// name plus whichever appearance details are known.
func characterDescriptor(char models.CharacterRender) string {
	parts := []string{char.Name}
	app := char.Appearance
	if app.Gender != "" && app.Gender != models.GenderUnknown {
		parts = append(parts, string(app.Gender))
	}
	if app.AgeStage != "" && app.AgeStage != models.AgeStageUnknown {
		parts = append(parts, string(app.AgeStage))
	}
	for _, detail := range []string{app.Hair, app.Eyes, app.Clothing, app.Features, app.BodyType, app.Height, app.Skin} {
		if detail != "" {
			parts = append(parts, detail)
		}
	}
	if len(parts) == 1 {
		return ""
	}
	return strings.Join(parts, ", ")
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Describe summarizes a storyboard for logs.
func Describe(board *models.Storyboard) string {
	return fmt.Sprintf("%d chapters, %d scenes, %d characters",
		len(board.Chapters), board.SceneCount(), len(board.Characters))
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Stage names the four pipeline phases plus the init/done bookends.
type Stage string

const (
	StageInit       Stage = "init"
	StageAnalyze    Stage = "analyze"
	StageStoryboard Stage = "storyboard"
	StageRender     Stage = "render"
	StageCompose    Stage = "compose"
	StageDone       Stage = "done"
)

type AnalyzerMode string

const (
	AnalyzerModeSimple  AnalyzerMode = "simple"
	AnalyzerModeChunked AnalyzerMode = "chunked"
)

type DialogueMode string

const (
	DialogueModePerLine DialogueMode = "per_line"
	DialogueModeMerged  DialogueMode = "merged"
)

type PlotKind string

const (
	PlotKindConflict   PlotKind = "conflict"
	PlotKindClimax     PlotKind = "climax"
	PlotKindResolution PlotKind = "resolution"
	PlotKindNormal     PlotKind = "normal"
)

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

type AgeStage string

const (
	AgeStageChild   AgeStage = "child"
	AgeStageYouth   AgeStage = "youth"
	AgeStageAdult   AgeStage = "adult"
	AgeStageElder   AgeStage = "elder"
	AgeStageUnknown AgeStage = "unknown"
)

type AudioKind string

const (
	AudioKindNarration AudioKind = "narration"
	AudioKindDialogue  AudioKind = "dialogue"
	AudioKindSilence   AudioKind = "silence"
)

// Job is the root entity. Mutable only by the orchestrator that owns it.
type Job struct {
	ID          uuid.UUID      `json:"id"`
	InputText   string         `json:"-"`
	Options     JobOptions     `json:"options"`
	Status      JobStatus      `json:"status"`
	Stage       Stage          `json:"stage"`
	ProgressPct int            `json:"progress"`
	Message     string         `json:"message"`
	Result      *FinalVideo    `json:"result,omitempty"`
	Error       *PipelineError `json:"-"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// JobOptions is the per-job configuration record. Zero values are replaced
// with defaults by Normalize before the job starts.
type JobOptions struct {
	AnalyzerMode           AnalyzerMode `json:"analyzer_mode,omitempty"`
	MaxCharacters          int          `json:"max_characters,omitempty"`
	MaxScenes              int          `json:"max_scenes,omitempty"`
	ChunkSize              int          `json:"chunk_size,omitempty"`
	DialogueMode           DialogueMode `json:"dialogue_mode,omitempty"`
	DurationMin            float64      `json:"duration_min,omitempty"`
	DurationMax            float64      `json:"duration_max,omitempty"`
	CharsPerSecond         float64      `json:"chars_per_second,omitempty"`
	ActionSeconds          float64      `json:"action_seconds,omitempty"`
	SilentSceneDuration    float64      `json:"silent_scene_duration,omitempty"`
	ImageSize              string       `json:"image_size,omitempty"`
	SpeechSpeedRatio       float64      `json:"speech_speed_ratio,omitempty"`
	RetryAttempts          int          `json:"retry_attempts,omitempty"`
	RequestTimeout         float64      `json:"request_timeout,omitempty"` // seconds
	JobTimeout             float64      `json:"job_timeout,omitempty"`     // seconds, 0 = none
	MaxParallelScenes      int          `json:"max_parallel_scenes,omitempty"`
	RetainScratchOnFailure bool         `json:"retain_scratch_on_failure,omitempty"`
	NarratorVoice          string       `json:"narrator_voice,omitempty"`
	DefaultVoice           string       `json:"default_voice,omitempty"`
	MinTextLength          int          `json:"min_text_length,omitempty"`

	// VoiceCatalog overrides the engine's static voice table for this job.
	VoiceCatalog []VoiceCatalogEntry `json:"voice_catalog,omitempty"`
}

// VoiceCatalogEntry tags one synthesizer voice with the speaker profile it
// suits.
type VoiceCatalogEntry struct {
	VoiceID  string   `json:"id"`
	Gender   Gender   `json:"gender"`
	AgeStage AgeStage `json:"age_stage"`
}

// Option defaults (submission contract).
const (
	DefaultMaxCharacters       = 10
	DefaultMaxScenes           = 30
	DefaultChunkSize           = 3000
	DefaultDurationMin         = 3.0
	DefaultDurationMax         = 10.0
	DefaultCharsPerSecond      = 3.0
	DefaultActionSeconds       = 1.5
	DefaultSilentSceneDuration = 3.0
	DefaultImageSize           = "1024x1024"
	DefaultSpeechSpeedRatio    = 1.0
	DefaultRetryAttempts       = 3
	DefaultRequestTimeout      = 300.0
	DefaultMaxParallelScenes   = 1
	DefaultMinTextLength       = 200
)

// Normalize fills zero-valued options with defaults and rejects out-of-range
// values with a ValidationError.
func (o *JobOptions) Normalize() error {
	if o.AnalyzerMode == "" {
		o.AnalyzerMode = AnalyzerModeChunked
	}
	if o.AnalyzerMode != AnalyzerModeSimple && o.AnalyzerMode != AnalyzerModeChunked {
		return ValidationErrorf("invalid analyzer_mode %q", o.AnalyzerMode)
	}
	if o.DialogueMode == "" {
		o.DialogueMode = DialogueModeMerged
	}
	if o.DialogueMode != DialogueModePerLine && o.DialogueMode != DialogueModeMerged {
		return ValidationErrorf("invalid dialogue_mode %q", o.DialogueMode)
	}
	if o.MaxCharacters == 0 {
		o.MaxCharacters = DefaultMaxCharacters
	}
	if o.MaxScenes == 0 {
		o.MaxScenes = DefaultMaxScenes
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.DurationMin == 0 {
		o.DurationMin = DefaultDurationMin
	}
	if o.DurationMax == 0 {
		o.DurationMax = DefaultDurationMax
	}
	if o.CharsPerSecond == 0 {
		o.CharsPerSecond = DefaultCharsPerSecond
	}
	if o.ActionSeconds == 0 {
		o.ActionSeconds = DefaultActionSeconds
	}
	if o.SilentSceneDuration == 0 {
		o.SilentSceneDuration = DefaultSilentSceneDuration
	}
	if o.ImageSize == "" {
		o.ImageSize = DefaultImageSize
	}
	if o.SpeechSpeedRatio == 0 {
		o.SpeechSpeedRatio = DefaultSpeechSpeedRatio
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxParallelScenes == 0 {
		o.MaxParallelScenes = DefaultMaxParallelScenes
	}
	if o.MinTextLength == 0 {
		o.MinTextLength = DefaultMinTextLength
	}
	if o.MaxCharacters < 1 || o.MaxScenes < 1 || o.ChunkSize < 1 {
		return ValidationErrorf("max_characters, max_scenes and chunk_size must be positive")
	}
	if o.DurationMin <= 0 || o.DurationMax < o.DurationMin {
		return ValidationErrorf("invalid duration clamp [%.1f, %.1f]", o.DurationMin, o.DurationMax)
	}
	if o.CharsPerSecond <= 0 {
		return ValidationErrorf("chars_per_second must be positive")
	}
	if o.MaxParallelScenes < 1 {
		return ValidationErrorf("max_parallel_scenes must be positive")
	}
	return nil
}

// RequestTimeoutDuration returns the per-adapter-call timeout.
func (o JobOptions) RequestTimeoutDuration() time.Duration {
	return time.Duration(o.RequestTimeout * float64(time.Second))
}

// ---------------------------------------------------------------------------
// Stage 1 output — the analyzed entity graph
// ---------------------------------------------------------------------------

// CharacterAppearance mirrors the adapter JSON contract. All fields optional;
// empty strings mean "not described".
type CharacterAppearance struct {
	Gender   Gender   `json:"gender,omitempty"`
	Age      *int     `json:"age,omitempty"`
	AgeStage AgeStage `json:"age_stage,omitempty"`
	Hair     string   `json:"hair,omitempty"`
	Eyes     string   `json:"eyes,omitempty"`
	Clothing string   `json:"clothing,omitempty"`
	Features string   `json:"features,omitempty"`
	BodyType string   `json:"body_type,omitempty"`
	Height   string   `json:"height,omitempty"`
	Skin     string   `json:"skin,omitempty"`
}

// Overlay returns a copy of base with the non-empty fields of over applied on top.
func (base CharacterAppearance) Overlay(over CharacterAppearance) CharacterAppearance {
	out := base
	if over.Gender != "" {
		out.Gender = over.Gender
	}
	if over.Age != nil {
		out.Age = over.Age
	}
	if over.AgeStage != "" {
		out.AgeStage = over.AgeStage
	}
	if over.Hair != "" {
		out.Hair = over.Hair
	}
	if over.Eyes != "" {
		out.Eyes = over.Eyes
	}
	if over.Clothing != "" {
		out.Clothing = over.Clothing
	}
	if over.Features != "" {
		out.Features = over.Features
	}
	if over.BodyType != "" {
		out.BodyType = over.BodyType
	}
	if over.Height != "" {
		out.Height = over.Height
	}
	if over.Skin != "" {
		out.Skin = over.Skin
	}
	return out
}

// VisualDescription is the optional image-prompt enhancement a character may
// carry out of analysis.
type VisualDescription struct {
	Prompt         string   `json:"prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	StyleTags      []string `json:"style_tags,omitempty"`
}

type AgeVariant struct {
	AgeStage   AgeStage            `json:"age_stage"`
	Appearance CharacterAppearance `json:"appearance"`
}

type Character struct {
	Name              string              `json:"name"`
	Appearance        CharacterAppearance `json:"appearance"`
	Personality       string              `json:"personality,omitempty"`
	Role              string              `json:"role,omitempty"`
	VisualDescription *VisualDescription  `json:"visual_description,omitempty"`
	AgeVariants       []AgeVariant        `json:"age_variants,omitempty"`
}

type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type Scene struct {
	SceneID              int                            `json:"scene_id"`
	Location             string                         `json:"location,omitempty"`
	Time                 string                         `json:"time,omitempty"`
	Description          string                         `json:"description,omitempty"`
	Atmosphere           string                         `json:"atmosphere,omitempty"`
	Lighting             string                         `json:"lighting,omitempty"`
	Characters           []string                       `json:"characters,omitempty"`
	Narration            string                         `json:"narration,omitempty"`
	Dialogue             []DialogueLine                 `json:"dialogue,omitempty"`
	Actions              []string                       `json:"actions,omitempty"`
	CharacterAppearances map[string]CharacterAppearance `json:"character_appearances,omitempty"`
}

type Chapter struct {
	ChapterID int     `json:"chapter_id"`
	Title     string  `json:"title,omitempty"`
	Scenes    []Scene `json:"scenes"`
}

type PlotPoint struct {
	SceneRef    int      `json:"scene_ref"`
	Kind        PlotKind `json:"kind"`
	Description string   `json:"description,omitempty"`
}

// AnalyzedText is the stage-1 output: the entity graph extracted from the
// novel text.
type AnalyzedText struct {
	Characters []Character `json:"characters"`
	Chapters   []Chapter   `json:"chapters"`
	PlotPoints []PlotPoint `json:"plot_points,omitempty"`
}

// SceneCount returns the total scene count across chapters.
func (a *AnalyzedText) SceneCount() int {
	n := 0
	for _, ch := range a.Chapters {
		n += len(ch.Scenes)
	}
	return n
}

// CharacterByName looks up a character in the analyzed set.
func (a *AnalyzedText) CharacterByName(name string) (Character, bool) {
	for _, c := range a.Characters {
		if c.Name == name {
			return c, true
		}
	}
	return Character{}, false
}

// ---------------------------------------------------------------------------
// Stage 2 output — the storyboard
// ---------------------------------------------------------------------------

type ImageInfo struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	StyleTags      []string `json:"style_tags,omitempty"`
	ShotType       string   `json:"shot_type"`
	CameraAngle    string   `json:"camera_angle"`
	CameraMovement string   `json:"camera_movement,omitempty"`
	Composition    string   `json:"composition,omitempty"`
	Lighting       string   `json:"lighting,omitempty"`
	Mood           string   `json:"mood,omitempty"`
	Transition     string   `json:"transition"`
}

type AudioInfo struct {
	Kind              AudioKind `json:"kind"`
	Speaker           string    `json:"speaker,omitempty"`
	Text              string    `json:"text,omitempty"`
	EstimatedDuration float64   `json:"estimated_duration"`
}

// CharacterRender is the merged global + per-scene appearance snapshot used
// for prompt composition.
type CharacterRender struct {
	Name        string              `json:"name"`
	Appearance  CharacterAppearance `json:"appearance"`
	Personality string              `json:"personality,omitempty"`
	Role        string              `json:"role,omitempty"`
}

type StoryboardScene struct {
	SceneID            int               `json:"scene_id"`
	ChapterID          int               `json:"chapter_id"`
	ImageInfo          ImageInfo         `json:"image_info"`
	AudioUnits         []AudioInfo       `json:"audio_units"`
	CharactersResolved []CharacterRender `json:"characters_resolved,omitempty"`
	EstimatedDuration  float64           `json:"estimated_duration"`
}

type StoryboardChapter struct {
	ChapterID int               `json:"chapter_id"`
	Title     string            `json:"title,omitempty"`
	Scenes    []StoryboardScene `json:"scenes"`
}

// Storyboard is the stage-2 output: an AnalyzedText-shaped tree whose scenes
// carry render instructions instead of raw prose.
type Storyboard struct {
	Characters []Character         `json:"characters"`
	Chapters   []StoryboardChapter `json:"chapters"`
	PlotPoints []PlotPoint         `json:"plot_points,omitempty"`
}

// SceneCount returns the total scene count across chapters.
func (s *Storyboard) SceneCount() int {
	n := 0
	for _, ch := range s.Chapters {
		n += len(ch.Scenes)
	}
	return n
}

// Scenes returns all scenes in storyboard order.
func (s *Storyboard) Scenes() []StoryboardScene {
	out := make([]StoryboardScene, 0, s.SceneCount())
	for _, ch := range s.Chapters {
		out = append(out, ch.Scenes...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Stage 3 / 4 outputs
// ---------------------------------------------------------------------------

// RenderedScene holds the persisted assets for one storyboard scene.
// AudioPaths has one entry per audio unit, in unit order; silence units
// contribute an empty path.
type RenderedScene struct {
	SceneRef              int      `json:"scene_ref"`
	ChapterID             int      `json:"chapter_id"`
	ImagePath             string   `json:"image_path"`
	AudioPaths            []string `json:"audio_paths"`
	MeasuredAudioDuration float64  `json:"measured_audio_duration"`
	FinalDuration         float64  `json:"final_duration"`
}

// RenderedStoryboard pairs the storyboard with its rendered scenes, ordered
// exactly as the storyboard orders them.
type RenderedStoryboard struct {
	Storyboard *Storyboard     `json:"-"`
	Scenes     []RenderedScene `json:"scenes"`
}

// FinalVideo describes the promoted artifact.
type FinalVideo struct {
	Path            string  `json:"video_path"`
	DurationSeconds float64 `json:"duration"`
	ByteSize        int64   `json:"file_size"`
	SceneCount      int     `json:"scenes_count"`
	ChapterCount    int     `json:"chapters_count"`
}

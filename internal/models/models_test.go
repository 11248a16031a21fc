package models

import (
	"errors"
	"testing"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	opts := JobOptions{}
	if err := opts.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if opts.AnalyzerMode != AnalyzerModeChunked {
		t.Errorf("analyzer_mode = %s, want chunked", opts.AnalyzerMode)
	}
	if opts.DialogueMode != DialogueModeMerged {
		t.Errorf("dialogue_mode = %s, want merged", opts.DialogueMode)
	}
	if opts.MaxCharacters != DefaultMaxCharacters || opts.MaxScenes != DefaultMaxScenes {
		t.Errorf("caps = %d/%d, want %d/%d", opts.MaxCharacters, opts.MaxScenes, DefaultMaxCharacters, DefaultMaxScenes)
	}
	if opts.DurationMin != DefaultDurationMin || opts.DurationMax != DefaultDurationMax {
		t.Errorf("duration clamp = [%v, %v]", opts.DurationMin, opts.DurationMax)
	}
	if opts.ImageSize != DefaultImageSize {
		t.Errorf("image_size = %s", opts.ImageSize)
	}
}

func TestNormalizeRejectsBadValues(t *testing.T) {
	cases := []JobOptions{
		{AnalyzerMode: "psychic"},
		{DialogueMode: "shouted"},
		{DurationMin: 5, DurationMax: 2},
		{MaxParallelScenes: -1},
	}
	for i, opts := range cases {
		err := opts.Normalize()
		if err == nil {
			t.Errorf("case %d: expected error", i)
			continue
		}
		if KindOf(err) != ErrKindValidation {
			t.Errorf("case %d: kind = %s, want ValidationError", i, KindOf(err))
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusPending, JobStatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestAppearanceOverlay(t *testing.T) {
	age := 30
	base := CharacterAppearance{Gender: GenderMale, Hair: "black", Clothing: "uniform"}
	over := CharacterAppearance{Hair: "gray", Age: &age}

	got := base.Overlay(over)
	if got.Hair != "gray" {
		t.Errorf("hair = %s, want override gray", got.Hair)
	}
	if got.Gender != GenderMale || got.Clothing != "uniform" {
		t.Errorf("base fields lost: %+v", got)
	}
	if got.Age == nil || *got.Age != 30 {
		t.Errorf("age not overlaid: %+v", got.Age)
	}

	// Base untouched.
	if base.Hair != "black" {
		t.Error("overlay mutated the base")
	}
}

func TestPipelineErrorTagging(t *testing.T) {
	inner := NewPipelineError(ErrKindModelOutput, "bad payload", nil)
	tagged := TagStage(inner, "render", 2)

	if tagged.Kind != ErrKindModelOutput {
		t.Errorf("kind changed: %s", tagged.Kind)
	}
	if tagged.Stage != "render" || tagged.SceneID != 2 {
		t.Errorf("tags missing: %+v", tagged)
	}

	// Tagging again must not overwrite.
	again := TagStage(tagged, "compose", 9)
	if again.Stage != "render" || again.SceneID != 2 {
		t.Errorf("retag overwrote: %+v", again)
	}
}

func TestAsPipelineErrorWrapsForeignErrors(t *testing.T) {
	plain := errors.New("connection refused")
	pe := AsPipelineError(plain)
	if pe.Kind != ErrKindExternalService {
		t.Errorf("kind = %s, want ExternalServiceError", pe.Kind)
	}
	if !errors.Is(pe, plain) {
		t.Error("cause not wrapped")
	}
}

func TestAsPipelineErrorMapsCancellation(t *testing.T) {
	pe := AsPipelineError(ErrCancelled)
	if pe.Kind != ErrKindCancelled {
		t.Errorf("kind = %s, want Cancelled", pe.Kind)
	}
}

func TestSceneCountAndLookup(t *testing.T) {
	a := AnalyzedText{
		Characters: []Character{{Name: "Aldo"}},
		Chapters: []Chapter{
			{ChapterID: 1, Scenes: []Scene{{SceneID: 1}, {SceneID: 2}}},
			{ChapterID: 2, Scenes: []Scene{{SceneID: 3}}},
		},
	}
	if a.SceneCount() != 3 {
		t.Errorf("scene count = %d, want 3", a.SceneCount())
	}
	if _, ok := a.CharacterByName("Aldo"); !ok {
		t.Error("lookup failed")
	}
	if _, ok := a.CharacterByName("Nobody"); ok {
		t.Error("phantom character found")
	}
}

package renderer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/scratch"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/voices"
)

// ---------------------------------------------------------------------------
// Fake adapters
// ---------------------------------------------------------------------------

type fakeImage struct {
	mu        sync.Mutex
	calls     int
	failures  int   // transient failures before success, per call budget
	failAll   error // when set, every call fails with this error
	delayByID func(prompt string) time.Duration
}

func (f *fakeImage) GenerateImage(ctx context.Context, prompt, negativePrompt, size string, seed *int64) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	remaining := f.failures
	if remaining > 0 {
		f.failures--
	}
	f.mu.Unlock()

	if f.failAll != nil {
		return nil, f.failAll
	}
	if remaining > 0 {
		return nil, errors.New("gemini returned status 503: overloaded")
	}
	if f.delayByID != nil {
		select {
		case <-time.After(f.delayByID(prompt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte("png:" + prompt), nil
}

type fakeSpeech struct {
	mu        sync.Mutex
	calls     int
	failScene string // substring of text that triggers a fatal model error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, voiceID string, speedRatio float64, encoding string) (*services.TTSResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.failScene != "" && strings.Contains(text, f.failScene) {
		return nil, models.NewPipelineError(models.ErrKindModelOutput, "malformed base64 audio payload", nil)
	}
	return &services.TTSResponse{AudioData: []byte("mp3:" + voiceID + ":" + text), Format: "mp3"}, nil
}

type fakeMux struct {
	mu            sync.Mutex
	probeDuration float64
	probeCalls    int
	muxCalls      int
}

func (f *fakeMux) MuxStill(ctx context.Context, imagePath, audioPath string, duration float64, outPath string) error {
	f.mu.Lock()
	f.muxCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeMux) MuxStillSilent(ctx context.Context, imagePath string, duration float64, outPath string) error {
	f.mu.Lock()
	f.muxCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeMux) Concat(ctx context.Context, inputs []string, outPath string) error {
	f.mu.Lock()
	f.muxCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeMux) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.mu.Lock()
	f.probeCalls++
	f.mu.Unlock()
	return f.probeDuration, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testScratch(t *testing.T) *scratch.Scratch {
	t.Helper()
	base := t.TempDir()
	store, err := scratch.NewStore(filepath.Join(base, "scratch"), filepath.Join(base, "videos"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sc, err := store.Open(uuid.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sc
}

func testOpts() models.JobOptions {
	opts := models.JobOptions{}
	if err := opts.Normalize(); err != nil {
		panic(err)
	}
	return opts
}

// boardWithScenes builds one chapter of n scenes, each estimated at 4s: odd
// scenes carry a narration unit, even scenes a dialogue unit spoken by "Aldo".
func boardWithScenes(n int) *models.Storyboard {
	board := &models.Storyboard{
		Characters: []models.Character{
			{Name: "Aldo", Appearance: models.CharacterAppearance{Gender: models.GenderMale, AgeStage: models.AgeStageAdult}},
		},
	}
	ch := models.StoryboardChapter{ChapterID: 1}
	for i := 1; i <= n; i++ {
		scene := models.StoryboardScene{
			SceneID:           i,
			ChapterID:         1,
			ImageInfo:         models.ImageInfo{Prompt: fmt.Sprintf("scene-%d", i)},
			EstimatedDuration: 4.0,
		}
		if i%2 == 0 {
			scene.AudioUnits = []models.AudioInfo{{
				Kind: models.AudioKindDialogue, Speaker: "Aldo", Text: fmt.Sprintf("line for scene %d", i), EstimatedDuration: 4.0,
			}}
		} else {
			scene.AudioUnits = []models.AudioInfo{{
				Kind: models.AudioKindNarration, Text: fmt.Sprintf("narration for scene %d", i), EstimatedDuration: 4.0,
			}}
		}
		ch.Scenes = append(ch.Scenes, scene)
	}
	board.Chapters = []models.StoryboardChapter{ch}
	return board
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRenderHappyPathKeepsOrder(t *testing.T) {
	board := boardWithScenes(4)
	img := &fakeImage{}
	mux := &fakeMux{probeDuration: 2.0}
	r := New(img, &fakeSpeech{}, mux)

	rendered, err := r.Render(context.Background(), board, testScratch(t),
		voices.NewRegistry(nil, "", ""), testOpts(), nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if len(rendered.Scenes) != 4 {
		t.Fatalf("scenes = %d, want 4", len(rendered.Scenes))
	}
	for i, scene := range rendered.Scenes {
		if scene.SceneRef != i+1 {
			t.Errorf("scene %d has ref %d, results out of order", i, scene.SceneRef)
		}
		if scene.ImagePath == "" || len(scene.AudioPaths) != 1 || scene.AudioPaths[0] == "" {
			t.Errorf("scene %d missing assets: %+v", i, scene)
		}
	}
}

func TestRenderParallelStillDeterministicOrder(t *testing.T) {
	board := boardWithScenes(6)
	// Earlier scenes take longer, so parallel completion order inverts.
	img := &fakeImage{delayByID: func(prompt string) time.Duration {
		if prompt == "scene-1" {
			return 80 * time.Millisecond
		}
		return 5 * time.Millisecond
	}}
	opts := testOpts()
	opts.MaxParallelScenes = 4

	var mu sync.Mutex
	var seen []int
	progress := func(completed, total int) {
		mu.Lock()
		seen = append(seen, completed)
		mu.Unlock()
	}

	rendered, err := New(img, &fakeSpeech{}, &fakeMux{probeDuration: 1.0}).
		Render(context.Background(), board, testScratch(t), voices.NewRegistry(nil, "", ""), opts, progress)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for i, scene := range rendered.Scenes {
		if scene.SceneRef != i+1 {
			t.Fatalf("results out of storyboard order at %d: ref %d", i, scene.SceneRef)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("progress not monotonic: %v", seen)
		}
	}
	if len(seen) != 6 {
		t.Errorf("progress calls = %d, want 6", len(seen))
	}
}

func TestVoiceAssignmentsStableUnderParallelism(t *testing.T) {
	board := boardWithScenes(6)
	opts := testOpts()
	opts.MaxParallelScenes = 4

	reg := voices.NewRegistry(nil, "", "")
	_, err := New(&fakeImage{}, &fakeSpeech{}, &fakeMux{probeDuration: 1.0}).
		Render(context.Background(), board, testScratch(t), reg, opts, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// The parallel run must agree with a fresh serial assignment.
	fresh := voices.NewRegistry(nil, "", "")
	want := fresh.Assign("Aldo", board.Characters[0])
	if got := reg.Assignments()["Aldo"]; got != want {
		t.Errorf("voice for Aldo = %s, want %s", got, want)
	}
}

func TestFinalDurationIsMaxOfEstimateAndMeasured(t *testing.T) {
	board := boardWithScenes(2)
	board.Chapters[0].Scenes[0].EstimatedDuration = 10.0 // above measured
	board.Chapters[0].Scenes[1].EstimatedDuration = 1.0  // below measured

	rendered, err := New(&fakeImage{}, &fakeSpeech{}, &fakeMux{probeDuration: 5.0}).
		Render(context.Background(), board, testScratch(t), voices.NewRegistry(nil, "", ""), testOpts(), nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if rendered.Scenes[0].FinalDuration != 10.0 {
		t.Errorf("scene 1 final = %.1f, want estimated 10.0", rendered.Scenes[0].FinalDuration)
	}
	if rendered.Scenes[1].FinalDuration != 5.0 {
		t.Errorf("scene 2 final = %.1f, want measured 5.0", rendered.Scenes[1].FinalDuration)
	}
	for _, s := range rendered.Scenes {
		if s.FinalDuration < s.MeasuredAudioDuration {
			t.Errorf("final %.1f < measured %.1f", s.FinalDuration, s.MeasuredAudioDuration)
		}
	}
}

func TestTransientImageFailuresAbsorbedByRetry(t *testing.T) {
	board := boardWithScenes(1)
	img := &fakeImage{failures: 2} // fail twice, then succeed

	opts := testOpts()
	opts.RetryAttempts = 3

	_, err := New(img, &fakeSpeech{}, &fakeMux{probeDuration: 1.0}).
		Render(context.Background(), board, testScratch(t), voices.NewRegistry(nil, "", ""), opts, nil)
	if err != nil {
		t.Fatalf("Render should absorb transient failures: %v", err)
	}
	if img.calls != 3 {
		t.Errorf("image calls = %d, want 3 (2 failures + success)", img.calls)
	}
}

func TestExhaustedRetriesBecomeRenderError(t *testing.T) {
	board := boardWithScenes(1)
	img := &fakeImage{failAll: errors.New("gemini returned status 503: down")}

	opts := testOpts()
	opts.RetryAttempts = 2

	_, err := New(img, &fakeSpeech{}, &fakeMux{probeDuration: 1.0}).
		Render(context.Background(), board, testScratch(t), voices.NewRegistry(nil, "", ""), opts, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	pe := models.AsPipelineError(err)
	if pe.Kind != models.ErrKindRender {
		t.Errorf("kind = %s, want RenderError", pe.Kind)
	}
	if pe.SceneID != 1 {
		t.Errorf("scene id = %d, want 1", pe.SceneID)
	}
	if img.calls != 2 {
		t.Errorf("image calls = %d, want 2", img.calls)
	}
}

func TestModelOutputFailureKeepsKindAndScene(t *testing.T) {
	board := boardWithScenes(3)
	speech := &fakeSpeech{failScene: "scene 2"}
	mux := &fakeMux{probeDuration: 1.0}

	_, err := New(&fakeImage{}, speech, mux).
		Render(context.Background(), board, testScratch(t), voices.NewRegistry(nil, "", ""), testOpts(), nil)
	if err == nil {
		t.Fatal("expected failure")
	}

	pe := models.AsPipelineError(err)
	if pe.Kind != models.ErrKindModelOutput {
		t.Errorf("kind = %s, want ModelOutputError", pe.Kind)
	}
	if pe.SceneID != 2 {
		t.Errorf("scene id = %d, want 2", pe.SceneID)
	}
	if mux.muxCalls != 0 {
		t.Errorf("mux calls = %d, want 0 (no composition after render failure)", mux.muxCalls)
	}
}

func TestCancelMidStageStopsFurtherScenes(t *testing.T) {
	board := boardWithScenes(10)
	img := &fakeImage{}

	ctx, cancel := context.WithCancel(context.Background())
	progress := func(completed, total int) {
		if completed == 4 {
			cancel()
		}
	}

	_, err := New(img, &fakeSpeech{}, &fakeMux{probeDuration: 1.0}).
		Render(ctx, board, testScratch(t), voices.NewRegistry(nil, "", ""), testOpts(), progress)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if models.KindOf(err) != models.ErrKindCancelled {
		t.Errorf("kind = %s, want Cancelled", models.KindOf(err))
	}
	if img.calls > 5 {
		t.Errorf("image calls = %d, want <= 5 after cancel at scene 4", img.calls)
	}
}

func TestSilenceUnitSkipsSpeech(t *testing.T) {
	board := boardWithScenes(1)
	board.Chapters[0].Scenes[0].AudioUnits = []models.AudioInfo{{Kind: models.AudioKindSilence, EstimatedDuration: 3.0}}
	board.Chapters[0].Scenes[0].EstimatedDuration = 3.0

	speech := &fakeSpeech{}
	rendered, err := New(&fakeImage{}, speech, &fakeMux{probeDuration: 9.9}).
		Render(context.Background(), board, testScratch(t), voices.NewRegistry(nil, "", ""), testOpts(), nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if speech.calls != 0 {
		t.Errorf("speech calls = %d, want 0 for silence", speech.calls)
	}
	scene := rendered.Scenes[0]
	if scene.MeasuredAudioDuration != 0 {
		t.Errorf("measured = %.1f, want 0 for silence", scene.MeasuredAudioDuration)
	}
	if scene.FinalDuration != 3.0 {
		t.Errorf("final = %.1f, want estimated 3.0", scene.FinalDuration)
	}
}

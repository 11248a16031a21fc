package analyzer

import (
	"context"
	"strings"
	"testing"

	"github.com/bobarin/storyreel/internal/models"
)

// fakeText returns canned analyses, one per call, and records call count.
type fakeText struct {
	results []*models.AnalyzedText
	err     error
	calls   int
}

func (f *fakeText) Analyze(ctx context.Context, prompt, text string) (*models.AnalyzedText, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return cloneAnalyzed(f.results[idx]), nil
}

// cloneAnalyzed deep-copies via the simple fields we use in tests so the
// analyzer's in-place normalization cannot leak between calls.
func cloneAnalyzed(a *models.AnalyzedText) *models.AnalyzedText {
	out := &models.AnalyzedText{
		Characters: append([]models.Character(nil), a.Characters...),
		PlotPoints: append([]models.PlotPoint(nil), a.PlotPoints...),
	}
	for _, ch := range a.Chapters {
		c := ch
		c.Scenes = append([]models.Scene(nil), ch.Scenes...)
		out.Chapters = append(out.Chapters, c)
	}
	return out
}

func defaultOpts() models.JobOptions {
	opts := models.JobOptions{AnalyzerMode: models.AnalyzerModeSimple}
	if err := opts.Normalize(); err != nil {
		panic(err)
	}
	return opts
}

func sampleText() string {
	return strings.Repeat("The rain kept falling over the harbor town. ", 10)
}

func simpleAnalysis() *models.AnalyzedText {
	return &models.AnalyzedText{
		Characters: []models.Character{
			{Name: "Aldo", Appearance: models.CharacterAppearance{Gender: models.GenderMale, AgeStage: models.AgeStageAdult}},
		},
		Chapters: []models.Chapter{
			{ChapterID: 1, Title: "Harbor", Scenes: []models.Scene{
				{SceneID: 1, Description: "docks at dawn", Characters: []string{"Aldo"},
					Dialogue: []models.DialogueLine{{Speaker: "Aldo", Text: "Cast off."}}},
				{SceneID: 2, Description: "open water", Narration: "The boat slipped out."},
			}},
		},
		PlotPoints: []models.PlotPoint{{SceneRef: 1, Kind: models.PlotKindNormal, Description: "departure"}},
	}
}

func TestTooShortInputFailsValidation(t *testing.T) {
	a := New(&fakeText{results: []*models.AnalyzedText{simpleAnalysis()}})

	_, _, err := a.Analyze(context.Background(), "tiny", defaultOpts())
	if err == nil {
		t.Fatal("expected error")
	}
	if models.KindOf(err) != models.ErrKindValidation {
		t.Errorf("kind = %s, want ValidationError", models.KindOf(err))
	}
}

func TestSimpleModeSingleCall(t *testing.T) {
	fake := &fakeText{results: []*models.AnalyzedText{simpleAnalysis()}}
	a := New(fake)

	analyzed, warnings, err := a.Analyze(context.Background(), sampleText(), defaultOpts())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", fake.calls)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if analyzed.SceneCount() != 2 {
		t.Errorf("scenes = %d, want 2", analyzed.SceneCount())
	}
}

func TestChunkedModeOnSmallInputMatchesSimple(t *testing.T) {
	opts := defaultOpts()
	text := sampleText()

	fakeA := &fakeText{results: []*models.AnalyzedText{simpleAnalysis()}}
	simple, _, err := New(fakeA).Analyze(context.Background(), text, opts)
	if err != nil {
		t.Fatalf("simple: %v", err)
	}

	opts.AnalyzerMode = models.AnalyzerModeChunked
	fakeB := &fakeText{results: []*models.AnalyzedText{simpleAnalysis()}}
	chunked, _, err := New(fakeB).Analyze(context.Background(), text, opts)
	if err != nil {
		t.Fatalf("chunked: %v", err)
	}
	if fakeB.calls != 1 {
		t.Errorf("small input should analyze in one window, got %d calls", fakeB.calls)
	}

	if len(simple.Characters) != len(chunked.Characters) || simple.SceneCount() != chunked.SceneCount() {
		t.Errorf("simple and chunked diverge: %d/%d chars, %d/%d scenes",
			len(simple.Characters), len(chunked.Characters), simple.SceneCount(), chunked.SceneCount())
	}
}

func TestChunkedMergeUnionsCharactersAndRenumbers(t *testing.T) {
	chunk1 := &models.AnalyzedText{
		Characters: []models.Character{
			{Name: "Aldo", Appearance: models.CharacterAppearance{Gender: models.GenderMale}},
		},
		Chapters: []models.Chapter{{ChapterID: 1, Scenes: []models.Scene{
			{SceneID: 1, Description: "one", Characters: []string{"Aldo"}},
		}}},
		PlotPoints: []models.PlotPoint{{SceneRef: 1, Kind: models.PlotKindNormal}},
	}
	chunk2 := &models.AnalyzedText{
		Characters: []models.Character{
			// Same character, new attributes: union must keep gender and gain hair.
			{Name: "Aldo", Appearance: models.CharacterAppearance{Hair: "gray"}},
			{Name: "Mira", Appearance: models.CharacterAppearance{Gender: models.GenderFemale}},
		},
		Chapters: []models.Chapter{{ChapterID: 1, Scenes: []models.Scene{
			{SceneID: 1, Description: "two", Characters: []string{"Mira"}},
		}}},
		PlotPoints: []models.PlotPoint{{SceneRef: 1, Kind: models.PlotKindClimax}},
	}

	opts := defaultOpts()
	opts.AnalyzerMode = models.AnalyzerModeChunked
	opts.ChunkSize = 160 // force two windows over two paragraphs

	para := strings.Repeat("x", 150)
	text := para + "\n\n" + para

	fake := &fakeText{results: []*models.AnalyzedText{chunk1, chunk2}}
	analyzed, _, err := New(fake).Analyze(context.Background(), text, opts)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fake.calls != 2 {
		t.Fatalf("calls = %d, want 2", fake.calls)
	}

	if len(analyzed.Characters) != 2 {
		t.Fatalf("characters = %d, want 2 (union by name)", len(analyzed.Characters))
	}
	aldo, _ := analyzed.CharacterByName("Aldo")
	if aldo.Appearance.Gender != models.GenderMale || aldo.Appearance.Hair != "gray" {
		t.Errorf("merged appearance wrong: %+v", aldo.Appearance)
	}

	scenes := 0
	lastID := 0
	for _, ch := range analyzed.Chapters {
		for _, s := range ch.Scenes {
			scenes++
			if s.SceneID != lastID+1 {
				t.Errorf("scene ids not monotonic: got %d after %d", s.SceneID, lastID)
			}
			lastID = s.SceneID
		}
	}
	if scenes != 2 {
		t.Errorf("scenes = %d, want 2", scenes)
	}

	// Chunk 2's plot point must point at the renumbered second scene.
	if len(analyzed.PlotPoints) != 2 || analyzed.PlotPoints[1].SceneRef != 2 {
		t.Errorf("plot points not renumbered: %+v", analyzed.PlotPoints)
	}
}

func TestUnknownSpeakerPromoted(t *testing.T) {
	analysis := simpleAnalysis()
	analysis.Chapters[0].Scenes[0].Dialogue = append(analysis.Chapters[0].Scenes[0].Dialogue,
		models.DialogueLine{Speaker: "Stranger", Text: "Who goes there?"})

	a := New(&fakeText{results: []*models.AnalyzedText{analysis}})
	analyzed, warnings, err := a.Analyze(context.Background(), sampleText(), defaultOpts())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	stranger, ok := analyzed.CharacterByName("Stranger")
	if !ok {
		t.Fatal("unlisted speaker was not promoted")
	}
	if stranger.Appearance.Gender != models.GenderUnknown {
		t.Errorf("promoted speaker gender = %s, want unknown", stranger.Appearance.Gender)
	}
	if len(warnings) == 0 {
		t.Error("expected a promotion warning")
	}
}

func TestSceneCapTruncatesTail(t *testing.T) {
	analysis := simpleAnalysis()
	for i := 3; i <= 6; i++ {
		analysis.Chapters[0].Scenes = append(analysis.Chapters[0].Scenes,
			models.Scene{SceneID: i, Description: "extra", Narration: "more"})
	}

	opts := defaultOpts()
	opts.MaxScenes = 3

	a := New(&fakeText{results: []*models.AnalyzedText{analysis}})
	analyzed, warnings, err := a.Analyze(context.Background(), sampleText(), opts)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analyzed.SceneCount() != 3 {
		t.Errorf("scenes = %d, want 3", analyzed.SceneCount())
	}
	if len(warnings) == 0 {
		t.Error("expected a truncation warning")
	}
}

func TestCharacterCapDropsLeastMentioned(t *testing.T) {
	analysis := simpleAnalysis()
	analysis.Characters = append(analysis.Characters,
		models.Character{Name: "Mira"}, models.Character{Name: "Extra"})
	analysis.Chapters[0].Scenes[0].Characters = []string{"Aldo", "Mira"}
	analysis.Chapters[0].Scenes[1].Characters = []string{"Aldo"}

	opts := defaultOpts()
	opts.MaxCharacters = 2

	a := New(&fakeText{results: []*models.AnalyzedText{analysis}})
	analyzed, _, err := a.Analyze(context.Background(), sampleText(), opts)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analyzed.Characters) != 2 {
		t.Fatalf("characters = %d, want 2", len(analyzed.Characters))
	}
	if _, ok := analyzed.CharacterByName("Extra"); ok {
		t.Error("least-mentioned character survived the cap")
	}
	if _, ok := analyzed.CharacterByName("Aldo"); !ok {
		t.Error("most-mentioned character was dropped")
	}
}

func TestEmptyAnalysisFailsFast(t *testing.T) {
	empty := &models.AnalyzedText{
		Characters: []models.Character{},
		Chapters:   []models.Chapter{},
	}
	a := New(&fakeText{results: []*models.AnalyzedText{empty}})

	_, _, err := a.Analyze(context.Background(), sampleText(), defaultOpts())
	if models.KindOf(err) != models.ErrKindValidation {
		t.Errorf("kind = %v, want ValidationError", models.KindOf(err))
	}
}

func TestSplitChunksRespectsParagraphs(t *testing.T) {
	p1 := strings.Repeat("a", 40)
	p2 := strings.Repeat("b", 40)
	p3 := strings.Repeat("c", 40)
	chunks := splitChunks(p1+"\n\n"+p2+"\n\n"+p3, 90)

	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if !strings.Contains(chunks[0], p1) || !strings.Contains(chunks[0], p2) {
		t.Error("first chunk should hold two paragraphs")
	}
	if chunks[1] != p3 {
		t.Error("second chunk should hold the last paragraph intact")
	}
}

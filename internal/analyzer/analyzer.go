// Package analyzer implements stage 1: turning the novel text into the
// analyzed entity graph via the text-understanding adapter.
package analyzer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/retry"
	"github.com/bobarin/storyreel/internal/services"
)

// Analyzer drives the text-understanding adapter in simple or chunked mode
// and normalizes the result against the job options.
type Analyzer struct {
	text services.TextUnderstanding
}

func New(text services.TextUnderstanding) *Analyzer {
	return &Analyzer{text: text}
}

// Analyze runs stage 1. Returned warnings describe non-fatal adjustments
// (scene truncation, character drops) the orchestrator reports as progress
// messages.
func (a *Analyzer) Analyze(ctx context.Context, inputText string, opts models.JobOptions) (*models.AnalyzedText, []string, error) {
	trimmed := strings.TrimSpace(inputText)
	if len(trimmed) < opts.MinTextLength {
		return nil, nil, models.ValidationErrorf(
			"novel text too short: %d characters, minimum %d", len(trimmed), opts.MinTextLength)
	}

	var (
		analyzed *models.AnalyzedText
		err      error
	)
	switch opts.AnalyzerMode {
	case models.AnalyzerModeSimple:
		analyzed, err = a.analyzeOnce(ctx, trimmed, opts)
	default:
		analyzed, err = a.analyzeChunked(ctx, trimmed, opts)
	}
	if err != nil {
		return nil, nil, err
	}

	warnings := normalize(analyzed, opts)

	if len(analyzed.Characters) == 0 {
		return nil, nil, models.ValidationErrorf("analysis produced no characters")
	}
	if len(analyzed.Chapters) == 0 || analyzed.SceneCount() == 0 {
		return nil, nil, models.ValidationErrorf("analysis produced no scenes")
	}

	return analyzed, warnings, nil
}

// analyzeOnce performs a single adapter call wrapped in the retry harness.
func (a *Analyzer) analyzeOnce(ctx context.Context, text string, opts models.JobOptions) (*models.AnalyzedText, error) {
	prompt := buildAnalysisPrompt(opts.MaxCharacters, opts.MaxScenes)

	var result *models.AnalyzedText
	err := retry.Do(ctx, retry.Config{
		Attempts:  opts.RetryAttempts,
		BaseDelay: time.Second,
		Jitter:    true,
		Label:     "text analysis",
	}, services.Classify, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeoutDuration())
		defer cancel()
		var callErr error
		result, callErr = a.text.Analyze(callCtx, prompt, text)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// analyzeChunked splits the text into windows at paragraph boundaries,
// analyzes each window, then merges the partial graphs.
func (a *Analyzer) analyzeChunked(ctx context.Context, text string, opts models.JobOptions) (*models.AnalyzedText, error) {
	chunks := splitChunks(text, opts.ChunkSize)
	log.Printf("[Analyzer] Split text into %d chunks (chunk_size=%d)", len(chunks), opts.ChunkSize)

	if len(chunks) == 1 {
		return a.analyzeOnce(ctx, chunks[0], opts)
	}

	partials := make([]*models.AnalyzedText, 0, len(chunks))
	for i, chunk := range chunks {
		log.Printf("[Analyzer] Analyzing chunk %d/%d (%d chars)", i+1, len(chunks), len(chunk))
		partial, err := a.analyzeOnce(ctx, chunk, opts)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, partial)
	}

	return mergePartials(partials), nil
}

// splitChunks windows the text at paragraph boundaries when possible. A
// single paragraph longer than chunkSize becomes its own oversized chunk
// rather than being cut mid-sentence.
func splitChunks(text string, chunkSize int) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current []string
	currentLen := 0

	for _, para := range paragraphs {
		paraLen := len(para)
		if currentLen+paraLen > chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = []string{para}
			currentLen = paraLen
		} else {
			current = append(current, para)
			currentLen += paraLen
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}

	return chunks
}

// normalize enforces the stage-1 invariants in place: unknown speakers are
// promoted to characters, the scene count is capped from the tail, and the
// character set is capped by mention count. Returns warnings for anything it
// had to adjust.
func normalize(a *models.AnalyzedText, opts models.JobOptions) []string {
	var warnings []string

	renumberScenes(a)
	promoted := promoteUnknownSpeakers(a)
	if promoted > 0 {
		warnings = append(warnings, fmt.Sprintf("promoted %d unlisted speakers to characters", promoted))
	}

	if dropped := truncateScenes(a, opts.MaxScenes); dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("truncated %d scenes beyond the %d-scene cap", dropped, opts.MaxScenes))
	}

	if dropped := capCharacters(a, opts.MaxCharacters); dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("dropped %d least-mentioned characters beyond the %d-character cap", dropped, opts.MaxCharacters))
	}

	return warnings
}

// renumberScenes assigns monotonic scene ids in encounter order across
// chapters and keeps plot-point references aligned.
func renumberScenes(a *models.AnalyzedText) {
	remap := make(map[int]int)
	next := 0
	for ci := range a.Chapters {
		a.Chapters[ci].ChapterID = ci + 1
		for si := range a.Chapters[ci].Scenes {
			next++
			old := a.Chapters[ci].Scenes[si].SceneID
			a.Chapters[ci].Scenes[si].SceneID = next
			if old != 0 {
				remap[old] = next
			}
		}
	}
	for pi := range a.PlotPoints {
		if mapped, ok := remap[a.PlotPoints[pi].SceneRef]; ok {
			a.PlotPoints[pi].SceneRef = mapped
		}
	}
}

// promoteUnknownSpeakers adds a character with unknown appearance for every
// dialogue speaker or scene participant the model failed to list.
func promoteUnknownSpeakers(a *models.AnalyzedText) int {
	known := make(map[string]bool, len(a.Characters))
	for _, c := range a.Characters {
		known[c.Name] = true
	}

	promoted := 0
	promote := func(name string) {
		if name == "" || known[name] {
			return
		}
		a.Characters = append(a.Characters, models.Character{
			Name:       name,
			Appearance: models.CharacterAppearance{Gender: models.GenderUnknown, AgeStage: models.AgeStageUnknown},
		})
		known[name] = true
		promoted++
	}

	for _, ch := range a.Chapters {
		for _, scene := range ch.Scenes {
			for _, name := range scene.Characters {
				promote(name)
			}
			for _, line := range scene.Dialogue {
				promote(line.Speaker)
			}
		}
	}
	return promoted
}

// truncateScenes drops scenes from the tail beyond the cap, along with
// chapters and plot points left empty by the cut.
func truncateScenes(a *models.AnalyzedText, maxScenes int) int {
	total := a.SceneCount()
	if total <= maxScenes {
		return 0
	}

	kept := 0
	var chapters []models.Chapter
	for _, ch := range a.Chapters {
		if kept >= maxScenes {
			break
		}
		remain := maxScenes - kept
		if len(ch.Scenes) > remain {
			ch.Scenes = ch.Scenes[:remain]
		}
		kept += len(ch.Scenes)
		chapters = append(chapters, ch)
	}
	a.Chapters = chapters

	var points []models.PlotPoint
	for _, p := range a.PlotPoints {
		if p.SceneRef <= maxScenes {
			points = append(points, p)
		}
	}
	a.PlotPoints = points

	return total - kept
}

// capCharacters keeps the most-mentioned characters, breaking ties by first
// appearance, and scrubs dropped names from scenes.
func capCharacters(a *models.AnalyzedText, maxCharacters int) int {
	if len(a.Characters) <= maxCharacters {
		return 0
	}

	mentions := make(map[string]int, len(a.Characters))
	for _, ch := range a.Chapters {
		for _, scene := range ch.Scenes {
			for _, name := range scene.Characters {
				mentions[name]++
			}
			for _, line := range scene.Dialogue {
				mentions[line.Speaker]++
			}
		}
	}

	// Selection sort over the original order keeps the tie-break stable.
	kept := make([]models.Character, 0, maxCharacters)
	used := make(map[int]bool)
	for len(kept) < maxCharacters {
		best := -1
		for i, c := range a.Characters {
			if used[i] {
				continue
			}
			if best == -1 || mentions[c.Name] > mentions[a.Characters[best].Name] {
				best = i
			}
		}
		used[best] = true
		kept = append(kept, a.Characters[best])
	}

	dropped := len(a.Characters) - len(kept)
	a.Characters = kept

	keptNames := make(map[string]bool, len(kept))
	for _, c := range kept {
		keptNames[c.Name] = true
	}
	for ci := range a.Chapters {
		for si := range a.Chapters[ci].Scenes {
			scene := &a.Chapters[ci].Scenes[si]
			var names []string
			for _, name := range scene.Characters {
				if keptNames[name] {
					names = append(names, name)
				}
			}
			scene.Characters = names
		}
	}

	return dropped
}

// mergePartials unions chunk results: characters merge by name (non-empty
// attribute wins, first occurrence otherwise), chapters and plot points
// concatenate in chunk order, with chunk-local scene ids and plot refs both
// shifted past the scenes of earlier chunks. Scene renumbering happens later
// in normalize.
func mergePartials(partials []*models.AnalyzedText) *models.AnalyzedText {
	merged := &models.AnalyzedText{}

	index := make(map[string]int)
	sceneOffset := 0
	for _, partial := range partials {
		for _, c := range partial.Characters {
			if at, ok := index[c.Name]; ok {
				merged.Characters[at] = mergeCharacter(merged.Characters[at], c)
			} else {
				index[c.Name] = len(merged.Characters)
				merged.Characters = append(merged.Characters, c)
			}
		}

		chunkScenes := 0
		for _, ch := range partial.Chapters {
			chunkScenes += len(ch.Scenes)
			for si := range ch.Scenes {
				if ch.Scenes[si].SceneID != 0 {
					ch.Scenes[si].SceneID += sceneOffset
				}
			}
			merged.Chapters = append(merged.Chapters, ch)
		}

		for _, p := range partial.PlotPoints {
			p.SceneRef += sceneOffset
			merged.PlotPoints = append(merged.PlotPoints, p)
		}
		sceneOffset += chunkScenes
	}

	return merged
}

// mergeCharacter overlays later sightings of a character onto the first:
// empty attributes fill in, non-empty attributes keep their first value, and
// age variants accumulate distinct stages.
func mergeCharacter(base, other models.Character) models.Character {
	// Overlay with swapped roles: base fields win when non-empty.
	base.Appearance = other.Appearance.Overlay(base.Appearance)
	if base.Personality == "" {
		base.Personality = other.Personality
	}
	if base.Role == "" {
		base.Role = other.Role
	}
	if base.VisualDescription == nil {
		base.VisualDescription = other.VisualDescription
	}

	seen := make(map[models.AgeStage]bool, len(base.AgeVariants))
	for _, v := range base.AgeVariants {
		seen[v.AgeStage] = true
	}
	for _, v := range other.AgeVariants {
		if !seen[v.AgeStage] {
			base.AgeVariants = append(base.AgeVariants, v)
			seen[v.AgeStage] = true
		}
	}

	return base
}

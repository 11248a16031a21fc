package analyzer

import "fmt"

// buildAnalysisPrompt produces the instruction sent to the text-understanding
// model. The reply must match the AnalyzedText JSON contract exactly;
// anything else is treated as a model output failure by the adapter.
func buildAnalysisPrompt(maxCharacters, maxScenes int) string {
	return fmt.Sprintf(`Analyze the novel text and extract its structure as JSON with exactly these keys:

{
  "characters": [
    {
      "name": "...",
      "appearance": {
        "gender": "male|female|unknown",
        "age": 20,
        "age_stage": "child|youth|adult|elder|unknown",
        "hair": "...", "eyes": "...", "clothing": "...",
        "features": "...", "body_type": "...", "height": "...", "skin": "..."
      },
      "personality": "...",
      "role": "...",
      "age_variants": [{"age_stage": "...", "appearance": {...}}]
    }
  ],
  "chapters": [
    {
      "chapter_id": 1,
      "title": "...",
      "scenes": [
        {
          "scene_id": 1,
          "location": "...", "time": "...", "description": "...",
          "atmosphere": "...", "lighting": "...",
          "characters": ["name", ...],
          "narration": "...",
          "dialogue": [{"speaker": "name", "text": "..."}],
          "actions": ["...", ...],
          "character_appearances": {"name": {appearance fields that changed in this scene}}
        }
      ]
    }
  ],
  "plot_points": [{"scene_ref": 1, "kind": "conflict|climax|resolution|normal", "description": "..."}]
}

Rules:
- Extract at most %d characters (the most important ones) and at most %d scenes.
- Every dialogue speaker and every entry in scene "characters" must appear in the characters list.
- Number scenes in encounter order starting at 1.
- Omit fields you cannot infer rather than inventing detail.
- Respond with the JSON object only.`, maxCharacters, maxScenes)
}

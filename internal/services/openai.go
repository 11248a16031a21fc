package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bobarin/storyreel/internal/models"
)

// OpenAIService implements text understanding with OpenAI chat completions in
// JSON mode.
type OpenAIService struct {
	client *openai.Client
	model  string
}

const defaultAnalysisModel = "gpt-4o-mini"

// Ensure OpenAIService implements TextUnderstanding at compile time.
var _ TextUnderstanding = (*OpenAIService)(nil)

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  defaultAnalysisModel,
	}
}

// NewOpenAIServiceWithModel creates a service pinned to a specific model id.
func NewOpenAIServiceWithModel(apiKey, model string) *OpenAIService {
	if model == "" {
		model = defaultAnalysisModel
	}
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Analyze sends the novel text with the analysis prompt and decodes the JSON
// reply into the entity graph. Transport failures come back as-is (retryable);
// unparseable or structurally broken replies are ModelOutputError.
func (s *OpenAIService) Analyze(ctx context.Context, prompt, text string) (*models.AnalyzedText, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a professional novel analysis expert. Respond with JSON only.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt + "\n\nNOVEL TEXT:\n" + text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, models.NewPipelineError(models.ErrKindModelOutput, "no response from openai", nil)
	}

	rawContent := resp.Choices[0].Message.Content

	var analyzed models.AnalyzedText
	if err := json.Unmarshal([]byte(rawContent), &analyzed); err != nil {
		log.Printf("[OpenAI analyze] parse failed: %v", err)
		logRaw(rawContent)
		return nil, models.NewPipelineError(models.ErrKindModelOutput,
			fmt.Sprintf("failed to parse analysis: %v", err), err)
	}

	if err := validateAnalyzed(&analyzed); err != nil {
		logRaw(rawContent)
		return nil, err
	}

	log.Printf("[OpenAI analyze] extracted %d characters, %d chapters, %d scenes",
		len(analyzed.Characters), len(analyzed.Chapters), analyzed.SceneCount())

	return &analyzed, nil
}

// validateAnalyzed enforces the required keys of the adapter contract.
// Shape problems are ModelOutputError — missing/empty content is left for the
// analyzer stage to judge against the job's options.
func validateAnalyzed(a *models.AnalyzedText) error {
	if a.Characters == nil && a.Chapters == nil {
		return models.NewPipelineError(models.ErrKindModelOutput,
			"analysis missing both characters and chapters keys", nil)
	}
	for _, ch := range a.Chapters {
		if ch.Scenes == nil {
			return models.NewPipelineError(models.ErrKindModelOutput,
				fmt.Sprintf("chapter %d missing scenes key", ch.ChapterID), nil)
		}
	}
	return nil
}

const maxLogLen = 2000

func logRaw(rawContent string) {
	if len(rawContent) > maxLogLen {
		log.Printf("[OpenAI analyze] raw response (truncated): %s...", rawContent[:maxLogLen])
	} else {
		log.Printf("[OpenAI analyze] raw response: %s", rawContent)
	}
}

package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/models"
)

const geminiImageModel = "gemini-2.0-flash-exp-image"

// GeminiImageService implements image synthesis against the Gemini REST API.
// The provider wraps images as base64-in-JSON; this adapter decodes them and
// returns raw bytes.
type GeminiImageService struct {
	apiKey string
	client *http.Client
	model  string
}

// Ensure GeminiImageService implements ImageSynthesizer at compile time.
var _ ImageSynthesizer = (*GeminiImageService)(nil)

func NewGeminiImageService(apiKey string) *GeminiImageService {
	return &GeminiImageService{
		apiKey: apiKey,
		client: &http.Client{Timeout: 300 * time.Second},
		model:  geminiImageModel,
	}
}

// Gemini API request/response structures
type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
	Seed               *int64             `json:"seed,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateImage renders a single scene image. Each call is independent —
// safe for parallel execution across scenes.
func (s *GeminiImageService) GenerateImage(ctx context.Context, prompt, negativePrompt, size string, seed *int64) ([]byte, error) {
	promptText := prompt
	if negativePrompt != "" {
		promptText += "\n\nAVOID: " + negativePrompt
	}

	reqBody := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: promptText}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig: &geminiImageConfig{
				AspectRatio: aspectRatioFor(size),
			},
			Seed: seed,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", s.model, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, truncate(string(bodyBytes), 300))
	}

	var geminiResp geminiGenerateContentResponse
	if err := json.Unmarshal(bodyBytes, &geminiResp); err != nil {
		return nil, models.NewPipelineError(models.ErrKindModelOutput,
			fmt.Sprintf("failed to decode gemini response: %v", err), err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, models.NewPipelineError(models.ErrKindModelOutput, "no candidates in gemini response", nil)
	}

	var textParts []string
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			imageData, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, models.NewPipelineError(models.ErrKindModelOutput,
					fmt.Sprintf("failed to decode base64 image: %v", err), err)
			}
			log.Printf("[Gemini] Image generated (%d bytes)", len(imageData))
			return imageData, nil
		}
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	if len(textParts) > 0 {
		return nil, models.NewPipelineError(models.ErrKindModelOutput,
			"gemini returned text instead of image: "+truncate(textParts[0], 200), nil)
	}
	return nil, models.NewPipelineError(models.ErrKindModelOutput, "no image data found in gemini response", nil)
}

// aspectRatioFor reduces a WxH size string to the closest aspect ratio label
// the API accepts.
func aspectRatioFor(size string) string {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return "1:1"
	}
	var w, h int
	fmt.Sscanf(parts[0], "%d", &w)
	fmt.Sscanf(parts[1], "%d", &h)
	switch {
	case w <= 0 || h <= 0 || w == h:
		return "1:1"
	case w > h && w*9 >= h*16:
		return "16:9"
	case w > h:
		return "4:3"
	case h > w && h*9 >= w*16:
		return "9:16"
	default:
		return "3:4"
	}
}

// truncate shortens a string to maxLen and appends "..." when cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/models"
)

// ---------------------------------------------------------------------------
// ElevenLabs Text-to-Speech Service
// Uses the ElevenLabs REST API to convert text into speech audio.
// Model: eleven_flash_v2_5 (Flash v2.5 — fast, 32 languages, ~75ms latency)
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsOutputFormat = "mp3_44100_128"
)

// ElevenLabsService handles speech synthesis via the ElevenLabs API.
type ElevenLabsService struct {
	apiKey  string
	modelID string
	client  *http.Client
}

// Ensure ElevenLabsService implements SpeechSynthesizer at compile time.
var _ SpeechSynthesizer = (*ElevenLabsService)(nil)

func NewElevenLabsService(apiKey string) *ElevenLabsService {
	return &ElevenLabsService{
		apiKey:  apiKey,
		modelID: elevenLabsDefaultModel,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	Speed         *float64                 `json:"speed,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// Synthesize converts text to speech with the given catalog voice.
// encoding selects the output container ("mp3" or "wav"); speedRatio scales
// the delivery pace around 1.0.
func (s *ElevenLabsService) Synthesize(ctx context.Context, text, voiceID string, speedRatio float64, encoding string) (*TTSResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ValidationErrorf("speech text cannot be empty")
	}
	if speedRatio == 0 {
		speedRatio = 1.0
	}

	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: s.modelID,
		Speed:   &speedRatio,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60,
			SimilarityBoost: 0.80,
			Style:           0.35,
			UseSpeakerBoost: true,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ElevenLabs request: %w", err)
	}

	format := elevenLabsOutputFormat
	if encoding == "wav" {
		format = "pcm_44100"
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", elevenLabsBaseURL, voiceID, format)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create ElevenLabs request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	log.Printf("[ElevenLabs] Synthesizing speech (voiceID=%s, model=%s, textLen=%d, speed=%.2f)",
		voiceID, s.modelID, len(text), speedRatio)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	// The response body IS the audio file.
	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ElevenLabs audio response: %w", err)
	}

	if len(audioData) == 0 {
		return nil, models.NewPipelineError(models.ErrKindModelOutput, "ElevenLabs returned empty audio", nil)
	}

	durationMs := estimateAudioDuration(text, speedRatio)

	log.Printf("[ElevenLabs] Speech generated (%d bytes, estimated %dms)", len(audioData), durationMs)

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: durationMs,
		Format:     encodingOrDefault(encoding),
	}, nil
}

func encodingOrDefault(encoding string) string {
	if encoding == "" {
		return "mp3"
	}
	return encoding
}

// estimateAudioDuration estimates duration from text length and speed.
// Average narration rate is ~140 words per minute at normal speed.
func estimateAudioDuration(text string, speed float64) int {
	words := len(strings.Fields(text))
	baseWPM := 140.0

	actualWPM := baseWPM * speed
	if actualWPM <= 0 {
		actualWPM = baseWPM
	}

	minutes := float64(words) / actualWPM
	return int(minutes * 60 * 1000)
}

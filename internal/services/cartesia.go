package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bobarin/storyreel/internal/models"
)

// ---------------------------------------------------------------------------
// Cartesia Text-to-Speech Service — legacy provider, used when no ElevenLabs
// key is configured. Implements the same SpeechSynthesizer capability.
// ---------------------------------------------------------------------------

const cartesiaAPIVersion = "2024-06-10"

type CartesiaService struct {
	apiKey     string
	apiURL     string
	apiVersion string
	client     *http.Client
}

// Ensure CartesiaService implements SpeechSynthesizer at compile time.
var _ SpeechSynthesizer = (*CartesiaService)(nil)

func NewCartesiaService(apiKey, apiURL string) *CartesiaService {
	return &CartesiaService{
		apiKey:     apiKey,
		apiURL:     apiURL,
		apiVersion: cartesiaAPIVersion,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// cartesiaRequest matches the Cartesia API specification.
type cartesiaRequest struct {
	ModelID      string                    `json:"model_id"`
	Transcript   string                    `json:"transcript"`
	Voice        cartesiaVoiceSpecifier    `json:"voice"`
	OutputFormat cartesiaOutputFormat      `json:"output_format"`
	Config       *cartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type cartesiaVoiceSpecifier struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed *float64 `json:"speed,omitempty"` // 0.6 to 1.5
}

// Synthesize generates audio from text using Cartesia TTS.
func (s *CartesiaService) Synthesize(ctx context.Context, text, voiceID string, speedRatio float64, encoding string) (*TTSResponse, error) {
	if text == "" {
		return nil, models.ValidationErrorf("speech text cannot be empty")
	}

	container := "mp3"
	if encoding == "wav" {
		container = "wav"
	}

	reqBody := cartesiaRequest{
		ModelID:    "sonic-english",
		Transcript: text,
		Voice: cartesiaVoiceSpecifier{
			Mode: "id",
			ID:   voiceID,
		},
		OutputFormat: cartesiaOutputFormat{
			Container:  container,
			SampleRate: 44100,
			BitRate:    192000,
		},
	}

	if speedRatio != 0 && speedRatio != 1.0 {
		speed := speedRatio
		reqBody.Config = &cartesiaGenerationConfig{Speed: &speed}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/tts/bytes", s.apiURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", s.apiVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cartesia returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audioData) == 0 {
		return nil, models.NewPipelineError(models.ErrKindModelOutput, "cartesia returned empty audio", nil)
	}

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: estimateAudioDuration(text, speedOrDefault(speedRatio)),
		Format:     container,
	}, nil
}

func speedOrDefault(speed float64) float64 {
	if speed == 0 {
		return 1.0
	}
	return speed
}

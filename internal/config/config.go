package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Filesystem roots
	ScratchBase string // per-job workspaces live under <ScratchBase>/<job_id>/
	VideosBase  string // promoted final videos land under <VideosBase>/<job_id>/

	// Redis (optional — progress relay for out-of-process observers)
	RedisURL     string
	RedisEnabled bool

	// OpenAI (text understanding)
	OpenAIKey   string
	OpenAIModel string

	// Gemini (image synthesis)
	GeminiKey string

	// ElevenLabs (preferred speech provider)
	ElevenLabsKey string

	// Cartesia (legacy speech provider — used when ElevenLabs key is not set)
	CartesiaKey string
	CartesiaURL string

	// Voices
	NarratorVoiceID string
	DefaultVoiceID  string

	// Media tool
	FFmpegTimeoutSeconds int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:              getEnv("API_PORT", "8080"),
		BackendAPIKey:        getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", ""),
		ScratchBase:          getEnv("SCRATCH_BASE", "/tmp/storyreel/scratch"),
		VideosBase:           getEnv("VIDEOS_BASE", "/tmp/storyreel/videos"),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisEnabled:         getEnvBool("REDIS_ENABLED", false),
		OpenAIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", ""),
		GeminiKey:            getEnv("GEMINI_API_KEY", ""),
		ElevenLabsKey:        getEnv("ELEVENLABS_API_KEY", ""),
		CartesiaKey:          getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:          getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		NarratorVoiceID:      getEnv("NARRATOR_VOICE_ID", ""),
		DefaultVoiceID:       getEnv("DEFAULT_VOICE_ID", ""),
		FFmpegTimeoutSeconds: getEnvInt("FFMPEG_TIMEOUT_SECONDS", 120),
	}

	// Validate required fields
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	// At least one speech provider must be configured
	if cfg.ElevenLabsKey == "" && cfg.CartesiaKey == "" {
		return nil, fmt.Errorf("either ELEVENLABS_API_KEY or CARTESIA_API_KEY is required for speech synthesis")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

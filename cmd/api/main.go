package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/storyreel/internal/api"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/events"
	"github.com/bobarin/storyreel/internal/scratch"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/voices"
	"github.com/bobarin/storyreel/internal/worker"
)

func main() {
	log.Println("Starting Storyreel API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Scratch store: per-job workspaces + promoted video root
	store, err := scratch.NewStore(cfg.ScratchBase, cfg.VideosBase)
	if err != nil {
		log.Fatalf("Failed to initialize scratch store: %v", err)
	}
	log.Printf("Scratch store at %s (videos at %s)", cfg.ScratchBase, cfg.VideosBase)

	// Event bus, with optional Redis relay for out-of-process observers
	var relay events.Relay
	if cfg.RedisEnabled {
		redisRelay, err := events.NewRedisRelay(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisRelay.Close()
		relay = redisRelay
		log.Println("Redis progress relay enabled")
	}
	bus := events.NewBus(relay)

	// External adapters
	textSvc := services.NewOpenAIServiceWithModel(cfg.OpenAIKey, cfg.OpenAIModel)
	imageSvc := services.NewGeminiImageService(cfg.GeminiKey)
	ffmpegSvc := services.NewFFmpegService("/tmp/storyreel/ffmpeg",
		time.Duration(cfg.FFmpegTimeoutSeconds)*time.Second)

	// Speech provider — ElevenLabs preferred, Cartesia as legacy fallback
	var speechSvc services.SpeechSynthesizer
	if cfg.ElevenLabsKey != "" {
		speechSvc = services.NewElevenLabsService(cfg.ElevenLabsKey)
		log.Println("Speech provider: ElevenLabs (model: eleven_flash_v2_5)")
	} else {
		speechSvc = services.NewCartesiaService(cfg.CartesiaKey, cfg.CartesiaURL)
		log.Println("Speech provider: Cartesia (legacy)")
	}

	// Voice catalog defaults; per-job options may override narrator/default
	catalog := voices.DefaultCatalog

	engine := worker.NewEngine(store, bus, textSvc, imageSvc, speechSvc, ffmpegSvc, catalog)

	// HTTP surface
	handler := api.NewHandler(engine, bus)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Let in-flight jobs reach a terminal state before exiting
	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Println("Timed out waiting for jobs to finish")
	}

	log.Println("Server exited")
}

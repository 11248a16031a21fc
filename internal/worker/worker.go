// Package worker drives jobs through the four pipeline stages and owns the
// per-job lifecycle: status, progress events, scratch cleanup, cancellation.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/storyreel/internal/analyzer"
	"github.com/bobarin/storyreel/internal/composer"
	"github.com/bobarin/storyreel/internal/events"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/renderer"
	"github.com/bobarin/storyreel/internal/scratch"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/storyboard"
	"github.com/bobarin/storyreel/internal/voices"
)

// Progress band boundaries. Stage 3's band is subdivided linearly across
// scenes; the others jump at stage boundaries.
const (
	pctInit           = 0
	pctAnalyzeDone    = 20
	pctStoryboardDone = 30
	pctRenderDone     = 70
	pctComposeDone    = 100
	renderBandWidth   = pctRenderDone - pctStoryboardDone
)

// Engine accepts jobs and runs each through analyze → storyboard → render →
// compose. Jobs are independent; they share only the event bus and the
// scratch root.
type Engine struct {
	store   *scratch.Store
	bus     *events.Bus
	text    services.TextUnderstanding
	image   services.ImageSynthesizer
	speech  services.SpeechSynthesizer
	mux     services.MediaMuxer
	catalog []voices.CatalogEntry

	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobHandle
	wg   sync.WaitGroup
}

// jobHandle pairs the mutable job record with its cancellation.
type jobHandle struct {
	job             *models.Job
	cancel          context.CancelFunc
	cancelRequested bool
}

func NewEngine(
	store *scratch.Store,
	bus *events.Bus,
	text services.TextUnderstanding,
	image services.ImageSynthesizer,
	speech services.SpeechSynthesizer,
	mux services.MediaMuxer,
	catalog []voices.CatalogEntry,
) *Engine {
	return &Engine{
		store:   store,
		bus:     bus,
		text:    text,
		image:   image,
		speech:  speech,
		mux:     mux,
		catalog: catalog,
		jobs:    make(map[uuid.UUID]*jobHandle),
	}
}

// Submit registers a job and starts it asynchronously. The job id returns
// immediately; execution progress flows through the event bus.
func (e *Engine) Submit(inputText string, opts models.JobOptions) (uuid.UUID, error) {
	if err := opts.Normalize(); err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		InputText: inputText,
		Options:   opts,
		Status:    models.JobStatusPending,
		Stage:     models.StageInit,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	baseCtx := context.Background()
	var timeoutCancel context.CancelFunc
	if opts.JobTimeout > 0 {
		baseCtx, timeoutCancel = context.WithTimeout(baseCtx, time.Duration(opts.JobTimeout*float64(time.Second)))
	}
	runCtx, cancel := context.WithCancel(baseCtx)

	handle := &jobHandle{job: job, cancel: cancel}

	e.mu.Lock()
	e.jobs[job.ID] = handle
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		if timeoutCancel != nil {
			defer timeoutCancel()
		}
		e.run(runCtx, handle)
	}()

	log.Printf("[Worker] Job %s submitted (%d chars, mode=%s)", job.ID, len(inputText), opts.AnalyzerMode)
	return job.ID, nil
}

// Cancel requests cooperative cancellation of a running job.
func (e *Engine) Cancel(jobID uuid.UUID) error {
	e.mu.Lock()
	handle, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown job %s", jobID)
	}
	if handle.job.Status.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("job %s already %s", jobID, handle.job.Status)
	}
	handle.cancelRequested = true
	e.mu.Unlock()

	handle.cancel()
	log.Printf("[Worker] Cancellation requested for job %s", jobID)
	return nil
}

// Job returns a snapshot of a job's current state.
func (e *Engine) Job(jobID uuid.UUID) (models.Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	handle, ok := e.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	return *handle.job, true
}

// Wait blocks until all submitted jobs have finished. Used for shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ---------------------------------------------------------------------------
// Pipeline execution
// ---------------------------------------------------------------------------

// run drives one job to a terminal status. All stage errors funnel to the
// single failure path at the bottom.
func (e *Engine) run(ctx context.Context, h *jobHandle) {
	jobID := h.job.ID
	opts := h.job.Options

	e.setStatus(h, models.JobStatusRunning)
	e.emitProgress(h, models.StageInit, pctInit, "starting pipeline")

	sc, err := e.store.Open(jobID)
	if err != nil {
		e.finishFailed(h, nil, err)
		return
	}

	// Stage 1 — analyze.
	e.emitProgress(h, models.StageAnalyze, pctInit, "analyzing novel text")
	analyzed, warnings, err := analyzer.New(e.text).Analyze(ctx, h.job.InputText, opts)
	if err != nil {
		e.finishFailed(h, sc, models.TagStage(models.AsPipelineError(err), string(models.StageAnalyze), 0))
		return
	}
	for _, warning := range warnings {
		e.emitProgress(h, models.StageAnalyze, pctAnalyzeDone, warning)
	}
	e.emitProgress(h, models.StageAnalyze, pctAnalyzeDone,
		fmt.Sprintf("analysis complete: %d characters, %d scenes", len(analyzed.Characters), analyzed.SceneCount()))

	if ctx.Err() != nil {
		e.finishFailed(h, sc, models.NewPipelineError(models.ErrKindCancelled, "cancelled", models.ErrCancelled))
		return
	}

	// Stage 2 — storyboard (pure transform, no suspension points).
	board := storyboard.New(opts).Build(analyzed)
	e.emitProgress(h, models.StageStoryboard, pctStoryboardDone,
		"storyboard ready: "+storyboard.Describe(board))

	// Stage 3 — render.
	catalog := e.catalog
	if len(opts.VoiceCatalog) > 0 {
		catalog = opts.VoiceCatalog
	}
	registry := voices.NewRegistry(catalog, opts.NarratorVoice, opts.DefaultVoice)
	total := board.SceneCount()
	rendered, err := renderer.New(e.image, e.speech, e.mux).Render(ctx, board, sc, registry, opts,
		func(completed, totalScenes int) {
			pct := pctStoryboardDone + completed*renderBandWidth/totalScenes
			e.emitProgress(h, models.StageRender, pct,
				fmt.Sprintf("rendered %d/%d scenes", completed, totalScenes))
		})
	if err != nil {
		e.finishFailed(h, sc, err)
		return
	}
	e.emitProgress(h, models.StageRender, pctRenderDone, fmt.Sprintf("all %d scenes rendered", total))

	if ctx.Err() != nil {
		e.finishFailed(h, sc, models.NewPipelineError(models.ErrKindCancelled, "cancelled", models.ErrCancelled))
		return
	}

	// Stage 4 — compose.
	e.emitProgress(h, models.StageCompose, pctRenderDone, "composing final video")
	video, err := composer.New(e.mux).Compose(ctx, rendered, sc, opts)
	if err != nil {
		e.finishFailed(h, sc, err)
		return
	}

	e.finishCompleted(h, sc, video)
}

// ---------------------------------------------------------------------------
// Terminal transitions
// ---------------------------------------------------------------------------

func (e *Engine) finishCompleted(h *jobHandle, sc *scratch.Scratch, video *models.FinalVideo) {
	if err := sc.Cleanup(); err != nil {
		log.Printf("[Worker] Job %s: scratch cleanup failed: %v", h.job.ID, err)
	}

	e.mu.Lock()
	h.job.Status = models.JobStatusCompleted
	h.job.Stage = models.StageDone
	h.job.ProgressPct = pctComposeDone
	h.job.Message = "video generation complete"
	h.job.Result = video
	h.job.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	e.bus.Publish(h.job.ID, events.Event{
		Type:     events.EventTypeCompleted,
		Stage:    models.StageDone,
		Progress: pctComposeDone,
		Message:  "video generation complete",
		Result:   video,
	})
	log.Printf("[Worker] Job %s completed: %s", h.job.ID, video.Path)
}

// finishFailed ends a job as failed or cancelled, cleans the scratch unless
// retention is requested, and emits the terminal event.
func (e *Engine) finishFailed(h *jobHandle, sc *scratch.Scratch, err error) {
	pe := models.AsPipelineError(err)

	e.mu.Lock()
	cancelRequested := h.cancelRequested
	e.mu.Unlock()

	// A cancellation kind without a user cancel means the job timeout fired.
	if pe.Kind == models.ErrKindCancelled && !cancelRequested {
		pe = models.NewPipelineError(models.ErrKindExternalService, "job timed out", pe)
	}

	status := models.JobStatusFailed
	if pe.Kind == models.ErrKindCancelled {
		status = models.JobStatusCancelled
	}

	if sc != nil {
		if h.job.Options.RetainScratchOnFailure {
			log.Printf("[Worker] Job %s: retaining scratch at %s", h.job.ID, sc.Root())
		} else if cleanupErr := sc.Cleanup(); cleanupErr != nil {
			log.Printf("[Worker] Job %s: scratch cleanup failed: %v", h.job.ID, cleanupErr)
		}
	}

	e.mu.Lock()
	h.job.Status = status
	if pe.Stage != "" {
		h.job.Stage = models.Stage(pe.Stage)
	}
	h.job.Message = pe.Detail
	h.job.Error = pe
	h.job.ErrorKind = pe.Kind
	h.job.ErrorDetail = pe.Error()
	h.job.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	e.bus.Publish(h.job.ID, events.Event{
		Type:   events.EventTypeFailed,
		Stage:  models.Stage(pe.Stage),
		Kind:   pe.Kind,
		Detail: pe.Error(),
	})
	log.Printf("[Worker] Job %s ended %s: %v", h.job.ID, status, pe)
}

// ---------------------------------------------------------------------------
// State helpers
// ---------------------------------------------------------------------------

func (e *Engine) setStatus(h *jobHandle, status models.JobStatus) {
	e.mu.Lock()
	h.job.Status = status
	h.job.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()
}

// emitProgress updates the job record and publishes a progress event. The
// percentage never decreases, whatever the caller computed.
func (e *Engine) emitProgress(h *jobHandle, stage models.Stage, pct int, message string) {
	e.mu.Lock()
	if pct < h.job.ProgressPct {
		pct = h.job.ProgressPct
	}
	h.job.Stage = stage
	h.job.ProgressPct = pct
	h.job.Message = message
	h.job.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	e.bus.Publish(h.job.ID, events.Event{
		Type:     events.EventTypeProgress,
		Stage:    stage,
		Progress: pct,
		Message:  message,
	})
}

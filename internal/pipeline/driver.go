// Package pipeline runs tasks end to end: reference preparation, GPU
// reservation, voice synthesis, staging, backend submission, and the
// monitor loop that decides the terminal outcome. One goroutine per
// in-flight task; a resume goroutine picks up tasks the dispatcher hands
// a GPU after queueing. No HTTP handler mutates task phase; every verdict
// comes from a driver or monitor goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/surajit20072003/heygemd/internal/backend"
	"github.com/surajit20072003/heygemd/internal/config"
	"github.com/surajit20072003/heygemd/internal/engine"
	"github.com/surajit20072003/heygemd/internal/media"
	"github.com/surajit20072003/heygemd/internal/models"
	"github.com/surajit20072003/heygemd/internal/progress"
	"github.com/surajit20072003/heygemd/internal/textnorm"
	"github.com/surajit20072003/heygemd/internal/tts"
	"github.com/surajit20072003/heygemd/pkg/format"
)

// Fallback knobs for zero-value configuration.
const (
	defaultPollInterval     = 5 * time.Second
	defaultInferenceTimeout = 30 * time.Minute
	defaultChunkTimeout     = 10 * time.Minute
	defaultMaxQueryErrors   = 5
	defaultOutputGrace      = 30 * time.Second
	defaultOutputMinSize    = 100 * 1024
	defaultChunkWindow      = 2 * time.Minute
	defaultChunkCount       = 3
)

// ErrNoReferenceVideo is the accept-time failure when neither the request
// nor the configuration provides a face video.
var ErrNoReferenceVideo = errors.New("no face video supplied and no default configured")

// Driver owns the per-task pipeline goroutines.
type Driver struct {
	engine  *engine.Engine
	media   *media.Processor
	backend *backend.Client
	tts     *tts.Client
	hub     *progress.Hub

	outputDir string

	defaultVideo    string
	defaultAudio    string
	ttsFormat       string
	pollInterval    time.Duration
	inferenceLimit  time.Duration
	chunkLimit      time.Duration
	maxQueryErrors  int
	outputGrace     time.Duration
	outputMinSize   int64
	chunkCount      int
	chunkWindow     time.Duration
	stabilizePoll   time.Duration

	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Driver from its collaborators and configuration.
func New(eng *engine.Engine, proc *media.Processor, backendClient *backend.Client, ttsClient *tts.Client, cfg *config.Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		engine:         eng,
		media:          proc,
		backend:        backendClient,
		tts:            ttsClient,
		outputDir:      cfg.Storage.OutputPath(),
		defaultVideo:   cfg.Pipeline.DefaultVideo,
		defaultAudio:   cfg.Pipeline.DefaultReferenceAudio,
		ttsFormat:      cfg.TTS.Format,
		pollInterval:   cfg.Backend.PollInterval,
		inferenceLimit: cfg.Backend.InferenceTimeout,
		chunkLimit:     cfg.Backend.ChunkTimeout,
		maxQueryErrors: cfg.Backend.MaxQueryErrors,
		outputGrace:    cfg.Pipeline.OutputGraceWindow,
		outputMinSize:  cfg.Pipeline.OutputMinSize.Bytes(),
		chunkCount:     cfg.Pipeline.ChunkCount,
		chunkWindow:    cfg.Pipeline.ChunkReserveWindow,
		stabilizePoll:  cfg.Pipeline.StabilizeInterval,
		logger:         logger.With(slog.String("component", "pipeline")),
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	if d.inferenceLimit <= 0 {
		d.inferenceLimit = defaultInferenceTimeout
	}
	if d.chunkLimit <= 0 {
		d.chunkLimit = defaultChunkTimeout
	}
	if d.maxQueryErrors <= 0 {
		d.maxQueryErrors = defaultMaxQueryErrors
	}
	if d.outputGrace <= 0 {
		d.outputGrace = defaultOutputGrace
	}
	if d.outputMinSize <= 0 {
		d.outputMinSize = defaultOutputMinSize
	}
	if d.chunkCount < 2 {
		d.chunkCount = defaultChunkCount
	}
	if d.chunkWindow <= 0 {
		d.chunkWindow = defaultChunkWindow
	}
	if d.stabilizePoll <= 0 {
		d.stabilizePoll = 2 * time.Second
	}
	return d
}

// WithProgress attaches the event hub. Without one, events are dropped.
func (d *Driver) WithProgress(hub *progress.Hub) *Driver {
	d.hub = hub
	return d
}

// Start launches the resume goroutine that picks up dispatched queue heads.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		return fmt.Errorf("pipeline driver already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.consumeDispatched()

	d.logger.Info("pipeline driver started",
		slog.Duration("poll_interval", d.pollInterval),
		slog.Duration("inference_timeout", d.inferenceLimit))
	return nil
}

// Stop cancels every in-flight run and waits for the goroutines to exit.
// Live tasks are left as-is: the table is in-memory, so they vanish with
// the process.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("pipeline driver stopped")
}

// Launch starts the pipeline goroutine for an accepted task.
func (d *Driver) Launch(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		return fmt.Errorf("pipeline driver not started")
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(taskID)
	}()
	return nil
}

// consumeDispatched resumes tasks the engine's dispatcher handed a GPU.
func (d *Driver) consumeDispatched() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case id := <-d.engine.Dispatched():
			d.wg.Add(1)
			go func(taskID string) {
				defer d.wg.Done()
				d.resumeOnGPU(taskID)
			}(id)
		}
	}
}

// run is the pipeline entry for a fresh task: preprocessing, then the
// single or chunked flow.
func (d *Driver) run(taskID string) {
	log := d.logger.With(slog.String("task_id", taskID))

	t, ok := d.engine.Get(taskID)
	if !ok {
		log.Error("launched task not in table")
		return
	}

	if err := d.engine.Transition(taskID, models.TaskPhasePreprocessing); err != nil {
		log.Error("preprocessing transition refused", slog.Any("error", err))
		return
	}
	d.publish(taskID, "preparing reference media")

	videoPath, refAudio, err := d.prepareReference(d.ctx, t)
	if err != nil {
		if d.ctx.Err() != nil {
			return
		}
		kind := models.ErrorKindValidation
		if !errors.Is(err, ErrNoReferenceVideo) {
			kind = models.ErrorKindExtraction
		}
		d.fail(taskID, kind, err.Error())
		return
	}
	if err := d.engine.SetMedia(taskID, videoPath, refAudio); err != nil {
		log.Error("recording media paths", slog.Any("error", err))
		return
	}
	if err := d.engine.SetNormalizedText(taskID, textnorm.Normalize(t.Text)); err != nil {
		return
	}

	if t.Chunked {
		d.runChunked(taskID)
		return
	}
	d.runSingle(taskID)
}

// prepareReference resolves the face video and voice reference, extracting
// audio from the video when no reference is supplied.
func (d *Driver) prepareReference(ctx context.Context, t *models.Task) (string, string, error) {
	videoPath := t.VideoPath
	if videoPath == "" {
		videoPath = d.defaultVideo
	}
	if videoPath == "" {
		return "", "", ErrNoReferenceVideo
	}

	refAudio := t.ReferenceAudioPath
	if refAudio == "" && t.VideoPath == "" {
		// Default video pairs with the default reference recording; no
		// point extracting from a video the operator already transcribed.
		refAudio = d.defaultAudio
	}
	if refAudio == "" {
		extracted, err := d.media.ExtractReferenceAudio(ctx, videoPath, t.Code)
		if err != nil {
			return "", "", fmt.Errorf("extracting reference audio: %w", err)
		}
		refAudio = extracted
	}
	return videoPath, refAudio, nil
}

// runSingle drives the single-GPU flow from reservation onward.
func (d *Driver) runSingle(taskID string) {
	_, reserved, err := d.engine.ReserveOrEnqueue(taskID)
	if err != nil {
		d.fail(taskID, models.ErrorKindValidation, err.Error())
		return
	}
	if !reserved {
		// Queued. The dispatcher resumes this task; this goroutine is done.
		d.publish(taskID, "waiting for a gpu")
		return
	}
	d.resumeOnGPU(taskID)
}

// resumeOnGPU continues a task that holds a GPU: TTS, staging, submission,
// monitoring. Entered directly after a successful reserve or via the
// dispatcher for dequeued tasks.
func (d *Driver) resumeOnGPU(taskID string) {
	log := d.logger.With(slog.String("task_id", taskID))

	ep, err := d.engine.Endpoint(taskID)
	if err != nil {
		d.fail(taskID, models.ErrorKindValidation, err.Error())
		return
	}
	t, ok := d.engine.Get(taskID)
	if !ok {
		log.Error("dispatched task not in table")
		return
	}
	log = log.With(slog.Int("gpu", ep.ID))

	if err := d.engine.Transition(taskID, models.TaskPhaseTTS); err != nil {
		log.Error("tts transition refused", slog.Any("error", err))
		return
	}
	d.publish(taskID, "synthesizing voice")

	genAudio := d.synthesize(d.ctx, t, ep.TTSURL, ep.StagingDir)
	if d.ctx.Err() != nil {
		return
	}

	if err := d.engine.Transition(taskID, models.TaskPhaseSubmitting); err != nil {
		return
	}
	d.publish(taskID, "staging artifacts")

	containerVideo, containerAudio, err := d.media.StageForGPU(ep.StagingDir, t.Code, t.VideoPath, genAudio)
	if err != nil {
		d.fail(taskID, models.ErrorKindStaging, err.Error())
		return
	}

	if err := d.backend.Submit(d.ctx, ep.InferenceURL, t.Code, containerVideo, containerAudio, submitOptions(t.Options)); err != nil {
		if d.ctx.Err() != nil {
			return
		}
		kind := models.ErrorKindBackendFailed
		if errors.Is(err, backend.ErrSubmitRejected) {
			kind = models.ErrorKindSubmitRejected
		}
		d.fail(taskID, kind, err.Error())
		return
	}
	if err := d.engine.MarkSubmitted(taskID); err != nil {
		log.Error("submitted transition refused", slog.Any("error", err))
		return
	}
	d.publish(taskID, "inference running")

	verdict := d.monitor(d.ctx, monitorJob{
		taskID:   taskID,
		code:     t.Code,
		queryURL: ep.InferenceURL,
		staging:  ep.StagingDir,
		limit:    d.inferenceLimit,
		deadline: time.Now().Add(d.inferenceLimit),
		firstOK: func() {
			_ = d.engine.Transition(taskID, models.TaskPhaseMonitoring)
		},
		progress: func(pct int) {
			_ = d.engine.RecordProgress(taskID, pct)
			d.publish(taskID, "")
		},
	})
	if d.ctx.Err() != nil {
		return
	}
	d.settleSingle(taskID, t, verdict)
}

// settleSingle applies a monitor verdict to a single-GPU task.
func (d *Driver) settleSingle(taskID string, t *models.Task, v monitorVerdict) {
	switch v.outcome {
	case outcomeCompleted:
		outPath := filepath.Join(d.outputDir, "output_"+t.ID.String()+".mp4")
		if err := d.media.Publish(v.resultPath, outPath); err != nil {
			d.fail(taskID, models.ErrorKindOutputMissing, err.Error())
			return
		}
		if err := d.engine.Complete(taskID, outPath); err == nil {
			d.logger.Info("task completed",
				slog.String("task_id", taskID),
				slog.String("output", outPath),
				slog.String("size", format.Bytes(v.resultSize)))
			d.publish(taskID, "output published")
		}
	case outcomeTimeout:
		if err := d.engine.Expire(taskID, v.message); err == nil {
			d.publish(taskID, v.message)
		}
	default:
		d.fail(taskID, v.kind, v.message)
	}
}

// synthesize runs TTS on the slot's paired port. Failure is never fatal:
// the reference recording is adopted and the task is flagged degraded.
func (d *Driver) synthesize(ctx context.Context, t *models.Task, ttsURL, stagingDir string) string {
	log := d.logger.With(slog.String("task_id", t.ID.String()))

	start := time.Now()
	containerRef, err := d.media.StageReference(stagingDir, t.Code, t.ReferenceAudioPath)
	if err == nil {
		var audio []byte
		audio, err = d.tts.Synthesize(ctx, ttsURL, t.NormalizedText, containerRef, d.ttsFormat)
		if err == nil {
			var path string
			path, err = d.media.SaveAudio(t.Code+"_gen.wav", audio)
			if err == nil {
				_ = d.engine.SetGeneratedAudio(t.ID.String(), path, false, time.Since(start))
				return path
			}
		}
	}

	log.Warn("tts degraded to reference audio", slog.Any("error", err))
	_ = d.engine.SetGeneratedAudio(t.ID.String(), t.ReferenceAudioPath, true, time.Since(start))
	return t.ReferenceAudioPath
}

// fail marks the task failed and emits the event.
func (d *Driver) fail(taskID string, kind models.ErrorKind, message string) {
	if err := d.engine.Fail(taskID, kind, message); err != nil {
		d.logger.Error("failing task", slog.String("task_id", taskID), slog.Any("error", err))
		return
	}
	d.logger.Warn("task failed",
		slog.String("task_id", taskID),
		slog.String("kind", string(kind)),
		slog.String("message", message))
	d.publish(taskID, message)
}

// publish emits the task's current snapshot to the progress hub.
func (d *Driver) publish(taskID, message string) {
	if d.hub == nil {
		return
	}
	if t, ok := d.engine.Get(taskID); ok {
		d.hub.Publish(progress.EventForTask(t, message))
	}
}

func submitOptions(o models.BackendOptions) backend.SubmitOptions {
	return backend.SubmitOptions{
		Chaofen:         o.Chaofen,
		WatermarkSwitch: o.Watermark,
		PN:              o.PN,
	}
}

// monitorJob parameterizes one monitor loop.
type monitorJob struct {
	taskID   string
	code     string
	queryURL string
	staging  string
	limit    time.Duration
	deadline time.Time
	firstOK  func()
	progress func(pct int)
}

type monitorOutcome int

const (
	outcomeCompleted monitorOutcome = iota
	outcomeFailed
	outcomeTimeout
)

// monitorVerdict is the monitor loop's terminal decision.
type monitorVerdict struct {
	outcome    monitorOutcome
	resultPath string // host path of the stabilized result, on success
	resultSize int64
	kind       models.ErrorKind
	message    string
}

// monitor polls the backend every poll interval and probes the expected
// output path after each poll. It returns the terminal verdict; the caller
// applies it to the task (or its chunk).
func (d *Driver) monitor(ctx context.Context, job monitorJob) monitorVerdict {
	log := d.logger.With(slog.String("task_id", job.taskID), slog.String("code", job.code))

	expectedHost := media.ExpectedResultPath(job.staging, job.code)
	consecutive := 0
	sawQuery := false

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return monitorVerdict{outcome: outcomeTimeout, message: "monitor cancelled"}
		case <-ticker.C:
		}

		if time.Now().After(job.deadline) {
			return monitorVerdict{outcome: outcomeTimeout,
				message: fmt.Sprintf("inference exceeded the %s deadline", job.limit)}
		}

		qr, err := d.backend.Query(ctx, job.queryURL, job.code)
		if err != nil {
			if ctx.Err() != nil {
				return monitorVerdict{outcome: outcomeTimeout, message: "monitor cancelled"}
			}
			consecutive++
			log.Warn("query error",
				slog.Int("consecutive", consecutive), slog.Any("error", err))
			if consecutive >= d.maxQueryErrors {
				return monitorVerdict{outcome: outcomeFailed,
					kind:    models.ErrorKindQueryTransient,
					message: fmt.Sprintf("%d consecutive query errors: %v", consecutive, err)}
			}
		} else {
			consecutive = 0
			if !sawQuery {
				sawQuery = true
				if job.firstOK != nil {
					job.firstOK()
				}
			}
			if job.progress != nil {
				job.progress(qr.Progress)
			}

			switch qr.Phase {
			case backend.PhaseCompleted:
				resultHost := expectedHost
				if qr.Result != "" {
					if mapped, mapErr := d.media.ResultToHost(job.staging, qr.Result); mapErr == nil {
						resultHost = mapped
					}
				}
				return d.finalize(ctx, job, resultHost)
			case backend.PhaseFailed:
				msg := qr.Message
				if msg == "" {
					msg = "backend reported failure"
				}
				return monitorVerdict{outcome: outcomeFailed,
					kind: models.ErrorKindBackendFailed, message: msg}
			}
		}

		// The backend occasionally finishes without flipping its status;
		// the output file appearing is treated as completion.
		if st, statErr := os.Stat(expectedHost); statErr == nil && st.Size() > 0 {
			return d.finalize(ctx, job, expectedHost)
		}
	}
}

// finalize waits out the grace window for the file, stabilizes it, and
// applies the size floor.
func (d *Driver) finalize(ctx context.Context, job monitorJob, resultHost string) monitorVerdict {
	if err := d.awaitFile(ctx, resultHost, job.deadline); err != nil {
		return monitorVerdict{outcome: outcomeFailed,
			kind:    models.ErrorKindOutputMissing,
			message: fmt.Sprintf("backend completed but %s never appeared", filepath.Base(resultHost))}
	}

	stabCtx, cancel := context.WithDeadline(ctx, job.deadline)
	defer cancel()
	size, err := d.media.StabilizeOutput(stabCtx, resultHost)
	if err != nil {
		if ctx.Err() != nil {
			return monitorVerdict{outcome: outcomeTimeout, message: "monitor cancelled"}
		}
		return monitorVerdict{outcome: outcomeTimeout,
			message: fmt.Sprintf("output never stabilized: %v", err)}
	}
	if size < d.outputMinSize {
		return monitorVerdict{outcome: outcomeFailed,
			kind:    models.ErrorKindOutputTooSmall,
			message: fmt.Sprintf("output %d bytes below %d byte floor", size, d.outputMinSize)}
	}
	return monitorVerdict{outcome: outcomeCompleted, resultPath: resultHost, resultSize: size}
}

// awaitFile polls for existence until the grace window or the monitor
// deadline lapses, whichever is sooner.
func (d *Driver) awaitFile(ctx context.Context, path string, deadline time.Time) error {
	grace := time.Now().Add(d.outputGrace)
	if grace.After(deadline) {
		grace = deadline
	}
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(grace) {
			return fmt.Errorf("file absent after grace window")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.stabilizePoll):
		}
	}
}

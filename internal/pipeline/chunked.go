package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/surajit20072003/heygemd/internal/backend"
	"github.com/surajit20072003/heygemd/internal/engine"
	"github.com/surajit20072003/heygemd/internal/gpu"
	"github.com/surajit20072003/heygemd/internal/media"
	"github.com/surajit20072003/heygemd/internal/models"
)

// runChunked drives the chunked-parallel flow: one synthesis pass, an
// equal-duration split, an all-or-none reservation of one GPU per chunk,
// concurrent submits with per-chunk monitors, and a final index-order
// concat. Any chunk failure fails the parent with no partial assembly.
func (d *Driver) runChunked(taskID string) {
	log := d.logger.With(slog.String("task_id", taskID), slog.Bool("chunked", true))

	t, ok := d.engine.Get(taskID)
	if !ok {
		log.Error("launched task not in table")
		return
	}

	endpoints := d.engine.Endpoints()
	n := d.chunkCount
	if n > len(endpoints) {
		n = len(endpoints)
	}
	if n < 2 {
		d.fail(taskID, models.ErrorKindValidation, "chunked run requires at least 2 gpus")
		return
	}

	// Synthesis happens before any slot is held; the TTS ports are fixed
	// per slot, so the first slot's port serves. Its reference directory
	// is shared with that slot's TTS container.
	if err := d.engine.Transition(taskID, models.TaskPhaseTTS); err != nil {
		log.Error("tts transition refused", slog.Any("error", err))
		return
	}
	d.publish(taskID, "synthesizing voice")
	genAudio := d.synthesize(d.ctx, t, endpoints[0].TTSURL, endpoints[0].StagingDir)
	if d.ctx.Err() != nil {
		return
	}

	slices, err := d.media.SplitAudioEqual(d.ctx, genAudio, n)
	if err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.fail(taskID, models.ErrorKindStaging, fmt.Sprintf("splitting audio: %v", err))
		return
	}
	chunks := make([]*models.Chunk, n)
	for i := range chunks {
		chunks[i] = &models.Chunk{
			Index:     i,
			Code:      models.ChunkCode(t.Code, i),
			AudioPath: slices[i],
			GPU:       -1,
		}
	}
	if err := d.engine.SetChunks(taskID, chunks); err != nil {
		return
	}

	if err := d.engine.Transition(taskID, models.TaskPhaseSubmitting); err != nil {
		return
	}
	d.publish(taskID, fmt.Sprintf("reserving %d gpus", n))

	held, err := d.engine.ReserveChunkGPUs(taskID, d.chunkWindow)
	if err != nil {
		if d.ctx.Err() != nil || errors.Is(err, engine.ErrStopped) {
			return
		}
		// All-or-fail policy: the verdict records that the run refused to
		// start on a partial set.
		d.fail(taskID, models.ErrorKindTimeout,
			fmt.Sprintf("all-or-fail reservation: %d gpus not available within %s", n, d.chunkWindow))
		return
	}
	log.Info("chunk gpus reserved", slog.Int("chunks", n))
	d.publish(taskID, "staging chunks")

	if !d.submitChunks(taskID, t, chunks, held) {
		return
	}
	if err := d.engine.MarkSubmitted(taskID); err != nil {
		log.Error("submitted transition refused", slog.Any("error", err))
		return
	}
	d.publish(taskID, "inference running")

	outputs, failure := d.monitorChunks(taskID, chunks, held)
	if d.ctx.Err() != nil {
		return
	}
	if failure != nil {
		d.fail(taskID, failure.kind, failure.message)
		return
	}

	d.publish(taskID, "merging chunks")
	finalPath := filepath.Join(d.outputDir, "final_"+t.ID.String()+".mp4")
	if err := d.media.ConcatChunks(d.ctx, outputs, finalPath); err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.fail(taskID, models.ErrorKindConcatFailure, fmt.Sprintf("merging chunks: %v", err))
		return
	}
	if err := d.engine.Complete(taskID, finalPath); err == nil {
		log.Info("task completed", slog.String("output", finalPath), slog.Int("chunks", n))
		d.publish(taskID, "output published")
	}
}

type chunkFailure struct {
	kind    models.ErrorKind
	message string
}

// submitChunks stages and submits every chunk concurrently. The full face
// video is staged per chunk; the backend trims it to each audio slice.
// Returns false after failing the parent if any submission did not go
// through.
func (d *Driver) submitChunks(taskID string, t *models.Task, chunks []*models.Chunk, held []gpu.Endpoint) bool {
	var wg sync.WaitGroup
	errs := make([]error, len(chunks))

	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunk := chunks[i]
			ep := held[i]
			containerVideo, containerAudio, err := d.media.StageForGPU(
				ep.StagingDir, chunk.Code, t.VideoPath, chunk.AudioPath)
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = d.backend.Submit(d.ctx, ep.InferenceURL, chunk.Code,
				containerVideo, containerAudio, submitOptions(t.Options))
		}(i)
	}
	wg.Wait()

	if d.ctx.Err() != nil {
		return false
	}
	for i, err := range errs {
		if err == nil {
			continue
		}
		_ = d.engine.SetChunkError(taskID, i, err.Error())
		kind := models.ErrorKindBackendFailed
		switch {
		case errors.Is(err, backend.ErrSubmitRejected):
			kind = models.ErrorKindSubmitRejected
		case errors.Is(err, media.ErrStagingFailed):
			kind = models.ErrorKindStaging
		}
		d.fail(taskID, kind, fmt.Sprintf("chunk %d: %v", i, err))
		return false
	}
	return true
}

// monitorChunks runs one monitor per chunk with the per-chunk deadline.
// The first failure cancels the siblings and becomes the parent's verdict;
// parent progress is the average across chunks.
func (d *Driver) monitorChunks(taskID string, chunks []*models.Chunk, held []gpu.Endpoint) ([]string, *chunkFailure) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		once    sync.Once
		failure *chunkFailure
	)
	perChunk := make([]int, len(chunks))
	outputs := make([]string, len(chunks))

	monitorCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	recordFailure := func(f chunkFailure) {
		mu.Lock()
		if failure == nil {
			failure = &f
		}
		mu.Unlock()
		cancel()
	}

	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunk := chunks[i]
			verdict := d.monitor(monitorCtx, monitorJob{
				taskID:   taskID,
				code:     chunk.Code,
				queryURL: held[i].InferenceURL,
				staging:  held[i].StagingDir,
				limit:    d.chunkLimit,
				deadline: time.Now().Add(d.chunkLimit),
				firstOK: func() {
					once.Do(func() {
						_ = d.engine.Transition(taskID, models.TaskPhaseMonitoring)
					})
				},
				progress: func(pct int) {
					mu.Lock()
					perChunk[i] = pct
					total := 0
					for _, p := range perChunk {
						total += p
					}
					avg := total / len(perChunk)
					mu.Unlock()
					_ = d.engine.RecordProgress(taskID, avg)
					d.publish(taskID, "")
				},
			})

			if verdict.outcome == outcomeCompleted {
				outputs[i] = verdict.resultPath
				_ = d.engine.SetChunkOutput(taskID, i, verdict.resultPath)
				return
			}
			if monitorCtx.Err() != nil {
				// Abandoned after a sibling's failure or shutdown; the
				// first verdict stands.
				return
			}
			_ = d.engine.SetChunkError(taskID, i, verdict.message)
			if verdict.outcome == outcomeTimeout {
				recordFailure(chunkFailure{
					kind:    models.ErrorKindTimeout,
					message: fmt.Sprintf("chunk %d timed out: %s", i, verdict.message),
				})
				return
			}
			recordFailure(chunkFailure{
				kind:    verdict.kind,
				message: fmt.Sprintf("chunk %d: %s", i, verdict.message),
			})
		}(i)
	}
	wg.Wait()
	return outputs, failure
}

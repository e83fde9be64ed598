// Package media performs the filesystem and FFmpeg work of the synthesis
// pipeline: reference audio extraction, duration probing, staging artifacts
// into per-GPU shared directories, output stabilization, audio slicing for
// the chunked variant, and chunk concatenation.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/surajit20072003/heygemd/internal/config"
	"github.com/surajit20072003/heygemd/internal/ffmpeg"
	"github.com/surajit20072003/heygemd/pkg/pathmap"
)

// Directory names inside a GPU staging root. The backend container sees the
// same layout under its data mount.
const (
	faceDirName      = "face2face"
	resultDirName    = "temp"
	referenceDirName = "reference"
)

// resultSuffix is appended by the inference backend to the job code when it
// writes its result file.
const resultSuffix = "-r.mp4"

// Sentinel errors for the pipeline to classify terminal failures.
var (
	ErrExtractionFailed = errors.New("reference audio extraction failed")
	ErrProbeFailed      = errors.New("media probe failed")
	ErrStagingFailed    = errors.New("staging failed")
	ErrSplitFailed      = errors.New("audio split failed")
	ErrConcatFailed     = errors.New("chunk concat failed")
)

// Processor runs the media operations of the pipeline. All FFmpeg work goes
// through bounded batch commands; nothing here holds the scheduler lock.
type Processor struct {
	ffmpegPath string
	prober     *ffmpeg.Prober
	logger     *slog.Logger

	tempDir          string
	containerDataDir string

	sampleRate     int
	referenceLimit time.Duration

	stabilizeInterval time.Duration
	stabilizeChecks   int
	stabilizeMinSize  int64

	// hwAccel is the decode acceleration passed to re-encode runs, empty
	// when none of the configured methods is compiled in.
	hwAccel string
	nvenc   bool
}

// NewProcessor creates a Processor bound to the detected FFmpeg installation.
func NewProcessor(bin *ffmpeg.BinaryInfo, cfg *config.Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		ffmpegPath:        bin.FFmpegPath,
		prober:            ffmpeg.NewProber(bin.FFprobePath),
		logger:            logger.With(slog.String("component", "media")),
		tempDir:           cfg.Storage.TempPath(),
		containerDataDir:  cfg.Storage.ContainerDataDir,
		sampleRate:        cfg.Pipeline.AudioSampleRate,
		referenceLimit:    cfg.Pipeline.ReferenceLimit,
		stabilizeInterval: cfg.Pipeline.StabilizeInterval,
		stabilizeChecks:   cfg.Pipeline.StabilizeChecks,
		stabilizeMinSize:  cfg.Pipeline.StabilizeMinSize.Bytes(),
		nvenc:             bin.SupportsNVENC(),
	}

	for _, accel := range cfg.FFmpeg.HWAccelPriority {
		if bin.HasHWAccel(accel) {
			p.hwAccel = accel
			break
		}
	}

	if p.sampleRate <= 0 {
		p.sampleRate = 44100
	}
	if p.referenceLimit <= 0 {
		p.referenceLimit = 15 * time.Second
	}
	if p.stabilizeInterval <= 0 {
		p.stabilizeInterval = 2 * time.Second
	}
	if p.stabilizeChecks <= 0 {
		p.stabilizeChecks = 3
	}
	if p.stabilizeMinSize <= 0 {
		p.stabilizeMinSize = 10 * 1024
	}
	if p.containerDataDir == "" {
		p.containerDataDir = "/code/data"
	}

	return p
}

// ExtractReferenceAudio pulls a PCM reference clip from the face video:
// stereo-preserving 16-bit PCM at the configured sample rate, truncated to
// the reference limit. The clip lands in the temp dir under a name carrying
// the task code.
func (p *Processor) ExtractReferenceAudio(ctx context.Context, videoPath, taskCode string) (string, error) {
	if err := p.ensureTempDir(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	outPath := filepath.Join(p.tempDir, fmt.Sprintf("%s_ref.wav", taskCode))

	cmd := ffmpeg.NewCommandBuilder(p.ffmpegPath).
		HideBanner().
		Overwrite().
		Input(videoPath).
		NoVideo().
		AudioCodec("pcm_s16le").
		AudioSampleRate(p.sampleRate).
		Duration(formatSeconds(p.referenceLimit.Seconds())).
		Output(outPath).
		Build()

	p.logger.Debug("extracting reference audio",
		slog.String("video", videoPath),
		slog.String("output", outPath))

	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: no audio produced from %s", ErrExtractionFailed, videoPath)
	}
	return outPath, nil
}

// ProbeDuration returns the media duration in seconds.
func (p *Processor) ProbeDuration(ctx context.Context, mediaPath string) (float64, error) {
	d, err := p.prober.Duration(ctx, mediaPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return d, nil
}

// StageForGPU copies the face video and generated audio into the slot's
// face2face directory under code-prefixed names, so staged artifacts never
// alias across tasks, and returns their container-visible paths. Existing
// files are overwritten.
func (p *Processor) StageForGPU(stagingDir, code, hostVideo, hostAudio string) (string, string, error) {
	mapper, err := pathmap.New(stagingDir, p.containerDataDir)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}

	faceDir := mapper.HostJoin(faceDirName)
	if err := os.MkdirAll(faceDir, 0o755); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}

	stagedVideo := filepath.Join(faceDir, code+"_video"+filepath.Ext(hostVideo))
	if _, err := copyFile(hostVideo, stagedVideo); err != nil {
		return "", "", fmt.Errorf("%w: video: %v", ErrStagingFailed, err)
	}

	stagedAudio := filepath.Join(faceDir, code+"_audio"+filepath.Ext(hostAudio))
	if _, err := copyFile(hostAudio, stagedAudio); err != nil {
		return "", "", fmt.Errorf("%w: audio: %v", ErrStagingFailed, err)
	}

	containerVideo, err := mapper.ToContainer(stagedVideo)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}
	containerAudio, err := mapper.ToContainer(stagedAudio)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}

	p.logger.Debug("staged artifacts",
		slog.String("staging_dir", stagingDir),
		slog.String("video", containerVideo),
		slog.String("audio", containerAudio))

	return containerVideo, containerAudio, nil
}

// StageReference copies a voice reference recording onto the slot's shared
// volume and returns the container path the TTS backend reads it from.
func (p *Processor) StageReference(stagingDir, code, hostAudio string) (string, error) {
	mapper, err := pathmap.New(stagingDir, p.containerDataDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}

	refDir := mapper.HostJoin(referenceDirName)
	if err := os.MkdirAll(refDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStagingFailed, err)
	}

	staged := filepath.Join(refDir, "ref_"+code+filepath.Ext(hostAudio))
	if _, err := copyFile(hostAudio, staged); err != nil {
		return "", fmt.Errorf("%w: reference: %v", ErrStagingFailed, err)
	}
	return mapper.ToContainer(staged)
}

// SaveAudio writes synthesized audio bytes into the temp dir under name and
// returns the host path.
func (p *Processor) SaveAudio(name string, data []byte) (string, error) {
	if err := p.ensureTempDir(); err != nil {
		return "", err
	}
	path := filepath.Join(p.tempDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	return path, nil
}

// ExpectedResultPath returns the host path at which the backend writes the
// result for a job code within a slot's staging directory.
func ExpectedResultPath(stagingDir, code string) string {
	return filepath.Join(stagingDir, resultDirName, code+resultSuffix)
}

// ResultToHost resolves a container result descriptor returned by the
// backend to the host path inside the slot's staging directory.
func (p *Processor) ResultToHost(stagingDir, containerPath string) (string, error) {
	mapper, err := pathmap.New(stagingDir, p.containerDataDir)
	if err != nil {
		return "", err
	}
	return mapper.ToHost(containerPath)
}

// StabilizeOutput waits until the file at path stops growing: its size must
// stay unchanged across the configured number of consecutive polls and be at
// least the stabilization floor. Returns the settled size. The backend
// streams its result to disk, so a merely existing file is not a finished
// file.
func (p *Processor) StabilizeOutput(ctx context.Context, path string) (int64, error) {
	ticker := time.NewTicker(p.stabilizeInterval)
	defer ticker.Stop()

	var lastSize int64 = -1
	stable := 0

	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("waiting for %s to stabilize: %w", path, ctx.Err())
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				lastSize, stable = -1, 0
				continue
			}
			size := info.Size()
			if size == lastSize && size >= p.stabilizeMinSize {
				stable++
				if stable >= p.stabilizeChecks {
					return size, nil
				}
			} else {
				stable = 0
			}
			lastSize = size
		}
	}
}

// Publish copies a stabilized result into its final output location.
func (p *Processor) Publish(resultPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if _, err := copyFile(resultPath, outPath); err != nil {
		return fmt.Errorf("publishing output: %w", err)
	}
	return nil
}

// SplitAudioEqual slices the audio into n equal-duration parts via stream
// copy. Slice files land in the temp dir named after the source with a
// 1-based chunk suffix; the last slice may run marginally short.
func (p *Processor) SplitAudioEqual(ctx context.Context, audioPath string, n int) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d slices requested", ErrSplitFailed, n)
	}

	if err := p.ensureTempDir(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSplitFailed, err)
	}

	total, err := p.ProbeDuration(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSplitFailed, err)
	}
	per := total / float64(n)
	if per <= 0 {
		return nil, fmt.Errorf("%w: source has no duration", ErrSplitFailed)
	}

	ext := filepath.Ext(audioPath)
	stem := strings.TrimSuffix(filepath.Base(audioPath), ext)

	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out := filepath.Join(p.tempDir, fmt.Sprintf("%s_chunk%02d%s", stem, i+1, ext))

		cmd := ffmpeg.NewCommandBuilder(p.ffmpegPath).
			HideBanner().
			Overwrite().
			Input(audioPath).
			Seek(formatSeconds(per * float64(i))).
			Duration(formatSeconds(per)).
			Codec("copy").
			Output(out).
			Build()

		if err := cmd.Run(ctx); err != nil {
			return nil, fmt.Errorf("%w: slice %d of %d: %v", ErrSplitFailed, i+1, n, err)
		}
		paths = append(paths, out)
	}

	p.logger.Debug("split audio",
		slog.String("source", audioPath),
		slog.Int("slices", n),
		slog.String("slice_duration", formatSeconds(per)))

	return paths, nil
}

// ConcatChunks joins the videos in order into outPath. The join itself is a
// lossless concat-demuxer stream copy to a temp file; the temp is then
// re-encoded with the hardware encoder to heal timestamp seams between
// independently encoded chunks. If the re-encode fails (or no hardware
// encoder exists) the lossless temp is promoted to the final output instead.
func (p *Processor) ConcatChunks(ctx context.Context, orderedPaths []string, outPath string) error {
	if len(orderedPaths) == 0 {
		return fmt.Errorf("%w: no inputs", ErrConcatFailed)
	}

	listPath := outPath + ".list"
	if err := writeConcatList(listPath, orderedPaths); err != nil {
		return fmt.Errorf("%w: %v", ErrConcatFailed, err)
	}
	defer os.Remove(listPath)

	ext := filepath.Ext(outPath)
	lossless := strings.TrimSuffix(outPath, ext) + "_lossless" + ext

	copyCmd := ffmpeg.NewCommandBuilder(p.ffmpegPath).
		HideBanner().
		Overwrite().
		InputArgs("-f", "concat", "-safe", "0").
		Input(listPath).
		Codec("copy").
		Output(lossless).
		Build()

	if err := copyCmd.Run(ctx); err != nil {
		os.Remove(lossless)
		return fmt.Errorf("%w: %v", ErrConcatFailed, err)
	}

	if !p.nvenc {
		if err := os.Rename(lossless, outPath); err != nil {
			return fmt.Errorf("%w: %v", ErrConcatFailed, err)
		}
		return nil
	}

	encBuilder := ffmpeg.NewCommandBuilder(p.ffmpegPath).
		HideBanner().
		Overwrite().
		HWAccel(p.hwAccel).
		Input(lossless).
		VideoCodec(ffmpeg.EncoderNVENC).
		VideoPreset("fast").
		VideoBitrate("3M").
		AudioCodec("copy").
		Output(outPath)

	if err := encBuilder.Build().Run(ctx); err != nil {
		p.logger.Warn("concat re-encode failed, promoting lossless copy",
			slog.String("output", outPath),
			slog.Any("error", err))
		if renameErr := os.Rename(lossless, outPath); renameErr != nil {
			return fmt.Errorf("%w: promoting lossless copy: %v", ErrConcatFailed, renameErr)
		}
		return nil
	}

	os.Remove(lossless)
	return nil
}

// NormalizeAndMerge scales chunk videos that diverge from the first chunk's
// resolution, then concatenates the set in order. A chunk whose probe or
// scale fails is merged unscaled rather than failing the whole run.
func (p *Processor) NormalizeAndMerge(ctx context.Context, chunkVideos []string, outPath string) error {
	if len(chunkVideos) == 0 {
		return fmt.Errorf("%w: no chunks", ErrConcatFailed)
	}

	target, err := p.prober.VideoResolution(ctx, chunkVideos[0])
	if err != nil {
		return fmt.Errorf("%w: probing target resolution: %v", ErrConcatFailed, err)
	}

	normalized := make([]string, len(chunkVideos))
	var scaled []string
	for i, chunk := range chunkVideos {
		normalized[i] = chunk
		if i == 0 {
			continue
		}

		res, err := p.prober.VideoResolution(ctx, chunk)
		if err != nil {
			p.logger.Warn("chunk probe failed, merging as-is",
				slog.String("chunk", chunk),
				slog.Any("error", err))
			continue
		}
		if res == target {
			continue
		}

		out := strings.TrimSuffix(chunk, filepath.Ext(chunk)) + "_scaled" + filepath.Ext(chunk)
		if err := p.scaleTo(ctx, chunk, out, target); err != nil {
			p.logger.Warn("chunk scale failed, merging original",
				slog.String("chunk", chunk),
				slog.String("target", target.String()),
				slog.Any("error", err))
			os.Remove(out)
			continue
		}
		normalized[i] = out
		scaled = append(scaled, out)
	}

	if err := p.ConcatChunks(ctx, normalized, outPath); err != nil {
		return err
	}
	for _, s := range scaled {
		os.Remove(s)
	}
	return nil
}

// scaleTo re-encodes in to out at the target resolution.
func (p *Processor) scaleTo(ctx context.Context, in, out string, target ffmpeg.Resolution) error {
	codec := "libx264"
	if p.nvenc {
		codec = ffmpeg.EncoderNVENC
	}

	cmd := ffmpeg.NewCommandBuilder(p.ffmpegPath).
		HideBanner().
		Overwrite().
		HWAccel(p.hwAccel).
		Input(in).
		VideoFilter(fmt.Sprintf("scale=%d:%d", target.Width, target.Height)).
		VideoCodec(codec).
		VideoPreset("fast").
		VideoBitrate("3M").
		AudioCodec("copy").
		Output(out).
		Build()

	return cmd.Run(ctx)
}

func (p *Processor) ensureTempDir() error {
	if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	return nil
}

// writeConcatList writes a concat-demuxer list file. Paths are absolute and
// single quotes are escaped per the demuxer's quoting rules.
func writeConcatList(listPath string, paths []string) error {
	var sb strings.Builder
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", path, err)
		}
		sb.WriteString("file '")
		sb.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		sb.WriteString("'\n")
	}
	return os.WriteFile(listPath, []byte(sb.String()), 0o644)
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return 0, err
	}
	return n, nil
}

// formatSeconds renders a seconds value for an FFmpeg argument.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

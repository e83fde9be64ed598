package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ProbeResult contains the ffprobe output for a local media file.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat is the container-level section of the probe output.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream is one elementary stream of the probed file.
type ProbeStream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"` // video, audio, subtitle, data
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	PixFmt        string `json:"pix_fmt,omitempty"`
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	RFrameRate    string `json:"r_frame_rate,omitempty"`
	Duration      string `json:"duration,omitempty"`
	BitRate       string `json:"bit_rate,omitempty"`
}

// Resolution is a video frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Prober wraps ffprobe for extracting media file information.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new prober instance.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe analyzes a local media file and returns format and stream details.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if p.ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v: %s", p.timeout, path)
		}
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing probe output for %s: %w", path, err)
	}
	return &result, nil
}

// Duration returns the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	d := result.DurationSeconds()
	if d <= 0 {
		return 0, fmt.Errorf("no duration reported for %s", path)
	}
	return d, nil
}

// VideoResolution returns the frame size of the first video stream.
func (p *Prober) VideoResolution(ctx context.Context, path string) (Resolution, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return Resolution{}, err
	}
	stream := result.VideoStream()
	if stream == nil {
		return Resolution{}, fmt.Errorf("no video stream in %s", path)
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return Resolution{}, fmt.Errorf("video stream in %s reports no frame size", path)
	}
	return Resolution{Width: stream.Width, Height: stream.Height}, nil
}

// DurationSeconds parses the format duration, returning 0 when absent.
func (r *ProbeResult) DurationSeconds() float64 {
	if r.Format.Duration == "" {
		return 0
	}
	d, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

// VideoStream returns the first video stream, or nil.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, or nil.
func (r *ProbeResult) AudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// HasAudio reports whether the file contains an audio stream.
func (r *ProbeResult) HasAudio() bool {
	return r.AudioStream() != nil
}

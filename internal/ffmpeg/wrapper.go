package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// stderrTailLines is how many trailing stderr lines a Command retains for
// error reporting. FFmpeg prints the actual failure reason at the end of its
// output, so the tail is what matters.
const stderrTailLines = 40

// CommandBuilder provides a fluent interface for building FFmpeg commands.
type CommandBuilder struct {
	binaryPath string
	logLevel   string
	globalArgs []string
	inputArgs  []string
	input      string
	filterArgs []string
	outputArgs []string
	output     string
	overwrite  bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(binaryPath string) *CommandBuilder {
	return &CommandBuilder{
		binaryPath: binaryPath,
		logLevel:   "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner adds the hide banner flag.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite allows overwriting output files.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// HWAccel sets hardware acceleration for decoding. Applied before the input.
func (b *CommandBuilder) HWAccel(accel string) *CommandBuilder {
	if accel != "" && accel != "none" {
		b.inputArgs = append(b.inputArgs, "-hwaccel", accel)
	}
	return b
}

// InputArgs adds custom arguments placed before the input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input file.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// Seek sets the read start offset. Placed after the input so stream copy
// cuts on exact timestamps rather than keyframes.
func (b *CommandBuilder) Seek(position string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ss", position)
	return b
}

// Duration limits the output duration.
func (b *CommandBuilder) Duration(duration string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-t", duration)
	return b
}

// NoVideo drops all video streams.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// NoAudio drops all audio streams.
func (b *CommandBuilder) NoAudio() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-an")
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// Codec sets a combined codec for all streams (e.g. "copy").
func (b *CommandBuilder) Codec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c", codec)
	return b
}

// VideoBitrate sets the video bitrate.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// VideoFilter adds a video filter. Multiple filters are joined with commas.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// AudioChannels sets the number of audio channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", fmt.Sprintf("%d", channels))
	return b
}

// AudioSampleRate sets the audio sample rate in Hz.
func (b *CommandBuilder) AudioSampleRate(rate int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", fmt.Sprintf("%d", rate))
	return b
}

// OutputArgs adds custom arguments placed before the output file.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output file.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build constructs the final command arguments.
func (b *CommandBuilder) Build() *Command {
	args := []string{}

	if b.logLevel != "" {
		args = append(args, "-loglevel", b.logLevel)
	}
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	if b.input != "" {
		args = append(args, "-i", b.input)
	}
	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}

	return &Command{
		binaryPath: b.binaryPath,
		args:       args,
	}
}

// Command represents a single batch FFmpeg invocation.
type Command struct {
	binaryPath string
	args       []string

	mu         sync.Mutex
	stderrTail []string
}

// Args returns the assembled argument list.
func (c *Command) Args() []string {
	return c.args
}

// String returns the full command line for logging.
func (c *Command) String() string {
	return c.binaryPath + " " + strings.Join(c.args, " ")
}

// Run executes the command and waits for completion. On failure the returned
// error carries the tail of FFmpeg's stderr, which is where the actual
// failure reason lands.
func (c *Command) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.binaryPath, c.args...)

	tail := &lineTail{limit: stderrTailLines}
	cmd.Stderr = tail

	err := cmd.Run()

	c.mu.Lock()
	c.stderrTail = tail.Lines()
	c.mu.Unlock()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		if tailStr := tail.String(); tailStr != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, tailStr)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// StderrTail returns the captured trailing stderr lines from the last run.
func (c *Command) StderrTail() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stderrTail...)
}

// lineTail is an io.Writer that retains only the last limit lines written.
type lineTail struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial strings.Builder
}

func (t *lineTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range p {
		if b == '\n' || b == '\r' {
			if t.partial.Len() > 0 {
				t.push(t.partial.String())
				t.partial.Reset()
			}
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *lineTail) push(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

// Lines returns the retained lines, flushing any unterminated partial line.
func (t *lineTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := append([]string(nil), t.lines...)
	if t.partial.Len() > 0 {
		lines = append(lines, t.partial.String())
		if len(lines) > t.limit {
			lines = lines[len(lines)-t.limit:]
		}
	}
	return lines
}

// String joins the retained lines for inclusion in error messages.
func (t *lineTail) String() string {
	return strings.Join(t.Lines(), "; ")
}

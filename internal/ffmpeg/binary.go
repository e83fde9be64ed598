// Package ffmpeg provides FFmpeg/FFprobe binary detection and a thin command
// layer for the orchestrator's media steps: audio extraction, slicing,
// concatenation, scaling, and probing. All invocations are bounded batch runs
// on local files.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/surajit20072003/heygemd/internal/util"
)

// EncoderNVENC is the NVIDIA hardware H.264 encoder used for final merges.
const EncoderNVENC = "h264_nvenc"

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	FFprobePath  string   `json:"ffprobe_path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
	HWAccels     []string `json:"hw_accels,omitempty"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration

	// Explicit paths from configuration; empty means auto-detect.
	ffmpegPath  string
	ffprobePath string
}

// NewBinaryDetector creates a new binary detector.
func NewBinaryDetector() *BinaryDetector {
	return &BinaryDetector{
		cacheTTL: 5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// WithPaths pins the ffmpeg and ffprobe binaries to explicit paths, skipping
// auto-detection for whichever is non-empty.
func (d *BinaryDetector) WithPaths(ffmpegPath, ffprobePath string) *BinaryDetector {
	d.ffmpegPath = ffmpegPath
	d.ffprobePath = ffprobePath
	return d
}

// Detect returns the binaries and their capabilities, re-probing once the
// cached result outlives the TTL.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	info, ok := d.cached()
	d.mu.RUnlock()
	if ok {
		return info, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.cached(); ok {
		return info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// cached returns the current entry while it is fresh. Callers hold d.mu.
func (d *BinaryDetector) cached() (*BinaryInfo, bool) {
	if d.info == nil || time.Since(d.lastDetected) >= d.cacheTTL {
		return nil, false
	}
	return d.info, true
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

// detect performs the actual binary detection.
func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	// ffmpeg is required. Search order: explicit config path ->
	// HEYGEMD_FFMPEG_BINARY env var -> ./ffmpeg -> PATH.
	ffmpegPath := d.ffmpegPath
	if ffmpegPath == "" {
		var err error
		ffmpegPath, err = util.FindBinary("ffmpeg", "HEYGEMD_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is optional; without it duration and resolution probes fail at
	// call time with a clear error.
	ffprobePath := d.ffprobePath
	if ffprobePath == "" {
		if found, err := util.FindBinary("ffprobe", "HEYGEMD_FFPROBE_BINARY"); err == nil {
			ffprobePath = found
		}
	}
	info.FFprobePath = ffprobePath

	version, err := d.getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version.full
	info.MajorVersion = version.major
	info.MinorVersion = version.minor

	if encoders, err := d.getEncoders(ctx, ffmpegPath); err == nil {
		info.Encoders = encoders
	}
	if accels, err := d.getHWAccels(ctx, ffmpegPath); err == nil {
		info.HWAccels = accels
	}

	return info, nil
}

// versionInfo holds parsed version information.
type versionInfo struct {
	full  string
	major int
	minor int
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// getVersion parses the banner line of `ffmpeg -version`.
func (d *BinaryDetector) getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, err
	}

	// "ffmpeg version 6.0 Copyright..." or "ffmpeg version n6.0-2-g...".
	banner, _, _ := strings.Cut(string(output), "\n")
	fields := strings.Fields(banner)
	if len(fields) < 3 || fields[0] != "ffmpeg" || fields[1] != "version" {
		return nil, fmt.Errorf("unrecognized ffmpeg version banner: %q", banner)
	}

	info := &versionInfo{full: fields[2]}
	if m := versionRegex.FindStringSubmatch(fields[2]); len(m) == 3 {
		info.major, _ = strconv.Atoi(m[1])
		info.minor, _ = strconv.Atoi(m[2])
	}
	return info, nil
}

// getEncoders lists the encoders ffmpeg was built with. Entries follow a
// "------" rule and look like " V....D libx264  H.264 ...": a flags column,
// the encoder name, then free-form description.
func (d *BinaryDetector) getEncoders(ctx context.Context, ffmpegPath string) ([]string, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output()
	if err != nil {
		return nil, err
	}

	var encoders []string
	inList := false
	for _, line := range strings.Split(string(output), "\n") {
		if !inList {
			inList = strings.Contains(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			encoders = append(encoders, fields[1])
		}
	}
	return encoders, nil
}

// getHWAccels retrieves the hardware acceleration methods ffmpeg was built
// with. Presence in the list does not prove a device exists; encode attempts
// fall back when the hardware is missing.
func (d *BinaryDetector) getHWAccels(ctx context.Context, ffmpegPath string) ([]string, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-hwaccels", "-hide_banner").Output()
	if err != nil {
		return nil, err
	}

	var accels []string
	inList := false
	for _, line := range strings.Split(string(output), "\n") {
		switch line = strings.TrimSpace(line); {
		case line == "Hardware acceleration methods:":
			inList = true
		case inList && line != "":
			accels = append(accels, line)
		}
	}
	return accels, nil
}

// HasEncoder returns true if the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasHWAccel returns true if the acceleration method is compiled in.
func (info *BinaryInfo) HasHWAccel(name string) bool {
	return slices.Contains(info.HWAccels, name)
}

// SupportsNVENC returns true if hardware H.264 encoding is available.
func (info *BinaryInfo) SupportsNVENC() bool {
	return info.HasEncoder(EncoderNVENC)
}

// JSON returns the binary info as JSON string.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion > major {
		return true
	}
	if info.MajorVersion == major && info.MinorVersion >= minor {
		return true
	}
	return false
}

package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/surajit20072003/heygemd/internal/ffmpeg"
	"github.com/surajit20072003/heygemd/internal/version"
)

// FFmpegInfoProvider provides FFmpeg binary information.
type FFmpegInfoProvider interface {
	Detect(ctx context.Context) (*ffmpeg.BinaryInfo, error)
}

// SystemHandler handles build and system information endpoints.
type SystemHandler struct {
	ffmpegProvider FFmpegInfoProvider
}

// NewSystemHandler creates a new system handler. ffmpegProvider may be nil
// when ffmpeg detection is disabled.
func NewSystemHandler(ffmpegProvider FFmpegInfoProvider) *SystemHandler {
	return &SystemHandler{
		ffmpegProvider: ffmpegProvider,
	}
}

// VersionInput is the input for the version endpoint.
type VersionInput struct{}

// VersionOutput is the output for the version endpoint.
type VersionOutput struct {
	Body VersionResponse
}

// FFmpegInfoInput is the input for the FFmpeg info endpoint.
type FFmpegInfoInput struct{}

// FFmpegInfoOutput is the output for the FFmpeg info endpoint.
type FFmpegInfoOutput struct {
	Body FFmpegInfoResponse
}

// FFmpegInfoResponse represents the FFmpeg capabilities response.
type FFmpegInfoResponse struct {
	Available    bool     `json:"available" doc:"Whether FFmpeg is available"`
	FFmpegPath   string   `json:"ffmpeg_path,omitempty" doc:"Path to FFmpeg binary"`
	FFprobePath  string   `json:"ffprobe_path,omitempty" doc:"Path to FFprobe binary"`
	Version      string   `json:"version,omitempty" doc:"FFmpeg version string"`
	MajorVersion int      `json:"major_version,omitempty" doc:"Major version number"`
	MinorVersion int      `json:"minor_version,omitempty" doc:"Minor version number"`
	Encoders     []string `json:"encoders,omitempty" doc:"Available encoders"`
	HWAccels     []string `json:"hw_accels,omitempty" doc:"Hardware acceleration methods"`
	NVENC        bool     `json:"nvenc" doc:"Whether hardware H.264 encoding is available"`
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/v1/version",
		Summary:     "Get build information",
		Description: "Returns the version, commit, build date, and platform of the running binary",
		Tags:        []string{"System"},
	}, h.GetVersion)

	huma.Register(api, huma.Operation{
		OperationID: "getFFmpegInfo",
		Method:      "GET",
		Path:        "/api/v1/system/ffmpeg",
		Summary:     "Get FFmpeg capabilities",
		Description: "Returns the detected FFmpeg installation including version, encoders, and hardware acceleration",
		Tags:        []string{"System"},
	}, h.GetFFmpegInfo)
}

// GetVersion returns build information.
func (h *SystemHandler) GetVersion(ctx context.Context, input *VersionInput) (*VersionOutput, error) {
	info := version.GetInfo()
	return &VersionOutput{
		Body: VersionResponse{
			Version:   info.Version,
			Commit:    info.Commit,
			Date:      info.Date,
			GoVersion: info.GoVersion,
			Platform:  info.Platform,
		},
	}, nil
}

// GetFFmpegInfo returns FFmpeg capabilities. The merge step prefers
// h264_nvenc, so nvenc availability is surfaced explicitly.
func (h *SystemHandler) GetFFmpegInfo(ctx context.Context, input *FFmpegInfoInput) (*FFmpegInfoOutput, error) {
	if h.ffmpegProvider == nil {
		return &FFmpegInfoOutput{Body: FFmpegInfoResponse{Available: false}}, nil
	}

	info, err := h.ffmpegProvider.Detect(ctx)
	if err != nil {
		return &FFmpegInfoOutput{Body: FFmpegInfoResponse{Available: false}}, nil
	}

	return &FFmpegInfoOutput{
		Body: FFmpegInfoResponse{
			Available:    true,
			FFmpegPath:   info.FFmpegPath,
			FFprobePath:  info.FFprobePath,
			Version:      info.Version,
			MajorVersion: info.MajorVersion,
			MinorVersion: info.MinorVersion,
			Encoders:     info.Encoders,
			HWAccels:     info.HWAccels,
			NVENC:        info.SupportsNVENC(),
		},
	}, nil
}

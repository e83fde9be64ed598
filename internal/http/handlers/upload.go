package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/surajit20072003/heygemd/internal/config"
	"github.com/surajit20072003/heygemd/internal/models"
	"github.com/surajit20072003/heygemd/pkg/format"
)

// allowedUploadExtensions is the reference-media allow-list: container
// formats the staging pipeline and ffmpeg handle.
var allowedUploadExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
	".wav": true,
	".mp3": true,
	".m4a": true,
}

// UploadHandler handles reference media intake.
type UploadHandler struct {
	uploadDir string
	maxSize   int64
	logger    *slog.Logger
}

// NewUploadHandler creates an upload handler storing into the configured
// upload directory.
func NewUploadHandler(storage config.StorageConfig, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{
		uploadDir: storage.UploadPath(),
		maxSize:   int64(storage.MaxUploadSize),
		logger:    logger,
	}
}

// Register registers the upload route with the API.
func (h *UploadHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "uploadMedia",
		Method:        "POST",
		Path:          "/api/v1/uploads",
		Summary:       "Upload reference media",
		Description:   "Stores a reference video or audio file and returns its host path for use in task and avatar requests",
		Tags:          []string{"Uploads"},
		DefaultStatus: 201,
		RequestBody:   &huma.RequestBody{Content: map[string]*huma.MediaType{"multipart/form-data": {}}},
	}, h.Upload)
}

// UploadInput is the input for uploading media.
type UploadInput struct {
	RawBody multipart.Form
}

// UploadOutput is the output for uploading media.
type UploadOutput struct {
	Body UploadResponse
}

// Upload stores one uploaded file under a collision-free name.
func (h *UploadHandler) Upload(ctx context.Context, input *UploadInput) (*UploadOutput, error) {
	files := input.RawBody.File["file"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("no file provided")
	}

	fileHeader := files[0]

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedUploadExtensions[ext] {
		return nil, huma.Error400BadRequest(
			fmt.Sprintf("unsupported file type %q: expected mp4, avi, mov, mkv, wav, mp3, or m4a", ext))
	}

	if h.maxSize > 0 && fileHeader.Size > h.maxSize {
		return nil, huma.NewError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d byte upload limit", h.maxSize))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, huma.Error400BadRequest("failed to open uploaded file")
	}
	defer src.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return nil, huma.Error500InternalServerError("failed to prepare upload directory", err)
	}

	// ULID prefix keeps same-named uploads from clobbering each other
	// while the original name stays recognizable.
	stored := fmt.Sprintf("%s_%s", strings.ToLower(models.NewULID().String()), sanitizeFilename(fileHeader.Filename))
	destPath := filepath.Join(h.uploadDir, stored)

	dest, err := os.Create(destPath)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to store upload", err)
	}
	defer dest.Close()

	written, err := io.Copy(dest, src)
	if err != nil {
		os.Remove(destPath)
		return nil, huma.Error500InternalServerError("failed to store upload", err)
	}

	h.logger.Info("media uploaded",
		slog.String("path", destPath),
		slog.String("size", format.Bytes(written)))

	return &UploadOutput{
		Body: UploadResponse{
			Path:     destPath,
			Filename: fileHeader.Filename,
			Size:     written,
		},
	}, nil
}

// sanitizeFilename strips path components and characters that do not
// belong in a stored filename.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || out == "." {
		out = "upload"
	}
	return out
}

package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surajit20072003/heygemd/internal/config"
)

func newUploadHandler(t *testing.T, maxSize int64) (*UploadHandler, string) {
	t.Helper()
	storage := config.StorageConfig{
		BaseDir:       t.TempDir(),
		UploadDir:     "uploads",
		MaxUploadSize: config.ByteSize(maxSize),
	}
	return NewUploadHandler(storage, nil), storage.UploadPath()
}

// uploadForm builds a parsed multipart form carrying one file field, the
// same shape Huma hands the handler.
func uploadForm(t *testing.T, filename string, content []byte) multipart.Form {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return *form
}

func TestUploadHandler_Upload(t *testing.T) {
	handler, uploadDir := newUploadHandler(t, 0)
	ctx := context.Background()

	content := []byte("reference video bytes")
	resp, err := handler.Upload(ctx, &UploadInput{RawBody: uploadForm(t, "face.mp4", content)})
	require.NoError(t, err)

	assert.Equal(t, "face.mp4", resp.Body.Filename)
	assert.Equal(t, int64(len(content)), resp.Body.Size)
	assert.True(t, strings.HasPrefix(resp.Body.Path, uploadDir))
	assert.True(t, strings.HasSuffix(resp.Body.Path, "face.mp4"))

	stored, err := os.ReadFile(resp.Body.Path)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}

func TestUploadHandler_Upload_NameCollision(t *testing.T) {
	handler, _ := newUploadHandler(t, 0)
	ctx := context.Background()

	first, err := handler.Upload(ctx, &UploadInput{RawBody: uploadForm(t, "voice.wav", []byte("one"))})
	require.NoError(t, err)
	second, err := handler.Upload(ctx, &UploadInput{RawBody: uploadForm(t, "voice.wav", []byte("two"))})
	require.NoError(t, err)

	// Same client filename, distinct stored paths.
	assert.NotEqual(t, first.Body.Path, second.Body.Path)
	assert.FileExists(t, first.Body.Path)
	assert.FileExists(t, second.Body.Path)
}

func TestUploadHandler_Upload_SanitizesFilename(t *testing.T) {
	handler, _ := newUploadHandler(t, 0)

	resp, err := handler.Upload(context.Background(), &UploadInput{
		RawBody: uploadForm(t, "my voice (final).mp3", []byte("audio")),
	})
	require.NoError(t, err)

	base := filepath.Base(resp.Body.Path)
	assert.NotContains(t, base, " ")
	assert.NotContains(t, base, "(")
	assert.True(t, strings.HasSuffix(base, ".mp3"))
}

func TestUploadHandler_Upload_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("no file", func(t *testing.T) {
		handler, _ := newUploadHandler(t, 0)
		_, err := handler.Upload(ctx, &UploadInput{RawBody: multipart.Form{}})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("disallowed extension", func(t *testing.T) {
		handler, _ := newUploadHandler(t, 0)
		_, err := handler.Upload(ctx, &UploadInput{
			RawBody: uploadForm(t, "payload.exe", []byte("nope")),
		})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("missing extension", func(t *testing.T) {
		handler, _ := newUploadHandler(t, 0)
		_, err := handler.Upload(ctx, &UploadInput{
			RawBody: uploadForm(t, "noext", []byte("nope")),
		})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("over size limit", func(t *testing.T) {
		handler, _ := newUploadHandler(t, 8)
		_, err := handler.Upload(ctx, &UploadInput{
			RawBody: uploadForm(t, "big.mp4", bytes.Repeat([]byte("x"), 64)),
		})
		requireStatus(t, err, http.StatusRequestEntityTooLarge)
	})
}

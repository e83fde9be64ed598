package testutil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleWAV(t *testing.T) {
	data := SampleWAV(time.Second)

	require.GreaterOrEqual(t, len(data), 44, "WAV should have a full header")
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, "data", string(data[36:40]))

	// One second at 16 kHz mono 16-bit is 32000 data bytes.
	dataLen := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(32000), dataLen)
	assert.Equal(t, 44+int(dataLen), len(data))

	riffLen := binary.LittleEndian.Uint32(data[4:8])
	assert.Equal(t, uint32(36)+dataLen, riffLen)

	format := binary.LittleEndian.Uint16(data[20:22])
	assert.Equal(t, uint16(1), format, "Should be PCM")
	channels := binary.LittleEndian.Uint16(data[22:24])
	assert.Equal(t, uint16(1), channels)
	rate := binary.LittleEndian.Uint32(data[24:28])
	assert.Equal(t, uint32(16000), rate)
}

func TestSampleWAV_ZeroDuration(t *testing.T) {
	data := SampleWAV(0)

	// Never headerless: zero duration still carries one frame.
	dataLen := binary.LittleEndian.Uint32(data[40:44])
	assert.Equal(t, uint32(wavBlockAlign), dataLen)
}

func TestSampleMP4(t *testing.T) {
	data := SampleMP4()

	require.GreaterOrEqual(t, len(data), 8)
	assert.Equal(t, "ftyp", string(data[4:8]), "MP4 magic should be at offset 4")
	assert.Equal(t, "isom", string(data[8:12]), "Major brand should be isom")

	// Walk the boxes: sizes must chain exactly to the end.
	var types []string
	for off := 0; off < len(data); {
		require.LessOrEqual(t, off+8, len(data), "Truncated box header at %d", off)
		size := int(binary.BigEndian.Uint32(data[off : off+4]))
		require.GreaterOrEqual(t, size, 8, "Box size below header size at %d", off)
		require.LessOrEqual(t, off+size, len(data), "Box overruns buffer at %d", off)
		types = append(types, string(data[off+4:off+8]))
		off += size
	}
	assert.Equal(t, []string{"ftyp", "free", "mdat"}, types)
}

func TestWriteSampleMedia(t *testing.T) {
	dir := t.TempDir()

	wav := filepath.Join(dir, "voice.wav")
	require.NoError(t, WriteSampleWAV(wav, 50*time.Millisecond))
	data, err := os.ReadFile(wav)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[0:4]))

	mp4 := filepath.Join(dir, "face.mp4")
	require.NoError(t, WriteSampleMP4(mp4))
	data, err = os.ReadFile(mp4)
	require.NoError(t, err)
	assert.Equal(t, "ftyp", string(data[4:8]))
}

package testutil

import (
	"bytes"
	"encoding/binary"
	"os"
	"time"
)

// Generated WAVs are mono 16 kHz 16-bit PCM.
const (
	wavSampleRate    = 16000
	wavChannels      = 1
	wavBitsPerSample = 16
	wavBlockAlign    = wavChannels * wavBitsPerSample / 8
)

// SampleWAV returns a valid mono 16 kHz PCM WAV holding d of silence.
// Zero or negative durations produce a single frame so the file is never
// headerless.
func SampleWAV(d time.Duration) []byte {
	frames := int(float64(wavSampleRate) * d.Seconds())
	if frames < 1 {
		frames = 1
	}
	dataLen := frames * wavBlockAlign

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(wavChannels))
	binary.Write(buf, binary.LittleEndian, uint32(wavSampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(wavSampleRate*wavBlockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(wavBlockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))

	return buf.Bytes()
}

// SampleMP4 returns bytes carrying the MP4 container magic: an isom ftyp
// box followed by free and mdat boxes. Structurally valid for sniffers,
// but there is no decodable stream inside.
func SampleMP4() []byte {
	ftyp := make([]byte, 0, 20)
	ftyp = append(ftyp, "isom"...)
	ftyp = append(ftyp, 0x00, 0x00, 0x02, 0x00)
	ftyp = append(ftyp, "isom"...)
	ftyp = append(ftyp, "iso2"...)
	ftyp = append(ftyp, "mp41"...)

	var out []byte
	out = appendBox(out, "ftyp", ftyp)
	out = appendBox(out, "free", nil)
	out = appendBox(out, "mdat", make([]byte, 64))
	return out
}

func appendBox(b []byte, boxType string, payload []byte) []byte {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(8+len(payload)))
	b = append(b, size[:]...)
	b = append(b, boxType...)
	return append(b, payload...)
}

// WriteSampleWAV writes a sample WAV of the given duration to path.
func WriteSampleWAV(path string, d time.Duration) error {
	return os.WriteFile(path, SampleWAV(d), 0o644)
}

// WriteSampleMP4 writes a sample MP4 to path.
func WriteSampleMP4(path string) error {
	return os.WriteFile(path, SampleMP4(), 0o644)
}

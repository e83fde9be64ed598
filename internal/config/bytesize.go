package config

import (
	"encoding/json"

	"github.com/surajit20072003/heygemd/pkg/bytesize"
)

// ByteSize is a configuration size limit parsed from human-readable strings
// like "100KB" or "1.5 GB". Plain numbers are taken as bytes. Parsing lives
// in pkg/bytesize; this type only carries the config-file decoding hooks.
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler so YAML and env values
// decode through bytesize.Parse.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := bytesize.Parse(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// UnmarshalJSON accepts either a quoted size string or a bare byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String renders the size in the largest whole-ish unit.
func (b ByteSize) String() string {
	return bytesize.Format(bytesize.Size(b))
}

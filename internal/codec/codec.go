// Package codec encodes graph fragments and results for the wire: JSON,
// optionally framed in zstd.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic opens every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// zstdEncoder and zstdDecoder are safe for concurrent use and shared by
// every Codec.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Codec marshals values as JSON. When Compress is set, payloads are
// wrapped in a zstd frame. Unmarshal accepts either form.
type Codec struct {
	Compress bool
}

// JSON is the uncompressed codec.
var JSON = Codec{}

// Zstd is the compressed codec.
var Zstd = Codec{Compress: true}

// Marshal encodes v.
func (c Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if !c.Compress {
		return data, nil
	}
	return Frame(data), nil
}

// Unmarshal decodes data into v, inflating it first if it is a zstd frame.
func (c Codec) Unmarshal(data []byte, v any) error {
	data, err := Unframe(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ContentEncoding returns the HTTP Content-Encoding token for c, or "".
func (c Codec) ContentEncoding() string {
	if c.Compress {
		return "zstd"
	}
	return ""
}

// Frame wraps raw bytes in a zstd frame.
func Frame(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// Unframe inflates data if it is a zstd frame and returns it unchanged
// otherwise.
func Unframe(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return raw, nil
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

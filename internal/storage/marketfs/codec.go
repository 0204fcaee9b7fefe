package marketfs

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the zstd frame header (RFC 8878).
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// EncodeAll/DecodeAll are safe for concurrent use on shared instances.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func compress(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/3))
}

// isCompressed detects zstd by magic bytes or the .zst extension only.
func isCompressed(path string, raw []byte) bool {
	return bytes.HasPrefix(raw, zstdMagic) || strings.HasSuffix(path, ".zst")
}

// decode returns the JSON payload of a stored file.
func decode(path string, raw []byte) ([]byte, error) {
	if !isCompressed(path, raw) {
		return raw, nil
	}
	out, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode %s: %w", path, err)
	}
	return out, nil
}

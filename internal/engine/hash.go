package engine

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/opendataspace/commons/internal/stream"
)

// HashStream computes the hex BLAKE3 digest of s from offset 0 to its end,
// leaving s positioned at the end.
func HashStream(s stream.Stream) (string, error) {
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind for hash: %w", err)
	}
	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, readerOnly{s}, buf); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readerOnly hides any WriterTo on the wrapped reader so CopyBuffer uses buf.
type readerOnly struct{ io.Reader }

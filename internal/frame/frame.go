// Package frame implements the length-prefixed packet codec every agent
// connection is built on: an 8-byte little-endian length prefix followed by
// exactly that many bytes of payload. It knows nothing about what the
// payload means — internal/wire owns packet semantics.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxPayload is the reference cap on prefix-declared payload size.
const DefaultMaxPayload = 1 << 20 // 1,048,576 bytes

var (
	// ErrTooLarge is returned by Read when the declared length exceeds the cap.
	ErrTooLarge = errors.New("frame: declared length exceeds cap")
)

// Reader reads length-prefixed frames off r. Not safe for concurrent use by
// more than one goroutine; callers serialize their own reads (internal/session
// owns exactly one reader at a time).
type Reader struct {
	r          io.Reader
	maxPayload int64
}

// NewReader wraps r with the reference 1 MiB cap.
func NewReader(r io.Reader) *Reader { return NewReaderSize(r, DefaultMaxPayload) }

// NewReaderSize wraps r with an explicit cap, for tests that want to exercise
// ErrTooLarge without allocating a megabyte.
func NewReaderSize(r io.Reader, maxPayload int64) *Reader {
	return &Reader{r: r, maxPayload: maxPayload}
}

// ReadFrame reads one frame and returns its raw payload.
func (fr *Reader) ReadFrame() ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("frame: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if int64(n) > fr.maxPayload {
		return nil, ErrTooLarge
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, fmt.Errorf("frame: read payload: %w", err)
		}
	}
	return payload, nil
}

// Writer writes length-prefixed frames to w. Not safe for concurrent use by
// more than one goroutine; internal/session serializes writes with its own
// mutex, separate from the reader's.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteFrame writes the prefix followed by payload as a single logical
// frame. No partial writes are surfaced to the caller: either the whole
// frame lands or an error is returned.
func (fw *Writer) WriteFrame(payload []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("frame: write length prefix: %w", err)
	}
	if len(payload) > 0 {
		if _, err := fw.w.Write(payload); err != nil {
			return fmt.Errorf("frame: write payload: %w", err)
		}
	}
	return nil
}

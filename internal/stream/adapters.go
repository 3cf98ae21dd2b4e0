package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// File adapts an *os.File to Stream.
type File struct {
	*os.File
}

// NewFile wraps f.
func NewFile(f *os.File) *File { return &File{File: f} }

// Length returns the current file size.
func (f *File) Length() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("length of %s: %w", f.Name(), errors.ErrUnsupported)
	}
	return fi.Size(), nil
}

// SetLength truncates or extends the file to n bytes.
func (f *File) SetLength(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidArgument, n)
	}
	return f.Truncate(n)
}

// Buffer is an in-memory seekable Stream. Writes past the end grow it.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	pos    int64
	closed bool
}

// NewBuffer returns a Buffer holding a copy of b, positioned at 0.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), b...)}
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		b.growLocked(end)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += int64(n)
	return n, nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = b.pos
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidArgument, pos)
	}
	b.pos = pos
	return pos, nil
}

func (b *Buffer) Length() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	return int64(len(b.data)), nil
}

func (b *Buffer) SetLength(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidArgument, n)
	}
	if n > int64(len(b.data)) {
		b.growLocked(n)
	} else {
		b.data = b.data[:n]
	}
	return nil
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// growLocked extends the buffer to n bytes. The new tail always reads as
// zeros, even where capacity left over from a truncation is reused.
func (b *Buffer) growLocked(n int64) {
	if n <= int64(cap(b.data)) {
		old := len(b.data)
		b.data = b.data[:n]
		clear(b.data[old:])
		return
	}
	grown := make([]byte, n, max(n, 2*int64(cap(b.data))))
	copy(grown, b.data)
	b.data = grown
}

// oneWay adapts a plain reader or writer. The missing direction, seeking and
// length all report errors.ErrUnsupported.
type oneWay struct {
	r io.Reader
	w io.Writer
	c io.Closer
}

// NewReader adapts a non-seekable reader to Stream. Close closes r if it is
// an io.Closer.
func NewReader(r io.Reader) Stream {
	c, _ := r.(io.Closer)
	return &oneWay{r: r, c: c}
}

// NewWriter adapts a non-seekable writer to Stream. Close closes w if it is
// an io.Closer.
func NewWriter(w io.Writer) Stream {
	c, _ := w.(io.Closer)
	return &oneWay{w: w, c: c}
}

func (o *oneWay) Read(p []byte) (int, error) {
	if o.r == nil {
		return 0, fmt.Errorf("read: %w", errors.ErrUnsupported)
	}
	return o.r.Read(p)
}

func (o *oneWay) Write(p []byte) (int, error) {
	if o.w == nil {
		return 0, fmt.Errorf("write: %w", errors.ErrUnsupported)
	}
	return o.w.Write(p)
}

func (*oneWay) Seek(int64, int) (int64, error) {
	return 0, fmt.Errorf("seek: %w", errors.ErrUnsupported)
}

func (*oneWay) Length() (int64, error) {
	return 0, fmt.Errorf("length: %w", errors.ErrUnsupported)
}

func (*oneWay) SetLength(int64) error {
	return fmt.Errorf("set length: %w", errors.ErrUnsupported)
}

func (o *oneWay) Close() error {
	if o.c == nil {
		return nil
	}
	return o.c.Close()
}

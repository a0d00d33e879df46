//go:build unix

// Package stream provides buffered byte-stream adapters over raw file
// descriptors, as handed out by a pipe. A Writer buffers outgoing bytes
// until flushed; a Reader buffers incoming bytes and supports pushing
// exactly one consumed byte back onto the stream.
package stream

import (
	"bufio"
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrNoPushback is returned by Reader.Unread when no byte is available to
// push back: either nothing has been consumed yet, or the single pushback
// slot is already occupied.
var ErrNoPushback = errors.New("stream: no byte available to push back")

const bufSize = 4096

// checkFD verifies that fd refers to an open descriptor, so that adapter
// construction fails up front instead of on first use.
func checkFD(fd int) error {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	return nil
}

// Writer is a buffered write adapter. It owns its descriptor and closes it
// on Close.
type Writer struct {
	f  *os.File
	bw *bufio.Writer
}

// NewWriter takes ownership of fd and returns a buffered writer over it.
func NewWriter(fd int) (*Writer, error) {
	if err := checkFD(fd); err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "|w")
	return &Writer{f: f, bw: bufio.NewWriterSize(f, bufSize)}, nil
}

// Write buffers p. Bytes reach the descriptor when the buffer fills or on
// Flush; a short write at the descriptor is retried, not reported.
func (w *Writer) Write(p []byte) (int, error) { return w.bw.Write(p) }

func (w *Writer) WriteString(s string) (int, error) { return w.bw.WriteString(s) }

// Flush forces buffered bytes out through the descriptor.
func (w *Writer) Flush() error { return w.bw.Flush() }

// Close flushes buffered bytes and closes the descriptor. For a pipe this
// is how end-of-input is signaled to the reader side.
func (w *Writer) Close() error {
	ferr := w.bw.Flush()
	cerr := w.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Reader is a buffered read adapter with one byte of pushback capacity.
// It owns its descriptor and closes it on Close.
type Reader struct {
	f   *os.File
	buf []byte
	r   int // next byte to consume
	w   int // one past last valid byte
	// last holds the most recently consumed byte, or -1 when pushback is
	// unavailable (nothing consumed yet, or Unread already used the slot).
	last int
}

// NewReader takes ownership of fd and returns a buffered reader over it.
func NewReader(fd int) (*Reader, error) {
	if err := checkFD(fd); err != nil {
		return nil, err
	}
	return &Reader{
		f:    os.NewFile(uintptr(fd), "|r"),
		buf:  make([]byte, bufSize),
		last: -1,
	}, nil
}

// fill blocks until at least one byte is buffered or the stream ends.
// The first buffer slot stays reserved so Unread always has room.
func (r *Reader) fill() error {
	if r.r < r.w {
		return nil
	}
	r.r, r.w = 1, 1
	n, err := r.f.Read(r.buf[1:])
	r.w += n
	if n > 0 {
		return nil
	}
	return err
}

// Read fills p from the stream. It returns fewer than len(p) bytes only at
// end of input; io.EOF is returned only when no bytes were read at all.
func (r *Reader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if err := r.fill(); err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		n := copy(p[total:], r.buf[r.r:r.w])
		r.r += n
		total += n
		r.last = int(p[total-1])
	}
	return total, nil
}

// ReadByte consumes and returns the next byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	b := r.buf[r.r]
	r.r++
	r.last = int(b)
	return b, nil
}

// Peek returns the next byte without consuming it. Peek does not disturb
// pushback state.
func (r *Reader) Peek() (byte, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	return r.buf[r.r], nil
}

// Unread pushes b back onto the stream so the next read observes it before
// any further input. Only one byte may be pushed back, and only after a
// consuming read; otherwise ErrNoPushback is returned.
func (r *Reader) Unread(b byte) error {
	if r.last < 0 {
		return ErrNoPushback
	}
	if r.r > 0 {
		r.r--
	} else {
		r.r, r.w = 0, 1
	}
	r.buf[r.r] = b
	r.last = -1
	return nil
}

// Buffered returns the number of bytes that can be read without touching
// the descriptor.
func (r *Reader) Buffered() int { return r.w - r.r }

// Close closes the descriptor. Buffered but unread bytes are discarded.
func (r *Reader) Close() error { return r.f.Close() }

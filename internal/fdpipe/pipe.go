//go:build unix

// Package fdpipe manages the short-lived descriptor pairs used to wire a
// child's standard streams. A Pipe exists only between creation and the
// moment both ends have been handed off or closed.
package fdpipe

import (
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Pipe is a read/write descriptor pair. Ends are owned by the Pipe until
// detached; Close releases whatever is still owned.
type Pipe struct {
	rd, wr int
}

// New creates a pipe with both ends marked close-on-exec, so descriptors
// never leak into a child except through explicit spawn-time wiring.
func New() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	p := &Pipe{rd: fds[0], wr: fds[1]}
	for _, fd := range fds {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
			p.Close()
			return nil, os.NewSyscallError("fcntl", err)
		}
	}
	return p, nil
}

// ReadEnd returns the read descriptor without transferring ownership.
// Used to place the end into a child's descriptor table at spawn time.
func (p *Pipe) ReadEnd() int { return p.rd }

// WriteEnd returns the write descriptor without transferring ownership.
func (p *Pipe) WriteEnd() int { return p.wr }

// DetachReader closes the write end and transfers ownership of the read
// end to the caller.
func (p *Pipe) DetachReader() int {
	if p.wr >= 0 {
		unix.Close(p.wr)
		p.wr = -1
	}
	fd := p.rd
	p.rd = -1
	return fd
}

// DetachWriter closes the read end and transfers ownership of the write
// end to the caller.
func (p *Pipe) DetachWriter() int {
	if p.rd >= 0 {
		unix.Close(p.rd)
		p.rd = -1
	}
	fd := p.wr
	p.wr = -1
	return fd
}

// Close releases any ends still owned by the pipe. It is safe to call at
// any point and on any error path; close failures are reported but never
// interrupt teardown.
func (p *Pipe) Close() error {
	var err error
	if p.rd >= 0 {
		err = multierr.Append(err, unix.Close(p.rd))
		p.rd = -1
	}
	if p.wr >= 0 {
		err = multierr.Append(err, unix.Close(p.wr))
		p.wr = -1
	}
	return err
}

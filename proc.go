//go:build unix

package proc

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/dimitry-ishenko-cpp/proc/stream"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	// ErrNotJoinable is returned by operations that need a live child
	// when the handle no longer refers to one. It is distinct from OS
	// errors: it means "nothing to do", not "the OS refused".
	ErrNotJoinable = errors.New("proc: process is not joinable")

	// ErrDeadlock is returned when a process attempts to join itself.
	ErrDeadlock = errors.New("proc: join would deadlock on self")
)

// Process is a handle to a spawned child, with buffered streams attached
// to the child's stdin, stdout and stderr.
//
// A Process is a unique handle to an OS process and must not be copied.
// It is not safe for concurrent use; callers serialize operations on the
// same handle. Blocking operations block only the calling goroutine.
//
// A Process abandoned to the garbage collector while still joinable is a
// fatal usage error and crashes the program: silently dropping the handle
// would leak either an OS process slot or an unretrieved exit status.
// Call Join (or a successful timed join) or Detach first.
type Process struct {
	log *zap.SugaredLogger

	id     ID
	state  State
	code   int
	signal unix.Signal

	// Stdin writes to the child's standard input; close it to signal
	// end of input. Stdout and Stderr read the child's standard output
	// and error.
	Stdin  *stream.Writer
	Stdout *stream.Reader
	Stderr *stream.Reader
}

// logger tolerates zero-value handles, which never carry one.
func (p *Process) logger() *zap.SugaredLogger {
	if p.log == nil {
		return nopLogger()
	}
	return p.log
}

// ID returns the child's process identifier, or zero once the handle is
// no longer joinable.
func (p *Process) ID() ID { return p.id }

// State returns the lifecycle state as of the last status check. Use Poll
// to refresh it.
func (p *Process) State() State { return p.state }

// ExitCode returns the child's exit code. Meaningful only when State is
// Exited.
func (p *Process) ExitCode() int { return p.code }

// Sig returns the signal that terminated or stopped the child. Meaningful
// only when State is Signaled or Stopped.
func (p *Process) Sig() unix.Signal { return p.signal }

// Joinable reports whether the handle still refers to a process whose
// termination has not been retrieved.
func (p *Process) Joinable() bool { return p.id != 0 }

// Detach abandons the child. The handle becomes non-joinable and the
// child, if still running, is left to terminate on its own; its eventual
// status is discarded by the OS. Detach never fails.
func (p *Process) Detach() {
	p.logger().Debugw("detaching", "ID", p.id)
	p.id = 0
	p.state = NotStarted
	runtime.SetFinalizer(p, nil)
}

// Raise sends sig to the child. It returns ErrNotJoinable on a handle
// with no process. A child that has already terminated but not yet been
// reaped can still be signaled; if the OS reports the process gone, Raise
// reports success since there is nothing left to signal.
func (p *Process) Raise(sig unix.Signal) error {
	if !p.Joinable() {
		return ErrNotJoinable
	}
	if err := unix.Kill(int(p.id), sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return os.NewSyscallError("kill", err)
	}
	return nil
}

// Terminate asks the child to exit gracefully (SIGTERM).
func (p *Process) Terminate() error { return p.Raise(unix.SIGTERM) }

// Kill forcibly terminates the child (SIGKILL).
func (p *Process) Kill() error { return p.Raise(unix.SIGKILL) }

// finalize crashes the program when a still-joinable Process is garbage
// collected. Loud on purpose; see the Process doc comment.
func finalize(p *Process) {
	if p.Joinable() {
		panic(fmt.Sprintf("proc: process %d abandoned while joinable; Join or Detach it first", p.id))
	}
}

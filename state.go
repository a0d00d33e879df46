//go:build unix

package proc

import (
	"golang.org/x/sys/unix"
)

// ID identifies a child process. The zero value means "no process".
type ID int

// Self returns the ID of the calling process.
func Self() ID { return ID(unix.Getpid()) }

// Parent returns the ID of the calling process's parent.
func Parent() ID { return ID(unix.Getppid()) }

// State is the lifecycle state of a child process.
type State int

const (
	// NotStarted means there is no process to wait for: none was ever
	// spawned, the handle was detached, or the child's status could no
	// longer be retrieved.
	NotStarted State = iota
	// Running means the child is alive, as far as the last status check
	// could tell.
	Running
	// Stopped means the child was stopped by a signal and may resume.
	Stopped
	// Exited means the child terminated normally; its exit code is
	// available.
	Exited
	// Signaled means the child was terminated by a signal; the signal
	// number is available.
	Signaled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	default:
		return "unknown"
	}
}

// terminal reports whether the state ends the joinable part of the
// lifecycle. Stopped is not terminal: a stopped child may resume.
func (s State) terminal() bool {
	return s == NotStarted || s == Exited || s == Signaled
}

// update decodes a wait status into the process's state and exit info.
// Exit and signal termination clear the ID: there is nothing left to join.
func (p *Process) update(ws unix.WaitStatus) {
	switch {
	case ws.Exited():
		p.state = Exited
		p.code = ws.ExitStatus()
		p.id = 0
	case ws.Signaled():
		p.state = Signaled
		p.signal = ws.Signal()
		p.id = 0
	case ws.Stopped():
		p.state = Stopped
		p.signal = ws.StopSignal()
	case ws.Continued():
		p.state = Running
	}
}

//go:build unix

package proc

import (
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"
)

// degrade records that the child's status can no longer be retrieved.
// This happens when the child was reaped externally, was never started,
// or termination notifications are discarded (SIGCHLD ignored or
// SA_NOCLDWAIT set). Exited-vs-signaled is unknowable at that point, so
// the state falls back to NotStarted.
func (p *Process) degrade() {
	p.logger().Debugw("child status no longer retrievable", "ID", p.id)
	p.id = 0
	p.state = NotStarted
}

// Poll refreshes and returns the lifecycle state without blocking. It
// drains any pending status changes (stop, resume, termination) and
// returns the state as of the last one. A child whose status can no
// longer be retrieved degrades to NotStarted rather than erroring.
func (p *Process) Poll() (State, error) {
	for p.state == Running || p.state == Stopped {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(int(p.id), &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			p.degrade()
		case err != nil:
			return p.state, os.NewSyscallError("wait4", err)
		case pid == 0:
			// no pending change
			return p.state, nil
		case ID(pid) == p.id:
			p.update(ws)
			p.logger().Debugw("status change", "ID", pid, "State", p.state)
		}
	}
	return p.state, nil
}

// Join blocks until the child terminates and records its exit info.
// Joining a non-joinable handle returns ErrNotJoinable; a handle that
// somehow refers to the calling process returns ErrDeadlock.
func (p *Process) Join() error {
	if !p.Joinable() {
		return ErrNotJoinable
	}
	if p.id == Self() {
		return ErrDeadlock
	}

	for p.state == Running || p.state == Stopped {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(int(p.id), &ws, 0, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			p.degrade()
		case err != nil:
			return os.NewSyscallError("wait4", err)
		case ID(pid) == p.id:
			p.update(ws)
		}
	}
	p.logger().Debugw("joined", "State", p.state, "Code", p.code, "Signal", p.signal)
	return nil
}

// TryJoinFor waits up to d for the child to terminate. It returns true
// as soon as the child reaches a terminal state, including terminations
// that happen mid-wait, and false when d elapses first. The child itself
// is untouched on timeout.
//
// There is no native bounded wait for a child process, so the wait is a
// SIGCHLD-interrupted sleep: a per-call signal subscription interrupts
// the sleep and triggers a re-poll. The subscription is removed on every
// return path, and since each call registers its own channel, concurrent
// timed joins on different handles do not disturb one another.
func (p *Process) TryJoinFor(d time.Duration) (bool, error) {
	if !p.Joinable() {
		return false, ErrNotJoinable
	}
	if p.id == Self() {
		return false, ErrDeadlock
	}

	// Subscribe before the initial poll so a termination in the gap
	// between poll and sleep still lands on the channel.
	sigchld := make(chan os.Signal, 1)
	signal.Notify(sigchld, unix.SIGCHLD)
	defer signal.Stop(sigchld)

	st, err := p.Poll()
	if err != nil {
		return false, err
	}
	if st.terminal() {
		return true, nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-sigchld:
			st, err := p.Poll()
			if err != nil {
				return false, err
			}
			if st.terminal() {
				return true, nil
			}
		case <-timer.C:
			return false, nil
		}
	}
}

// TryJoinUntil waits until deadline t for the child to terminate, with
// the same semantics as TryJoinFor. A deadline in the past is an
// immediate poll.
func (p *Process) TryJoinUntil(t time.Time) (bool, error) {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return p.TryJoinFor(d)
}

//go:build unix

package proc

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const shell = "/bin/sh"

// spawnShell spawns `sh -c script` and closes the stream adapters when
// the test ends. Reaping (or detaching) is up to the test.
func spawnShell(t *testing.T, script string, opts ...Option) *Process {
	t.Helper()
	p, err := Spawn(shell, []string{"sh", "-c", script}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Stdin.Close()
		p.Stdout.Close()
		p.Stderr.Close()
	})
	return p
}

func TestJoinExitCode(t *testing.T) {
	p := spawnShell(t, "exit 7")
	require.Equal(t, Running, p.State())
	require.True(t, p.Joinable())

	require.NoError(t, p.Join())
	assert.Equal(t, Exited, p.State())
	assert.Equal(t, 7, p.ExitCode())
	assert.False(t, p.Joinable())
	assert.Equal(t, ID(0), p.ID())
}

func TestKillYieldsSignaled(t *testing.T) {
	p := spawnShell(t, "sleep 30")
	require.NoError(t, p.Kill())
	require.NoError(t, p.Join())

	assert.Equal(t, Signaled, p.State())
	assert.Equal(t, unix.SIGKILL, p.Sig())
	assert.False(t, p.Joinable())
}

func TestStdioRoundTrip(t *testing.T) {
	p := spawnShell(t, "cat")

	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := p.Stdin.Write(payload)
	require.NoError(t, err)
	require.NoError(t, p.Stdin.Close())

	got, err := io.ReadAll(p.Stdout)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, p.Join())
	assert.Equal(t, Exited, p.State())
	assert.Equal(t, 0, p.ExitCode())
}

func TestStderrRoundTrip(t *testing.T) {
	p := spawnShell(t, "cat 1>&2")

	_, err := p.Stdin.WriteString("to stderr")
	require.NoError(t, err)
	require.NoError(t, p.Stdin.Close())

	got, err := io.ReadAll(p.Stderr)
	require.NoError(t, err)
	assert.Equal(t, "to stderr", string(got))

	require.NoError(t, p.Join())
}

func TestTryJoinForTimesOut(t *testing.T) {
	p := spawnShell(t, "sleep 30")

	joined, err := p.TryJoinFor(100 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Equal(t, Running, p.State())
	assert.True(t, p.Joinable())

	// after the child terminates, the same call reports joined with
	// the correct exit info
	require.NoError(t, p.Kill())
	joined, err = p.TryJoinFor(10 * time.Second)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, Signaled, p.State())
	assert.Equal(t, unix.SIGKILL, p.Sig())
}

func TestTryJoinForPromptReturn(t *testing.T) {
	p := spawnShell(t, "sleep 1")

	// an exit mid-sleep must interrupt the wait, not run out the clock
	start := time.Now()
	joined, err := p.TryJoinFor(30 * time.Second)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, Exited, p.State())
	assert.Equal(t, 0, p.ExitCode())
}

func TestTryJoinUntilPastDeadline(t *testing.T) {
	p := spawnShell(t, "sleep 30")

	joined, err := p.TryJoinUntil(time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, joined)

	require.NoError(t, p.Kill())
	require.NoError(t, p.Join())
}

func TestDetach(t *testing.T) {
	p := spawnShell(t, "sleep 30")
	pid := p.ID()

	p.Detach()
	assert.False(t, p.Joinable())
	assert.Equal(t, NotStarted, p.State())
	assert.Equal(t, ID(0), p.ID())

	// operations after detach are usage errors, not OS errors
	assert.ErrorIs(t, p.Join(), ErrNotJoinable)
	assert.ErrorIs(t, p.Raise(unix.SIGTERM), ErrNotJoinable)
	_, err := p.TryJoinFor(time.Millisecond)
	assert.ErrorIs(t, err, ErrNotJoinable)

	// not our handle's problem anymore, but don't leave it running
	require.NoError(t, unix.Kill(int(pid), unix.SIGKILL))
}

func TestRaiseAtZombie(t *testing.T) {
	p := spawnShell(t, "exit 0")

	// give the child time to terminate; unreaped, it stays a zombie
	time.Sleep(200 * time.Millisecond)

	assert.NoError(t, p.Raise(unix.SIGTERM))

	require.NoError(t, p.Join())
	assert.Equal(t, Exited, p.State())
	assert.Equal(t, 0, p.ExitCode())
}

func TestExternallyReapedDegrades(t *testing.T) {
	p := spawnShell(t, "exit 0")

	// reap behind the handle's back
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(int(p.ID()), &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		break
	}

	st, err := p.Poll()
	require.NoError(t, err)
	assert.Equal(t, NotStarted, st)
	assert.False(t, p.Joinable())
	assert.ErrorIs(t, p.Join(), ErrNotJoinable)
}

func TestPollWhileRunning(t *testing.T) {
	p := spawnShell(t, "sleep 30")

	st, err := p.Poll()
	require.NoError(t, err)
	assert.Equal(t, Running, st)

	require.NoError(t, p.Kill())
	require.NoError(t, p.Join())
}

func TestStopAndResume(t *testing.T) {
	p := spawnShell(t, "sleep 30")

	require.NoError(t, p.Raise(unix.SIGSTOP))
	require.Eventually(t, func() bool {
		st, err := p.Poll()
		return err == nil && st == Stopped
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, unix.SIGSTOP, p.Sig())
	assert.True(t, p.Joinable(), "stopped is not terminal")

	require.NoError(t, p.Raise(unix.SIGCONT))
	require.Eventually(t, func() bool {
		st, err := p.Poll()
		return err == nil && st == Running
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Kill())
	require.NoError(t, p.Join())
}

func TestSpawnBadPath(t *testing.T) {
	_, err := Spawn("/no/such/binary", nil)
	require.Error(t, err)
}

func TestSpawnWithDirAndEnv(t *testing.T) {
	p := spawnShell(t, "printf '%s %s' \"$PWD\" \"$GREETING\"",
		WithDir("/"), WithEnv([]string{"GREETING=hi"}))

	got, err := io.ReadAll(p.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "/ hi", string(got))

	require.NoError(t, p.Join())
}

func TestJoinTwice(t *testing.T) {
	p := spawnShell(t, "exit 0")
	require.NoError(t, p.Join())
	assert.ErrorIs(t, p.Join(), ErrNotJoinable)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not started", NotStarted.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "exited", Exited.String())
	assert.Equal(t, "signaled", Signaled.String())
}

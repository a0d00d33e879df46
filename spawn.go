//go:build unix

package proc

import (
	"fmt"
	"os"
	"runtime"
	"syscall"

	"github.com/dimitry-ishenko-cpp/proc/internal/fdpipe"
	"github.com/dimitry-ishenko-cpp/proc/stream"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Option configures a spawn.
type Option func(s *spawner)

// WithLogger attaches a logger to the spawned Process. The library logs
// nothing by default.
func WithLogger(l *zap.Logger) Option {
	return func(s *spawner) {
		s.log = l.Sugar()
	}
}

// WithEnv sets the child's environment. The default is the parent's.
func WithEnv(env []string) Option {
	return func(s *spawner) {
		s.env = env
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(s *spawner) {
		s.dir = dir
	}
}

type spawner struct {
	log *zap.SugaredLogger
	env []string
	dir string
}

func nopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// Spawn starts path with the given argument vector and returns a Process
// wired to the child's standard streams, or fails atomically: on any
// error every pipe created so far is torn down and no child is left
// behind.
//
// args is the full argument vector. When it is empty, the child sees
// argv[0] = path.
func Spawn(path string, args []string, opts ...Option) (*Process, error) {
	s := &spawner{
		log: nopLogger(),
		env: os.Environ(),
	}
	for _, o := range opts {
		o(s)
	}
	return s.spawn(path, args)
}

func (s *spawner) spawn(path string, args []string) (p *Process, err error) {
	if len(args) == 0 {
		args = []string{path}
	}

	var pipes [3]*fdpipe.Pipe // stdin, stdout, stderr
	defer func() {
		if err == nil {
			return
		}
		for _, pp := range pipes {
			if pp != nil {
				pp.Close()
			}
		}
	}()

	for i := range pipes {
		pipes[i], err = fdpipe.New()
		if err != nil {
			return nil, fmt.Errorf("creating pipe: %w", err)
		}
	}
	stdin, stdout, stderr := pipes[0], pipes[1], pipes[2]

	// The child's fd table is wired during process creation: the runtime
	// dups these onto fds 0, 1 and 2 after the fork, which also drops
	// their close-on-exec flags. Unused ends stay close-on-exec and
	// vanish at exec time.
	pid, err := syscall.ForkExec(path, args, &syscall.ProcAttr{
		Dir: s.dir,
		Env: s.env,
		Files: []uintptr{
			uintptr(stdin.ReadEnd()),
			uintptr(stdout.WriteEnd()),
			uintptr(stderr.WriteEnd()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("forking %q: %w", path, err)
	}
	s.log.Debugw("forked child", "Path", path, "PID", pid)

	p = &Process{
		log:   s.log,
		id:    ID(pid),
		state: Running,
	}

	// Each adapter takes the parent's end and closes the child's.
	if p.Stdin, err = stream.NewWriter(stdin.DetachWriter()); err == nil {
		if p.Stdout, err = stream.NewReader(stdout.DetachReader()); err == nil {
			p.Stderr, err = stream.NewReader(stderr.DetachReader())
		}
	}
	if err != nil {
		// The child exists at this point, so atomicity means killing
		// and reaping it before reporting the wiring failure. Adapters
		// already built are closed; their pipes were consumed and are
		// no-ops in the deferred cleanup.
		if p.Stdin != nil {
			p.Stdin.Close()
		}
		if p.Stdout != nil {
			p.Stdout.Close()
		}
		err = multierr.Append(err, p.abort())
		return nil, fmt.Errorf("wiring streams: %w", err)
	}

	runtime.SetFinalizer(p, finalize)
	return p, nil
}

// abort kills and reaps a child whose parent-side wiring failed.
func (p *Process) abort() error {
	if err := unix.Kill(int(p.id), unix.SIGKILL); err != nil {
		return os.NewSyscallError("kill", err)
	}
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(int(p.id), &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		p.id = 0
		p.state = NotStarted
		if err != nil {
			return os.NewSyscallError("wait4", err)
		}
		return nil
	}
}

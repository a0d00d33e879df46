//go:build unix

package proc

import (
	"fmt"
	"os"
)

// handlerEnv marks a re-executed child and names the handler it runs.
const handlerEnv = "PROC_HANDLER"

var handlers = map[string]func() int{}

// Register makes fn spawnable as a child body under the given name. A Go
// process cannot run an arbitrary function after a bare fork, so callable
// children are re-executions of the current binary that dispatch through
// this registry. Register from init (or any point before Main runs) in
// both parent and child code paths; registering a duplicate name panics.
func Register(name string, fn func() int) {
	if _, ok := handlers[name]; ok {
		panic(fmt.Sprintf("proc: handler %q registered twice", name))
	}
	handlers[name] = fn
}

// Main dispatches to a registered handler when the current process was
// spawned by SpawnHandler, and never returns in that case: the handler's
// return value becomes the process exit code, and a panic escaping the
// handler exits with code 1 rather than crossing the process boundary.
// In an ordinary process Main returns false. Call it at the top of main
// or TestMain:
//
//	func main() {
//		proc.Main()
//		// normal program
//	}
func Main() bool {
	name := os.Getenv(handlerEnv)
	if name == "" {
		return false
	}
	os.Unsetenv(handlerEnv)

	fn, ok := handlers[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "proc: no handler registered as %q\n", name)
		os.Exit(127)
	}
	os.Exit(runHandler(fn))
	return true
}

func runHandler(fn func() int) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "proc: handler panic: %v\n", r)
			code = 1
		}
	}()
	return fn()
}

// SpawnHandler spawns the current binary as a child running the handler
// registered under name, wired like any other spawned process. The
// handler must be registered in this process too, so that misspelled
// names fail in the parent instead of inside the child.
func SpawnHandler(name string, opts ...Option) (*Process, error) {
	if _, ok := handlers[name]; !ok {
		return nil, fmt.Errorf("proc: no handler registered as %q", name)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}

	s := &spawner{env: os.Environ()}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = nopLogger()
	}
	s.env = append(s.env, handlerEnv+"="+name)
	return s.spawn(exe, []string{exe})
}

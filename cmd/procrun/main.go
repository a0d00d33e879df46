//go:build unix

// Command procrun runs a program as a supervised child process: stdio is
// streamed through the library's pipe adapters, and an optional timeout
// escalates from SIGTERM to SIGKILL. The exit status mirrors the child's
// (128+signal when it was killed by a signal).
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dimitry-ishenko-cpp/proc"
	"github.com/dimitry-ishenko-cpp/proc/stream"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func main() {
	app := &cli.App{
		Name:      "procrun",
		Usage:     "run a command as a supervised child process",
		ArgsUsage: "command [args...]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Terminate the command if it runs longer than this. Zero means no timeout.",
			},
			&cli.DurationFlag{
				Name:  "kill-after",
				Usage: "Grace period between SIGTERM and SIGKILL on timeout.",
				Value: 10 * time.Second,
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "Extra KEY=VALUE environment entries for the child.",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Working directory for the child.",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log lifecycle events.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	args := ctx.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("no command given", 2)
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	opts := []proc.Option{
		proc.WithEnv(append(os.Environ(), ctx.StringSlice("env")...)),
	}
	if dir := ctx.String("dir"); dir != "" {
		opts = append(opts, proc.WithDir(dir))
	}
	if ctx.Bool("verbose") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		opts = append(opts, proc.WithLogger(logger))
	}

	p, err := proc.Spawn(path, args, opts...)
	if err != nil {
		return fmt.Errorf("spawning %q: %w", path, err)
	}

	go func() {
		io.Copy(p.Stdin, os.Stdin)
		p.Stdin.Close()
	}()
	var pumps sync.WaitGroup
	pumps.Add(2)
	go pump(&pumps, os.Stdout, p.Stdout)
	go pump(&pumps, os.Stderr, p.Stderr)

	if timeout := ctx.Duration("timeout"); timeout > 0 {
		if err := joinWithTimeout(p, timeout, ctx.Duration("kill-after")); err != nil {
			return err
		}
	} else if err := p.Join(); err != nil {
		return err
	}

	// drain whatever the child wrote before it terminated
	pumps.Wait()

	switch p.State() {
	case proc.Signaled:
		return cli.Exit("", 128+int(p.Sig()))
	case proc.Exited:
		if code := p.ExitCode(); code != 0 {
			return cli.Exit("", code)
		}
	}
	return nil
}

// joinWithTimeout waits up to timeout, then escalates SIGTERM -> SIGKILL.
func joinWithTimeout(p *proc.Process, timeout, killAfter time.Duration) error {
	joined, err := p.TryJoinFor(timeout)
	if err != nil || joined {
		return err
	}

	fmt.Fprintf(os.Stderr, "procrun: timeout after %s, sending SIGTERM\n", timeout)
	if err := p.Raise(unix.SIGTERM); err != nil {
		return err
	}
	joined, err = p.TryJoinFor(killAfter)
	if err != nil || joined {
		return err
	}

	fmt.Fprintln(os.Stderr, "procrun: child ignored SIGTERM, sending SIGKILL")
	if err := p.Kill(); err != nil {
		return err
	}
	return p.Join()
}

// pump copies a child stream to dst byte-group-wise: it blocks for one
// byte, then drains whatever the adapter already has buffered, so output
// appears as the child produces it.
func pump(wg *sync.WaitGroup, dst io.Writer, src *stream.Reader) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		b, err := src.ReadByte()
		if err != nil {
			return
		}
		buf[0] = b
		n := 1
		if avail := src.Buffered(); avail > 0 {
			if avail > len(buf)-1 {
				avail = len(buf) - 1
			}
			m, _ := src.Read(buf[1 : 1+avail])
			n += m
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return
		}
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Process is a running agent seen through its three standard streams.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Close releases the streams. It does not kill anything.
	Close() error
}

// Factory launches one agent process.
type Factory func(ctx context.Context) (Process, error)

// Command returns a factory that starts name with args as a child process in
// its own process group.
func Command(name string, args ...string) Factory {
	return func(ctx context.Context) (Process, error) {
		cmd := exec.Command(name, args...)
		configureProcess(cmd)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
		p := &cmdProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, done: make(chan struct{})}
		go func() {
			_ = cmd.Wait()
			close(p.done)
		}()
		return p, nil
	}
}

type cmdProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	done   chan struct{}
	once   sync.Once
}

func (p *cmdProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *cmdProcess) Stdout() io.Reader     { return p.stdout }
func (p *cmdProcess) Stderr() io.Reader     { return p.stderr }

func (p *cmdProcess) Close() error {
	var err error
	p.once.Do(func() {
		// Closing stdin is the only shutdown signal; Wait closes the read ends
		// once the child exits on its own.
		err = p.stdin.Close()
	})
	return err
}

// RunFunc is an in-process agent body. It must return when stdin reaches EOF.
type RunFunc func(stdin io.Reader, stdout, stderr io.Writer) error

// Func returns a factory running fn on its own goroutine, connected through OS
// pipes so it behaves like a child process (buffered, EPIPE on closed ends).
func Func(fn RunFunc) Factory {
	return func(ctx context.Context) (Process, error) {
		inR, inW, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		outR, outW, err := os.Pipe()
		if err != nil {
			closeAll(inR, inW)
			return nil, err
		}
		errR, errW, err := os.Pipe()
		if err != nil {
			closeAll(inR, inW, outR, outW)
			return nil, err
		}
		p := &funcProcess{stdin: inW, stdout: outR, stderr: errR, done: make(chan struct{})}
		go func() {
			defer close(p.done)
			defer closeAll(inR, outW, errW)
			defer func() {
				if r := recover(); r != nil {
					fmt.Fprintf(errW, "agent panic: %v\n", r)
				}
			}()
			if err := fn(inR, outW, errW); err != nil && !errors.Is(err, io.EOF) {
				fmt.Fprintf(errW, "%v\n", err)
			}
		}()
		return p, nil
	}
}

type funcProcess struct {
	stdin  *os.File
	stdout *os.File
	stderr *os.File
	done   chan struct{}
	once   sync.Once
}

func (p *funcProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *funcProcess) Stdout() io.Reader     { return p.stdout }
func (p *funcProcess) Stderr() io.Reader     { return p.stderr }

// Done is closed once the agent body has returned.
func (p *funcProcess) Done() <-chan struct{} { return p.done }

func (p *funcProcess) Close() error {
	var err error
	p.once.Do(func() {
		err = p.stdin.Close()
		go func() {
			<-p.done
			closeAll(p.stdout, p.stderr)
		}()
	})
	return err
}

func closeAll(fs ...*os.File) {
	for _, f := range fs {
		_ = f.Close()
	}
}

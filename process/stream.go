package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// StartRequest describes a streaming invocation.
type StartRequest struct {
	// Args is the full argument vector. Args[0] is the command.
	Args []string
	// WD is the working directory.
	WD string
}

// Stream is a handle to a started command. Stderr is merged into stdout and
// the combined output is consumed line by line with ReadLine. Cancel the
// context passed to Start, or call Close, so the command cannot outlive its
// caller.
type Stream struct {
	cmd *exec.Cmd
	out *bufio.Reader
	pr  *os.File

	procExited chan struct{}
	waitOnce   sync.Once
	waitCode   int
	waitErr    error
	closeOnce  sync.Once
	closeErr   error
}

// Start launches the command and returns a handle streaming its combined
// output. The command is killed when ctx is canceled.
func (r *Runner) Start(ctx context.Context, req StartRequest) (*Stream, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("empty argument vector")
	}
	cmd := exec.Command(req.Args[0], req.Args[1:]...)
	cmd.Dir = req.WD

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	r.Log.Debugf("starting %v", req.Args)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting command: %w", err)
	}
	pw.Close()

	s := &Stream{
		cmd:        cmd,
		out:        bufio.NewReader(pr),
		pr:         pr,
		procExited: make(chan struct{}),
	}

	// kill the process if the context is canceled before it exits
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
		case <-s.procExited:
		}
	}()

	return s, nil
}

// ReadLine returns the next line of combined output, without the trailing
// newline. It returns io.EOF once the command has exited and its output is
// drained; the sequence is finite and cannot be restarted.
func (s *Stream) ReadLine() (string, error) {
	line, err := s.out.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return line, nil
		}
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// Wait blocks until the command exits and returns its exit status. Unlike
// Runner.Run it does not translate a nonzero status into an error; the
// caller observes the raw status. A command that fills the pipe buffer
// blocks until its output is consumed, so drain ReadLine before waiting on
// chatty commands.
func (s *Stream) Wait() (int, error) {
	s.waitOnce.Do(func() {
		err := s.cmd.Wait()
		close(s.procExited)
		s.waitCode = s.cmd.ProcessState.ExitCode()
		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				s.waitErr = err
			}
		}
	})
	return s.waitCode, s.waitErr
}

// Close kills the command if it is still running, reaps it, and releases
// the output pipe. It is safe to call after Wait.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cmd.Process.Kill()
		_, err := s.Wait()
		s.pr.Close()
		s.closeErr = err
	})
	return s.closeErr
}

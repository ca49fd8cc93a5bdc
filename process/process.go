package process

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner executes local commands. With live logging a command's stderr is
// merged into its stdout and every line is emitted through Log as the
// command produces it, so long-running invocations are observable before
// they finish.
type Runner struct {
	Log *zap.SugaredLogger
}

func NewRunner(log *zap.SugaredLogger) *Runner {
	return &Runner{Log: log.Named("runner")}
}

// RunRequest describes a single blocking invocation.
type RunRequest struct {
	// Args is the full argument vector. Args[0] is the command.
	Args []string
	// WD is the working directory. Empty means the calling process's working directory.
	WD string
	// LogLive merges stderr into stdout and logs each combined line at debug
	// level as it arrives. The merged output is returned as Result.Stdout and
	// Result.Stderr is empty.
	LogLive bool
}

// Result holds a finished command's exit code and captured output, exactly
// as the command wrote it.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ExitError is returned by Run when the command exits nonzero. It carries
// the same fields as a successful Result, so callers inspect captured output
// on failure exactly as on success.
type ExitError struct {
	Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.ExitCode)
}

// Run executes the command and blocks until it exits. A nonzero exit is
// returned as an *ExitError; a command that could not be started at all
// (e.g. the binary does not exist) is an ordinary error. Canceling ctx kills
// the command.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("empty argument vector")
	}
	cmd := exec.CommandContext(ctx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.WD

	if !req.LogLive {
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		return r.finish(ctx, cmd, stdout.Bytes(), stderr.Bytes(), err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	r.Log.Debugf("running %v", req.Args)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting command: %w", err)
	}
	// The child holds its own copies of the write end; close ours so the
	// read side sees EOF when the child exits.
	pw.Close()

	var combined bytes.Buffer
	reader := bufio.NewReader(pr)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			combined.WriteString(line)
			r.Log.Debug(strings.TrimSuffix(line, "\n"))
		}
		if err != nil {
			break
		}
	}
	pr.Close()

	return r.finish(ctx, cmd, combined.Bytes(), nil, cmd.Wait())
}

func (r *Runner) finish(ctx context.Context, cmd *exec.Cmd, stdout, stderr []byte, err error) (*Result, error) {
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, ok := err.(*exec.ExitError); ok {
			return nil, &ExitError{Result: Result{
				ExitCode: cmd.ProcessState.ExitCode(),
				Stdout:   stdout,
				Stderr:   stderr,
			}}
		}
		return nil, fmt.Errorf("running command: %w", err)
	}
	return &Result{Stdout: stdout, Stderr: stderr}, nil
}

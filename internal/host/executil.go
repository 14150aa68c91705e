package host

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Cmd is one external command invocation.
type Cmd struct {
	Path string
	Args []string
	Env  map[string]string // additional env vars
	Dir  string            // working directory
}

// Argv returns the full argument vector.
func (c Cmd) Argv() []string { return append([]string{c.Path}, c.Args...) }

// String renders the command the way an operator would type it.
func (c Cmd) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, a := range c.Argv() {
		if a == "" || strings.ContainsAny(a, " \t\"'$|&;<>") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// CommandError reports a failed external command.
type CommandError struct {
	Argv       []string
	Dir        string
	ExitStatus int
	Output     string
	Err        error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", Cmd{Path: e.Argv[0], Args: e.Argv[1:]}.String(), e.Err)
	if out := lastLines(e.Output, 5); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitStatusOf returns the process exit status carried by err, or 1 when
// err did not come from a process that ran to completion.
func ExitStatusOf(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) && ce.ExitStatus > 0 {
		return ce.ExitStatus
	}
	return 1
}

// CommandOf returns the failing command line carried by err, if any.
func CommandOf(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) && len(ce.Argv) > 0 {
		return Cmd{Path: ce.Argv[0], Args: ce.Argv[1:]}.String()
	}
	return ""
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, c Cmd) (string, error)

// ExecRunner runs c, streaming each output line to log at debug level, and
// returns the combined output. Failures are returned as *CommandError.
func ExecRunner(log zerolog.Logger) Runner {
	return func(ctx context.Context, c Cmd) (string, error) {
		cmd := exec.CommandContext(ctx, c.Path, c.Args...)
		if c.Dir != "" {
			cmd.Dir = c.Dir
		}
		// inherit environment
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		var buf lockedBuffer
		pr, pw := io.Pipe()
		cmd.Stdout = pw
		cmd.Stderr = pw
		done := make(chan struct{})
		go func() {
			stream(log.With().Str("cmd", c.Path).Logger(), pr, &buf)
			close(done)
		}()
		err := cmd.Run()
		_ = pw.Close()
		<-done
		if err != nil {
			ce := &CommandError{Argv: c.Argv(), Dir: c.Dir, Output: buf.String(), Err: err}
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				ce.ExitStatus = ee.ExitCode()
			}
			return ce.Output, ce
		}
		return buf.String(), nil
	}
}

func stream(log zerolog.Logger, r io.Reader, w io.Writer) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Text()
		log.Debug().Msg(line)
		_, _ = io.WriteString(w, line+"\n")
	}
	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/seantiz/ngnshed/internal/backend/remote"
)

// Echo returns the request body unchanged.
func Echo(_ context.Context, req *remote.WorkRequest, logf func(string)) ([]byte, error) {
	logf(fmt.Sprintf("worker echo %s: %d bytes", req.ID, len(req.Body)))
	return req.Body, nil
}

// Command returns a handler that runs name with args for every request,
// feeding the body on stdin. Each stdout and stderr line is streamed as a
// log line; the output is stdout.
func Command(name string, args ...string) Handler {
	return func(ctx context.Context, req *remote.WorkRequest, logf func(string)) ([]byte, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdin = bytes.NewReader(req.Body)

		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start command: %w", err)
		}

		var output, stderr strings.Builder
		done := make(chan struct{})
		go func() {
			defer close(done)
			streamLines(stderrPipe, &stderr, logf)
		}()
		streamLines(stdoutPipe, &output, logf)
		<-done

		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				return []byte(output.String()), fmt.Errorf("command %s: %w", name, ctx.Err())
			}
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return []byte(output.String()), fmt.Errorf("command %s: %s", name, msg)
		}
		return []byte(output.String()), nil
	}
}

// streamLines reads lines from r, sends each through logf and appends it to out.
func streamLines(r io.Reader, out *strings.Builder, logf func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		out.WriteString(line + "\n")
		logf(line)
	}
}

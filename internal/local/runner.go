package local

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"cardcat/internal/recorder"
)

// Runner executes a container runtime command and returns its stdout.
// Injectable so tests run against canned output instead of a real runtime.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// LookPath resolves a binary on PATH. Variable so detection is testable.
var LookPath = exec.LookPath

// execRunner shells out to the runtime binary.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}

// recordingRunner wraps a Runner so every invocation lands in the call log,
// mirroring what the HTTP client does for remote requests.
func recordingRunner(run Runner, rec *recorder.Log) Runner {
	if rec == nil {
		return run
	}
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		start := time.Now()
		out, err := run(ctx, name, args...)

		record := recorder.Record{
			Method:    "LOCAL",
			Target:    name + " " + strings.Join(args, " "),
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			record.Status = 1
			record.Err = err.Error()
		}
		rec.Append(record)
		return out, err
	}
}

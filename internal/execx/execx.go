package execx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner abstracts command execution so packages can be unit-tested without
// touching real radios (iw).
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// ReadFiler is implemented by runners that can also stand in for reads of
// kernel tables such as /proc/net/arp.
type ReadFiler interface {
	ReadFile(path string) ([]byte, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Output runs the command and returns its stdout. On failure the error
// carries whatever the tool wrote to stderr.
func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

func (r *OSRunner) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

package fulltext

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Converter turns a PDF artifact on disk into plain text.
type Converter interface {
	Convert(ctx context.Context, pdfPath string) (string, error)
}

// CommandConverter shells out to an external PDF-to-text binary. The default
// command is pdftotext, invoked as `pdftotext <file> -` so the text arrives
// on stdout.
type CommandConverter struct {
	command string
	timeout time.Duration
}

var _ Converter = (*CommandConverter)(nil)

// NewCommandConverter creates a converter running the given command with the
// given per-conversion timeout.
func NewCommandConverter(command string, timeout time.Duration) *CommandConverter {
	if command == "" {
		command = "pdftotext"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommandConverter{command: command, timeout: timeout}
}

// Convert runs the converter on pdfPath and returns the extracted text.
// The subprocess is killed when the context deadline passes.
func (c *CommandConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command, pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("fulltext: converter %s timed out: %w", c.command, ctx.Err())
		}
		return "", fmt.Errorf("fulltext: converter %s failed: %w (%s)", c.command, err, firstLine(stderr.String()))
	}

	return stdout.String(), nil
}

// firstLine trims converter stderr to its first line for error messages.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

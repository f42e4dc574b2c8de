// Package ocrmypdf wraps the ocrmypdf command line tool. The tool is treated
// as an opaque black box characterized only by its exit code, its diagnostic
// output, and the output file it produces.
package ocrmypdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	u "ocrpdf/internal/utils"
)

// ToolError describes a non-zero exit of the ocrmypdf process.
type ToolError struct {
	ExitCode   int
	Diagnostic string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("ocrmypdf failed (exit %d): %s", e.ExitCode, e.Diagnostic)
}

// Run stages the given PDF bytes into a per-call temporary directory, runs
// ocrmypdf on them, and returns the produced PDF. The directory and both
// files are removed on every exit path. A non-zero exit is returned as a
// *ToolError; exceeding the configured timeout kills the process and returns
// context.DeadlineExceeded.
func Run(ctx context.Context, cfg u.Config, input []byte) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "ocrpdf-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inputPath := filepath.Join(tmpDir, "input.pdf")
	outputPath := filepath.Join(tmpDir, "output.pdf")

	if err := os.WriteFile(inputPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("cannot stage input: %w", err)
	}

	args := []string{
		"--skip-text",
		"--optimize", strconv.Itoa(cfg.OCR.Optimize),
		"--quiet",
	}
	if cfg.OCR.Language != "" {
		args = append(args, "--language", cfg.OCR.Language)
	}
	args = append(args, inputPath, outputPath)

	timeout := time.Duration(cfg.OCR.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// stdout and stderr share one buffer; with --quiet the tool only writes
	// diagnostics to stderr, but anything stray on stdout is kept too.
	var diag bytes.Buffer
	cmd := exec.CommandContext(ctx, cfg.OCR.Binary, args...)
	cmd.Stdout = &diag
	cmd.Stderr = &diag
	// Orphaned child processes (ocrmypdf forks tesseract workers) can hold
	// the diagnostic pipe open after the kill; stop waiting on them.
	cmd.WaitDelay = 2 * time.Second

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, context.DeadlineExceeded
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ToolError{
				ExitCode:   exitErr.ExitCode(),
				Diagnostic: sanitize(diag.Bytes()),
			}
		}
		return nil, fmt.Errorf("cannot run %s: %w", cfg.OCR.Binary, err)
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read ocrmypdf output: %w", err)
	}
	return out, nil
}

// sanitize decodes diagnostic bytes as UTF-8, replacing invalid sequences
// instead of failing on them.
func sanitize(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

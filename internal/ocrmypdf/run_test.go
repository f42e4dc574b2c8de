package ocrmypdf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	u "ocrpdf/internal/utils"
)

// writeStub creates a fake ocrmypdf executable running the given shell body.
// Argument layout for the default config: $1=--skip-text $2=--optimize $3=1
// $4=--quiet $5=input $6=output.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ocrmypdf")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return p
}

func testCfg(bin string) u.Config {
	var cfg u.Config
	cfg.OCR.Binary = bin
	cfg.OCR.TimeoutSecs = 5
	cfg.OCR.Optimize = 1
	return cfg
}

func TestRun_Success(t *testing.T) {
	bin := writeStub(t, `cp "$5" "$6"`)
	input := []byte("%PDF-1.4 fake document body")

	out, err := Run(context.Background(), testCfg(bin), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(input) {
		t.Fatalf("output does not match staged input")
	}
}

func TestRun_LanguageFlagShiftsArgs(t *testing.T) {
	// With --language the input/output move to $7/$8.
	bin := writeStub(t, `cp "$7" "$8"`)
	cfg := testCfg(bin)
	cfg.OCR.Language = "deu"

	out, err := Run(context.Background(), cfg, []byte("%PDF-1.4 x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty output")
	}
}

func TestRun_ToolFailure(t *testing.T) {
	bin := writeStub(t, `echo "input file is not a PDF" >&2; exit 2`)

	_, err := Run(context.Background(), testCfg(bin), []byte("not a pdf"))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if toolErr.ExitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", toolErr.ExitCode)
	}
	if !strings.Contains(toolErr.Diagnostic, "input file is not a PDF") {
		t.Fatalf("diagnostic missing stderr text: %q", toolErr.Diagnostic)
	}
	if !strings.HasPrefix(err.Error(), "ocrmypdf failed (exit 2): ") {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
}

func TestRun_InvalidUTF8Replaced(t *testing.T) {
	bin := writeStub(t, `printf 'bad \373 bytes' >&2; exit 1`)

	_, err := Run(context.Background(), testCfg(bin), []byte("x"))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if !utf8.ValidString(toolErr.Diagnostic) {
		t.Fatalf("diagnostic still contains invalid UTF-8: %q", toolErr.Diagnostic)
	}
	if !strings.Contains(toolErr.Diagnostic, "�") {
		t.Fatalf("expected replacement rune in diagnostic: %q", toolErr.Diagnostic)
	}
}

func TestRun_Timeout(t *testing.T) {
	bin := writeStub(t, `sleep 10`)
	cfg := testCfg(bin)
	cfg.OCR.TimeoutSecs = 1

	start := time.Now()
	_, err := Run(context.Background(), cfg, []byte("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout did not bound the run, took %v", elapsed)
	}
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := Run(context.Background(), testCfg("/definitely/missing/ocrmypdf"), []byte("x"))
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		t.Fatalf("missing binary must not be a tool exit failure")
	}
}

func TestRun_StagingCleanedUp(t *testing.T) {
	okBin := writeStub(t, `cp "$5" "$6"`)
	failBin := writeStub(t, `exit 3`)

	staging := t.TempDir()
	t.Setenv("TMPDIR", staging)

	if _, err := Run(context.Background(), testCfg(okBin), []byte("%PDF-1.4 y")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = Run(context.Background(), testCfg(failBin), []byte("z"))

	entries, err := os.ReadDir(staging)
	if err != nil {
		t.Fatalf("read staging root: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "ocrpdf-") {
			t.Fatalf("staging dir %s outlived the request", e.Name())
		}
	}
}

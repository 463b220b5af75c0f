package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"studybuddy/internal/logging"
)

const defaultConvertTimeout = 90 * time.Second

// Converter turns an office document into PDF bytes so the PDF text path
// and the OCR fallback can handle it.
type Converter interface {
	ConvertToPDF(ctx context.Context, data []byte, ext string) ([]byte, error)
}

// SofficeConverter shells out to a headless LibreOffice binary bundled in
// the task image. Conversion is bounded by Timeout; the orchestrator treats
// an expired conversion as a task failure.
type SofficeConverter struct {
	Binary  string
	Timeout time.Duration
	Log     logging.Logger
}

// NewSofficeConverter returns a converter using the soffice binary with the
// 90 second conversion bound.
func NewSofficeConverter(log logging.Logger) *SofficeConverter {
	return &SofficeConverter{Binary: "soffice", Timeout: defaultConvertTimeout, Log: logging.OrNop(log)}
}

// ConvertToPDF writes data to a scratch dir, runs the converter, and reads
// the produced PDF back. ext must include the leading dot.
func (c *SofficeConverter) ConvertToPDF(ctx context.Context, data []byte, ext string) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "sb-convert-*")
	if err != nil {
		return nil, fmt.Errorf("conversion scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "source"+ext)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("write conversion input: %w", err)
	}

	binary := c.Binary
	if binary == "" {
		binary = "soffice"
	}
	cmd := exec.CommandContext(ctx, binary, "--headless", "--convert-to", "pdf", "--outdir", dir, input)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("office conversion timed out after %s", timeout)
		}
		logging.OrNop(c.Log).Warn("office conversion failed: %v: %s", err, out)
		return nil, fmt.Errorf("office conversion failed: %w", err)
	}

	converted, err := os.ReadFile(filepath.Join(dir, "source.pdf"))
	if err != nil {
		return nil, fmt.Errorf("conversion produced no PDF: %w", err)
	}
	return converted, nil
}

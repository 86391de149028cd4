// Package ocr extracts text from payment-proof images.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Extractor turns a persisted image into text using a language hint.
type Extractor interface {
	Extract(ctx context.Context, imagePath, lang string) (string, error)
}

// Tesseract shells out to the tesseract binary. The binary must be installed
// with the requested language pack (e.g. "por").
type Tesseract struct {
	bin string
}

// NewTesseract returns an extractor using the given binary path; an empty
// path falls back to "tesseract" on PATH.
func NewTesseract(bin string) *Tesseract {
	if strings.TrimSpace(bin) == "" {
		bin = "tesseract"
	}
	return &Tesseract{bin: bin}
}

// Extract runs tesseract against the image and returns the recognized text.
// The command is bound to ctx, so a pipeline timeout kills a hung extraction.
func (t *Tesseract) Extract(ctx context.Context, imagePath, lang string) (string, error) {
	args := []string{imagePath, "stdout"}
	if strings.TrimSpace(lang) != "" {
		args = append(args, "-l", lang)
	}

	cmd := exec.CommandContext(ctx, t.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ocr: extraction cancelled: %w", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("ocr: tesseract failed: %s: %w", detail, err)
		}
		return "", fmt.Errorf("ocr: tesseract failed: %w", err)
	}

	return stdout.String(), nil
}

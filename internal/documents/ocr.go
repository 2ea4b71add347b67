package documents

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// TesseractOCR runs the tesseract binary on images
type TesseractOCR struct {
	binaryPath string
	lang       string
}

// NewTesseractOCR creates a tesseract wrapper; empty arguments pick defaults
func NewTesseractOCR(binaryPath, lang string) *TesseractOCR {
	if binaryPath == "" {
		binaryPath = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}
	return &TesseractOCR{binaryPath: binaryPath, lang: lang}
}

// IsAvailable checks if tesseract is installed
func (t *TesseractOCR) IsAvailable() bool {
	_, err := exec.LookPath(t.binaryPath)
	return err == nil
}

// ExtractText returns the recognized text of an image
func (t *TesseractOCR) ExtractText(ctx context.Context, imagePath string) (string, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return "", fmt.Errorf("image file not found: %s", imagePath)
	}

	cmd := exec.CommandContext(ctx, t.binaryPath, imagePath, "stdout", "-l", t.lang, "--psm", "3")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

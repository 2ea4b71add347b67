package documents

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// extractTextPdftotext runs poppler's pdftotext. first and last are 1-based;
// zero means the whole document.
func extractTextPdftotext(ctx context.Context, path string, first, last int) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", err
	}

	args := []string{"-layout", "-enc", "UTF-8"}
	if first > 0 {
		args = append(args, "-f", strconv.Itoa(first), "-l", strconv.Itoa(last))
	}
	args = append(args, path, "-")

	cmd := exec.CommandContext(ctx, "pdftotext", args...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return string(output), nil
}

func countPagesPdfinfo(ctx context.Context, path string) (int, error) {
	if _, err := exec.LookPath("pdfinfo"); err != nil {
		return 0, err
	}

	output, err := exec.CommandContext(ctx, "pdfinfo", path).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != "Pages" {
			continue
		}
		return strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return 0, fmt.Errorf("pdfinfo output has no page count")
}

func countPagesPDFCPU(_ context.Context, path string) (int, error) {
	return api.PageCountFile(path)
}

func countPagesNative(_ context.Context, path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

// extractTextNative reads text with the pure-Go reader. page is 0-based;
// a negative page means every page.
func extractTextNative(path string, page int) (text string, err error) {
	defer func() {
		// the reader panics on some malformed streams
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	first, last := 1, r.NumPage()
	if page >= 0 {
		if page >= last {
			return "", fmt.Errorf("page %d out of range (%d pages)", page, last)
		}
		first, last = page+1, page+1
	}

	var sb strings.Builder
	for i := first; i <= last; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// trimPDF keeps only the given 0-based pages
func trimPDF(inputPath, outputPath string, pages []int) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages selected")
	}
	selected := make([]string, 0, len(pages))
	for _, p := range pages {
		selected = append(selected, strconv.Itoa(p+1))
	}
	if err := api.TrimFile(inputPath, outputPath, selected, nil); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("pdfcpu trim failed: %w", err)
	}
	return nil
}

package report

import (
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"cognify/internal/domain"
)

const (
	// wrapWidth is the fixed column limit for report lines.
	wrapWidth = 90
	// bottomMargin is the remaining vertical space, in inches, below which
	// a new page starts.
	bottomMargin = 1.5

	pageHeight = 11.0
	leftMargin = 1.0
	lineHeight = 0.18
)

// Render lays the transcript out as a paginated PDF at path: a title line,
// then each message as a "You:"/"Assistant:" labeled paragraph wrapped at
// wrapWidth columns with a blank separator line. The file is overwritten
// on every call; the transcript itself is not modified.
func Render(path string, msgs []domain.Message) error {
	pdf := gofpdf.New("P", "in", "Letter", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(leftMargin, 0.6, "Cognify Q&A Report")
	pdf.SetFont("Helvetica", "", 11)

	y := 1.0
	writeLine := func(line string) {
		if y > pageHeight-bottomMargin {
			pdf.AddPage()
			pdf.SetFont("Helvetica", "", 11)
			y = 0.6
		}
		pdf.Text(leftMargin, y, tr(line))
		y += lineHeight
	}

	for _, msg := range msgs {
		label := "Assistant"
		if msg.Role == domain.RoleUser {
			label = "You"
		}
		full := label + ": " + msg.Content
		for _, raw := range strings.Split(full, "\n") {
			for _, line := range wrapLine(raw, wrapWidth) {
				writeLine(line)
			}
		}
		writeLine("")
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// wrapLine splits line at the last space before width; when no space
// exists within the limit it hard-breaks at exactly width.
func wrapLine(line string, width int) []string {
	var out []string
	for len(line) > width {
		pos := strings.LastIndex(line[:width], " ")
		if pos == -1 {
			pos = width
		}
		out = append(out, line[:pos])
		line = strings.TrimLeft(line[pos:], " ")
	}
	return append(out, line)
}

package quote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mailquote/mailquote/internal/storage"
)

// Document is a rendered quote ready to attach to a reply.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
	// Path is where the document was stored on disk, empty when the
	// renderer keeps nothing.
	Path string
}

// Renderer turns a stored quote into an attachable document.
type Renderer interface {
	Render(ctx context.Context, t *storage.Tenant, c *storage.Customer, p *storage.Product, q *storage.Quote) (*Document, error)
}

// PDFRenderer writes single-page PDF quotes to a directory.
type PDFRenderer struct {
	dir string
}

// NewPDFRenderer creates a renderer writing into dir, which is
// created if missing.
func NewPDFRenderer(dir string) (*PDFRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create quote directory: %w", err)
	}
	return &PDFRenderer{dir: dir}, nil
}

func (r *PDFRenderer) Render(_ context.Context, t *storage.Tenant, c *storage.Customer, p *storage.Product, q *storage.Quote) (*Document, error) {
	lines := []string{
		t.Name,
		"",
		"QUOTE " + q.Number,
		"Date: " + q.CreatedAt.Format("January 2, 2006"),
		"",
		"Prepared for: " + c.DisplayName() + " <" + c.Email + ">",
		"",
		"Item: " + p.Name,
		fmt.Sprintf("Size: %.4g\" x %.4g\" (%.4g sq in)", q.LengthIn, q.WidthIn, q.AreaSqIn),
		fmt.Sprintf("Unit price: $%.4f / sq in", q.UnitPrice),
		fmt.Sprintf("Total: $%.2f", q.TotalPrice),
		"",
		"This quote is valid for 30 days.",
	}

	data := renderPDF(lines)
	path := filepath.Join(r.dir, q.Number+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write quote pdf: %w", err)
	}

	return &Document{
		Filename:    q.Number + ".pdf",
		ContentType: "application/pdf",
		Data:        data,
		Path:        path,
	}, nil
}

// renderPDF emits a minimal single-page PDF with one text line per
// input line. Offsets in the xref table are computed from the actual
// byte positions so the output is valid for any content.
func renderPDF(lines []string) []byte {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 12 Tf\n72 720 Td\n14 TL\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", escapePDFText(line))
	}
	content.WriteString("ET\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)

	return buf.Bytes()
}

func escapePDFText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "(", "\\(")
	s = strings.ReplaceAll(s, ")", "\\)")
	return s
}

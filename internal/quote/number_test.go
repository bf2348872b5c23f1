package quote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewNumber(t *testing.T) {
	at := time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)

	n := NewNumber(at)
	assert.Regexp(t, `^Q-20260829-[A-Z0-9]{6}$`, n)

	// Suffixes are random, two calls should differ.
	assert.NotEqual(t, n, NewNumber(at))
}

func TestRenderPDF(t *testing.T) {
	data := renderPDF([]string{"Acme Co", "QUOTE Q-20260829-ABC123", "Total: $86.40"})

	s := string(data)
	assert.True(t, len(data) > 100)
	assert.Contains(t, s, "%PDF-1.4")
	assert.Contains(t, s, "QUOTE Q-20260829-ABC123")
	assert.Contains(t, s, "startxref")
	assert.Contains(t, s, "%%EOF")
}

func TestEscapePDFText(t *testing.T) {
	assert.Equal(t, `48" x 36" \(felt\)`, escapePDFText(`48" x 36" (felt)`))
	assert.Equal(t, `a\\b`, escapePDFText(`a\b`))
}

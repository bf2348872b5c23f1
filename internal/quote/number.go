package quote

import (
	"crypto/rand"
	"fmt"
	"time"
)

const numberCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewNumber generates a quote number like Q-20260829-X7K2P9. The
// random suffix makes collisions within a day vanishingly unlikely;
// the unique constraint on the column catches the rest.
func NewNumber(now time.Time) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a time-derived suffix.
		return fmt.Sprintf("Q-%s-%06d", now.Format("20060102"), now.UnixNano()%1000000)
	}
	for i, b := range buf {
		buf[i] = numberCharset[int(b)%len(numberCharset)]
	}
	return fmt.Sprintf("Q-%s-%s", now.Format("20060102"), buf)
}

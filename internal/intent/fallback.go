package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// dimensionPattern matches sizes like 48x36, 48 x 36, 48" x 36" and
// 48.5 × 36.
var dimensionPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*["']?\s*[x×]\s*["']?\s*(\d+(?:\.\d+)?)`)

// productKeywords is checked longest-phrase first so "felt rug" wins
// over "rug".
var productKeywords = []string{
	"felt rug",
	"acrylic tabletop",
	"rug",
	"tabletop",
	"felt",
}

var infoWords = []string{"here", "information", "details", "size", "dimension"}

// fallbackClassify is the deterministic classifier used when no LLM is
// available. It leans on threading: a reply to our own message that
// mentions details is almost certainly the info we asked for.
func fallbackClassify(body string, isReplyToUs bool) Classification {
	lower := strings.ToLower(body)

	if isReplyToUs {
		for _, w := range infoWords {
			if strings.Contains(lower, w) {
				return Classification{
					Intent:     IntentFollowUpWithInfo,
					Confidence: 0.7,
					Reason:     "reply to our message mentioning details",
				}
			}
		}
		return Classification{
			Intent:     IntentFollowUpQuestion,
			Confidence: 0.6,
			Reason:     "reply to our message without new details",
		}
	}

	return Classification{
		Intent:     IntentNewRequest,
		Confidence: 0.8,
		Reason:     "unthreaded inbound message",
	}
}

// fallbackExtract pulls dimensions and a product name out of the text
// with pattern matching.
func fallbackExtract(subject, body string) Extraction {
	text := strings.ToLower(subject + "\n" + body)

	ex := Extraction{Quantity: 1, Confidence: 0.3}

	if m := dimensionPattern.FindStringSubmatch(text); m != nil {
		length, err1 := strconv.ParseFloat(m[1], 64)
		width, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil && length > 0 && width > 0 {
			ex.LengthIn = length
			ex.WidthIn = width
			ex.Confidence = 0.7
		}
	}
	if ex.LengthIn <= 0 || ex.WidthIn <= 0 {
		ex.addMissing("dimensions")
	}

	for _, kw := range productKeywords {
		if strings.Contains(text, kw) {
			ex.ProductName = kw
			break
		}
	}
	if ex.ProductName == "" {
		ex.addMissing("product")
	}

	return ex
}

// Package intent classifies inbound email and extracts structured
// quote requests, using an LLM when configured and deterministic
// heuristics otherwise.
package intent

// Intent is the classified purpose of an inbound email.
type Intent string

const (
	IntentNewRequest       Intent = "new_request"
	IntentFollowUpWithInfo Intent = "follow_up_with_info"
	IntentFollowUpQuestion Intent = "follow_up_question"
	IntentDuplicate        Intent = "duplicate"
)

// Classification is the result of intent analysis.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Extraction holds the structured fields pulled from a quote request.
// MissingFields lists what the email did not provide; quoting can
// only proceed when it is empty.
type Extraction struct {
	ProductName   string   `json:"product_name"`
	LengthIn      float64  `json:"length_inches"`
	WidthIn       float64  `json:"width_inches"`
	Quantity      int      `json:"quantity"`
	MissingFields []string `json:"missing_fields"`
	Confidence    float64  `json:"confidence"`
}

// Complete reports whether enough was extracted to price a quote.
func (e *Extraction) Complete() bool {
	return len(e.MissingFields) == 0 && e.LengthIn > 0 && e.WidthIn > 0
}

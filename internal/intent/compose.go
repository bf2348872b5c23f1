package intent

import (
	"fmt"
	"strings"

	"github.com/mailquote/mailquote/internal/storage"
)

// ReplySubject derives the reply subject from the inbound one.
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return "Re: Your quote request"
	}
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}

// ComposeQuoteReply builds the reply body carrying a finished quote.
func ComposeQuoteReply(customerName string, q *storage.Quote, p *storage.Product, tenantName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", customerName)
	fmt.Fprintf(&b, "Thanks for your request. Here is your quote:\n\n")
	fmt.Fprintf(&b, "Quote number: %s\n", q.Number)
	fmt.Fprintf(&b, "Item: %s\n", p.Name)
	fmt.Fprintf(&b, "Size: %.4g\" x %.4g\" (%.4g sq in)\n", q.LengthIn, q.WidthIn, q.AreaSqIn)
	fmt.Fprintf(&b, "Total: $%.2f\n\n", q.TotalPrice)
	fmt.Fprintf(&b, "A PDF copy is attached. Reply to this email if you have any questions.\n\n")
	fmt.Fprintf(&b, "Best regards,\n%s\n", tenantName)
	return b.String()
}

// ComposeMissingInfoReply asks the sender for the fields we could not
// extract.
func ComposeMissingInfoReply(customerName string, missing []string) string {
	var asks []string
	for _, f := range missing {
		switch f {
		case "dimensions":
			asks = append(asks, "the size you need (length and width in inches)")
		case "product":
			asks = append(asks, "which product you are interested in")
		default:
			asks = append(asks, f)
		}
	}
	if len(asks) == 0 {
		asks = append(asks, "a few more details about what you need")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", customerName)
	fmt.Fprintf(&b, "Thanks for reaching out. To put together your quote we still need %s.\n\n",
		joinAnd(asks))
	fmt.Fprintf(&b, "Just reply to this email with the details and we'll send your quote right away.\n")
	return b.String()
}

// ComposeDuplicateReply acknowledges a repeat request without issuing
// a second quote.
func ComposeDuplicateReply(customerName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", customerName)
	fmt.Fprintf(&b, "Thanks for following up. We've already sent a quote for this request; ")
	fmt.Fprintf(&b, "please check your inbox (and spam folder) for our earlier reply.\n\n")
	fmt.Fprintf(&b, "If you'd like any changes, reply here and we'll prepare an updated quote.\n")
	return b.String()
}

// ComposeRejectionReply explains why a request could not be quoted.
func ComposeRejectionReply(customerName, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", customerName)
	fmt.Fprintf(&b, "Thanks for your request. Unfortunately we can't quote it as submitted: %s.\n\n", reason)
	fmt.Fprintf(&b, "If you can adjust the size, reply here and we'll be happy to quote again.\n")
	return b.String()
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

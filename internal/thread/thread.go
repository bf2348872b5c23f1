// Package thread derives conversation identity from email threading
// headers. Thread ids are weak: References and In-Reply-To are
// inconsistently present across mail clients, so every function here
// degrades gracefully when headers are missing.
package thread

import "context"

// Correlate derives a thread id from the In-Reply-To and References
// headers. The first id in References identifies the root of the
// thread; when References is absent, In-Reply-To is the best
// available anchor. Returns "" when the message starts a new thread.
func Correlate(inReplyTo string, references []string) string {
	if len(references) > 0 {
		return references[0]
	}
	return inReplyTo
}

// OutboundIndex is the lookup surface over previously sent messages.
type OutboundIndex interface {
	// HasMessageID reports whether we sent a message with this id.
	HasMessageID(ctx context.Context, messageID string) (bool, error)
	// HasReplyInThread reports whether any sent message carries this
	// thread id or replies to this source message id.
	HasReplyInThread(ctx context.Context, threadID, inReplyTo string) (bool, error)
}

// IsReplyToUs reports whether the inbound message replies to a
// message we sent.
func IsReplyToUs(ctx context.Context, inReplyTo string, index OutboundIndex) (bool, error) {
	if inReplyTo == "" {
		return false, nil
	}
	return index.HasMessageID(ctx, inReplyTo)
}

// HasExistingReply reports whether we already replied in this thread,
// used to suppress duplicate auto-replies.
func HasExistingReply(ctx context.Context, threadID, inReplyTo string, index OutboundIndex) (bool, error) {
	if threadID == "" && inReplyTo == "" {
		return false, nil
	}
	return index.HasReplyInThread(ctx, threadID, inReplyTo)
}

// Package quote drives an inbound email through classification,
// extraction, pricing and reply, recording every step so reprocessing
// the same message is always a no-op.
package quote

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/email"
	"github.com/mailquote/mailquote/internal/intent"
	"github.com/mailquote/mailquote/internal/outbound"
	"github.com/mailquote/mailquote/internal/pricing"
	"github.com/mailquote/mailquote/internal/storage"
	"github.com/mailquote/mailquote/internal/tenant"
	"github.com/mailquote/mailquote/internal/thread"
)

// Action names what the pipeline decided to do with a message.
type Action string

const (
	ActionSkippedSeen   Action = "skipped_seen"
	ActionAckDuplicate  Action = "acknowledged_duplicate"
	ActionRequestedInfo Action = "requested_info"
	ActionRejected      Action = "rejected"
	ActionQuoted        Action = "quoted"
)

// Outcome reports what processing an inbound message produced.
type Outcome struct {
	Action  Action
	QuoteID int64
}

// Classifier is the intent-analysis surface the pipeline needs.
type Classifier interface {
	Classify(ctx context.Context, subject, body string, isReplyToUs bool) intent.Classification
	Extract(ctx context.Context, subject, body string) intent.Extraction
}

// Orchestrator runs the email-to-quote pipeline for one message at a
// time.
type Orchestrator struct {
	store      *storage.Store
	resolver   *tenant.Resolver
	classifier Classifier
	pricer     *pricing.Engine
	sender     outbound.Sender
	renderer   Renderer
	logger     zerolog.Logger

	now func() time.Time
}

// NewOrchestrator wires the pipeline. A nil renderer means quotes are
// sent without an attached document.
func NewOrchestrator(
	store *storage.Store,
	resolver *tenant.Resolver,
	classifier Classifier,
	pricer *pricing.Engine,
	sender outbound.Sender,
	renderer Renderer,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		resolver:   resolver,
		classifier: classifier,
		pricer:     pricer,
		sender:     sender,
		renderer:   renderer,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		now:        time.Now,
	}
}

// Process handles one inbound email for a tenant. Safe to call with a
// message that was already handled: the message-id dedup check makes
// it a no-op.
func (o *Orchestrator) Process(ctx context.Context, tn *storage.Tenant, in *email.InboundEmail) (*Outcome, error) {
	log := o.logger.With().
		Int64("tenant_id", tn.ID).
		Str("message_id", in.MessageID).
		Str("from", in.From.Address).
		Logger()

	seen, err := o.store.HasInboundMessage(ctx, in.MessageID)
	if err != nil {
		return nil, err
	}
	if seen {
		log.Debug().Msg("Message already ingested, skipping")
		return &Outcome{Action: ActionSkippedSeen}, nil
	}

	threadID := thread.Correlate(in.InReplyTo, in.References)
	isReplyToUs, err := thread.IsReplyToUs(ctx, in.InReplyTo, o.store)
	if err != nil {
		return nil, err
	}

	msg := &storage.InboundMessage{
		TenantID:    tn.ID,
		MessageID:   in.MessageID,
		FromEmail:   in.From.Address,
		FromName:    in.From.Name,
		ToEmail:     in.FirstTo(),
		Subject:     in.Subject,
		Body:        in.TextBody,
		ReceivedAt:  in.ReceivedAt,
		InReplyTo:   in.InReplyTo,
		References:  strings.Join(in.References, " "),
		ThreadID:    threadID,
		IsReplyToUs: isReplyToUs,
	}
	if err := o.store.InsertInbound(ctx, msg); err != nil {
		return nil, err
	}

	return o.handle(ctx, tn, in, msg, threadID, log)
}

// Reprocess re-runs a stored message whose handling never completed,
// typically because the reply failed to send on an earlier attempt.
func (o *Orchestrator) Reprocess(ctx context.Context, tn *storage.Tenant, msg *storage.InboundMessage) (*Outcome, error) {
	if msg.Processed {
		return &Outcome{Action: ActionSkippedSeen}, nil
	}

	in := &email.InboundEmail{
		MessageID:  msg.MessageID,
		From:       email.Address{Name: msg.FromName, Address: msg.FromEmail},
		To:         []email.Address{{Address: msg.ToEmail}},
		Subject:    msg.Subject,
		TextBody:   msg.Body,
		ReceivedAt: msg.ReceivedAt,
		InReplyTo:  msg.InReplyTo,
		References: strings.Fields(msg.References),
	}

	log := o.logger.With().
		Int64("tenant_id", tn.ID).
		Str("message_id", msg.MessageID).
		Str("from", msg.FromEmail).
		Logger()
	log.Info().Msg("Reprocessing unfinished message")

	return o.handle(ctx, tn, in, msg, msg.ThreadID, log)
}

// handle runs classification and the quote flow for an ingested
// message. Classification is informational: apart from suppressing
// confident duplicates that already got a reply, every intent proceeds
// to extraction, so incomplete follow-ups still get asked for the
// missing details.
func (o *Orchestrator) handle(ctx context.Context, tn *storage.Tenant, in *email.InboundEmail, msg *storage.InboundMessage, threadID string, log zerolog.Logger) (*Outcome, error) {
	cl := o.classifier.Classify(ctx, in.Subject, in.TextBody, msg.IsReplyToUs)
	log.Info().
		Str("intent", string(cl.Intent)).
		Float64("confidence", cl.Confidence).
		Str("reason", cl.Reason).
		Msg("Classified inbound message")

	if cl.Intent == intent.IntentDuplicate && cl.Confidence > 0.7 {
		replied, err := thread.HasExistingReply(ctx, threadID, in.InReplyTo, o.store)
		if err != nil {
			return nil, err
		}
		if replied {
			return o.ackDuplicate(ctx, tn, in, msg, threadID, log)
		}
		// No prior reply on file: treat it as a new request rather
		// than ghosting the customer.
	}

	return o.quote(ctx, tn, in, msg, threadID, log)
}

func (o *Orchestrator) ackDuplicate(ctx context.Context, tn *storage.Tenant, in *email.InboundEmail, msg *storage.InboundMessage, threadID string, log zerolog.Logger) (*Outcome, error) {
	customer, _, err := o.store.EnsureCustomer(ctx, tn.ID, in.From.Address, in.From.Name)
	if err != nil {
		return nil, err
	}

	body := intent.ComposeDuplicateReply(customer.DisplayName())
	if err := o.sendReply(ctx, tn, in, msg.ID, threadID, nil, intent.ReplySubject(in.Subject), body, nil); err != nil {
		return nil, err
	}

	if err := o.store.MarkInboundProcessed(ctx, msg.ID); err != nil {
		return nil, err
	}
	log.Info().Msg("Acknowledged duplicate request")
	return &Outcome{Action: ActionAckDuplicate}, nil
}

func (o *Orchestrator) quote(ctx context.Context, tn *storage.Tenant, in *email.InboundEmail, msg *storage.InboundMessage, threadID string, log zerolog.Logger) (*Outcome, error) {
	customer, created, err := o.store.EnsureCustomer(ctx, tn.ID, in.From.Address, in.From.Name)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info().Int64("customer_id", customer.ID).Msg("New customer")
	}

	ex := o.classifier.Extract(ctx, in.Subject, in.TextBody)
	if !ex.Complete() {
		body := intent.ComposeMissingInfoReply(customer.DisplayName(), ex.MissingFields)
		if err := o.sendReply(ctx, tn, in, msg.ID, threadID, nil, intent.ReplySubject(in.Subject), body, nil); err != nil {
			return nil, err
		}
		if err := o.store.MarkInboundProcessed(ctx, msg.ID); err != nil {
			return nil, err
		}
		log.Info().Strs("missing", ex.MissingFields).Msg("Asked for missing details")
		return &Outcome{Action: ActionRequestedInfo}, nil
	}

	product, po, err := o.resolver.ResolveProduct(ctx, tn.ID, ex.ProductName)
	if err != nil {
		return nil, err
	}
	if po == tenant.OutcomeCreatedDefault {
		log.Info().Int64("product_id", product.ID).Msg("Quoting against auto-created default product")
	}

	if err := o.pricer.ValidateDimensions(product, ex.LengthIn, ex.WidthIn); err != nil {
		body := intent.ComposeRejectionReply(customer.DisplayName(), err.Error())
		if sendErr := o.sendReply(ctx, tn, in, msg.ID, threadID, nil, intent.ReplySubject(in.Subject), body, nil); sendErr != nil {
			return nil, sendErr
		}
		if err := o.store.MarkInboundProcessed(ctx, msg.ID); err != nil {
			return nil, err
		}
		log.Info().Msg("Rejected out-of-bounds request")
		return &Outcome{Action: ActionRejected}, nil
	}

	res, err := o.pricer.Calculate(product, ex.LengthIn, ex.WidthIn)
	if err != nil {
		return nil, err
	}

	q := &storage.Quote{
		TenantID:   tn.ID,
		Number:     NewNumber(o.now()),
		CustomerID: customer.ID,
		ProductID:  product.ID,
		LengthIn:   res.LengthIn,
		WidthIn:    res.WidthIn,
		AreaSqIn:   res.AreaSqIn,
		UnitPrice:  res.UnitPrice,
		TotalPrice: res.TotalPrice,
		CreatedAt:  o.now().UTC(),
	}
	if err := o.store.InsertQuote(ctx, q); err != nil {
		return nil, err
	}

	var doc *Document
	if o.renderer != nil {
		doc, err = o.renderer.Render(ctx, tn, customer, product, q)
		if err != nil {
			log.Warn().Err(err).Int64("quote_id", q.ID).Msg("Failed to render quote document, sending without attachment")
			doc = nil
		} else if doc.Path != "" {
			if err := o.store.UpdateQuotePDF(ctx, q.ID, doc.Path); err != nil {
				log.Warn().Err(err).Msg("Failed to record quote document path")
			}
		}
	}

	body := intent.ComposeQuoteReply(customer.DisplayName(), q, product, tn.Name)
	if err := o.sendReply(ctx, tn, in, msg.ID, threadID, &q.ID, intent.ReplySubject(in.Subject), body, doc); err != nil {
		return nil, err
	}

	if err := o.store.UpdateQuoteStatus(ctx, q.ID, storage.QuoteStatusSent); err != nil {
		return nil, err
	}
	if err := o.store.TouchCustomerQuoted(ctx, customer.ID, o.now().UTC()); err != nil {
		log.Warn().Err(err).Msg("Failed to update customer quote time")
	}
	if err := o.store.MarkInboundProcessed(ctx, msg.ID); err != nil {
		return nil, err
	}

	log.Info().
		Int64("quote_id", q.ID).
		Str("quote_number", q.Number).
		Float64("total", q.TotalPrice).
		Msg("Quote sent")

	return &Outcome{Action: ActionQuoted, QuoteID: q.ID}, nil
}

// sendReply delivers a reply and records the audit row. The row is
// written with status failed when delivery errors, so thread
// suppression never counts a reply the customer did not receive as
// sent, while the attempt itself stays visible.
func (o *Orchestrator) sendReply(ctx context.Context, tn *storage.Tenant, in *email.InboundEmail, inboundID int64, threadID string, quoteID *int64, subject, body string, doc *Document) error {
	msgID := outbound.NewMessageID(tn.SenderAddress())

	out := &email.OutboundEmail{
		From:       email.Address{Name: tn.Name, Address: tn.SenderAddress()},
		To:         []email.Address{in.From},
		Subject:    subject,
		TextBody:   body,
		MessageID:  msgID,
		InReplyTo:  in.MessageID,
		References: append(append([]string{}, in.References...), in.MessageID),
	}
	if doc != nil {
		out.Attachments = []email.Attachment{{
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			Size:        int64(len(doc.Data)),
			Data:        doc.Data,
		}}
	}

	sendErr := o.sender.Send(ctx, out)

	status := storage.OutboundStatusSent
	if sendErr != nil {
		status = storage.OutboundStatusFailed
	}

	// A reply to an unthreaded message roots a new thread at that
	// message.
	replyThread := threadID
	if replyThread == "" {
		replyThread = in.MessageID
	}

	record := &storage.OutboundMessage{
		TenantID:  tn.ID,
		QuoteID:   quoteID,
		InboundID: &inboundID,
		ToEmail:   in.From.Address,
		Subject:   subject,
		Body:      body,
		MessageID: msgID,
		InReplyTo: in.MessageID,
		ThreadID:  replyThread,
		Status:    status,
		SentAt:    o.now().UTC(),
	}
	if err := o.store.InsertOutbound(ctx, record); err != nil {
		o.logger.Error().Err(err).Msg("Failed to record outbound message")
	}

	return sendErr
}

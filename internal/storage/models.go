package storage

import (
	"strings"
	"time"
)

// Tenant is an independent business with its own mailbox, catalog and
// delegated credentials.
type Tenant struct {
	ID    int64
	Name  string
	Email string

	IMAPHost         string
	IMAPPort         int
	IMAPFolder       string
	PollIntervalMins int

	// Sealed credential fields, written only through the credential
	// persistence methods.
	RefreshTokenSealed string
	AccessTokenSealed  string
	TokenExpiresAt     *time.Time
	ConnectedAt        *time.Time
	OAuthEmail         string

	Active    bool
	CreatedAt time.Time
}

// HasCredentials reports whether the tenant has a stored refresh token.
func (t *Tenant) HasCredentials() bool {
	return t.RefreshTokenSealed != ""
}

// SenderAddress is the address outbound mail is sent as. Prefers the
// authorized mailbox address over the configured contact address.
func (t *Tenant) SenderAddress() string {
	if t.OAuthEmail != "" {
		return t.OAuthEmail
	}
	return t.Email
}

// Product is a catalog entry priced either by a flat per-square-inch
// rate or by a formula.
type Product struct {
	ID          int64
	TenantID    int64
	Name        string
	Description string
	RatePerSqIn float64
	Formula     string
	MinSizeSqIn float64
	MaxSizeSqIn float64
	Active      bool
}

// Customer is a sender known to a tenant.
type Customer struct {
	ID           int64
	TenantID     int64
	Email        string
	Name         string
	LastQuotedAt *time.Time
	CreatedAt    time.Time
}

// DisplayName returns the best available name for addressing the
// customer in a reply.
func (c *Customer) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if i := strings.IndexByte(c.Email, '@'); i > 0 {
		return c.Email[:i]
	}
	return c.Email
}

// InboundMessage is an ingested email. Immutable once created except
// for the processed flag. MessageID is the dedup key: a message whose
// id is already on file is never re-ingested.
type InboundMessage struct {
	ID         int64
	TenantID   int64
	MessageID  string
	FromEmail  string
	FromName   string
	ToEmail    string
	Subject    string
	Body       string
	ReceivedAt time.Time

	InReplyTo   string
	References  string
	ThreadID    string
	IsReplyToUs bool

	Processed   bool
	ProcessedAt *time.Time
}

// OutboundStatus is the delivery status of a reply record.
type OutboundStatus string

const (
	OutboundStatusSent   OutboundStatus = "sent"
	OutboundStatusFailed OutboundStatus = "failed"
)

// OutboundMessage is the audit record of an auto-reply and the lookup
// surface for thread suppression. A row is written even when delivery
// fails, with Status marking the outcome.
type OutboundMessage struct {
	ID        int64
	TenantID  int64
	QuoteID   *int64
	InboundID *int64
	ToEmail   string
	Subject   string
	Body      string
	MessageID string
	InReplyTo string
	ThreadID  string
	Status    OutboundStatus
	SentAt    time.Time
}

// QuoteStatus is the lifecycle state of a quote.
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "pending"
	QuoteStatusSent     QuoteStatus = "sent"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
)

// Quote is a priced offer. Dimensions and prices are immutable after
// creation; only Status and PDFPath change.
type Quote struct {
	ID         int64
	TenantID   int64
	Number     string
	CustomerID int64
	ProductID  int64
	LengthIn   float64
	WidthIn    float64
	AreaSqIn   float64
	UnitPrice  float64
	TotalPrice float64
	Status     QuoteStatus
	PDFPath    string
	CreatedAt  time.Time
}

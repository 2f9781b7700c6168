package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vhqtvn/vh-mail-hook/internal/dkim"
	"github.com/vhqtvn/vh-mail-hook/internal/logging"
	"github.com/vhqtvn/vh-mail-hook/internal/mailbox"
	"github.com/vhqtvn/vh-mail-hook/internal/message"
	"github.com/vhqtvn/vh-mail-hook/internal/metrics"
	"github.com/vhqtvn/vh-mail-hook/internal/seal"
	"github.com/vhqtvn/vh-mail-hook/internal/storage"
)

// Delivery is the outcome of committing a message for one recipient.
type Delivery struct {
	Recipient Recipient
	Accepted  bool
	// Transient is set for failures the client should retry.
	Transient bool
	Detail    string
}

// Pipeline turns a completed DATA phase into stored, sealed emails. The
// message is parsed once; each recipient is then sealed and inserted
// independently so one bad mailbox cannot sink the rest.
type Pipeline struct {
	Parser        *message.Parser
	Store         storage.Store
	Verifier      *dkim.Verifier // nil skips DKIM
	Collector     metrics.Collector
	DefaultExpiry time.Duration // 0 = messages never expire

	// now is a hook for tests.
	now func() time.Time
}

// NewPipeline creates a commit pipeline.
func NewPipeline(parser *message.Parser, store storage.Store, verifier *dkim.Verifier, collector metrics.Collector, defaultExpiry time.Duration) *Pipeline {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Pipeline{
		Parser:        parser,
		Store:         store,
		Verifier:      verifier,
		Collector:     collector,
		DefaultExpiry: defaultExpiry,
		now:           time.Now,
	}
}

// Commit processes the raw message for every accepted recipient and
// renders the final reply. The reply is honest: it reports exactly
// which recipients got the message.
func (p *Pipeline) Commit(ctx context.Context, session *Session, raw []byte) Result {
	logger := logging.FromContext(ctx)
	recipients := session.Recipients()
	senderDomain := domainOf(session.Sender())

	parsed, err := p.Parser.Parse(raw)
	if err != nil {
		reason, result := classifyParseError(err)
		for _, r := range recipients {
			p.Collector.MessageRejected(domainOf(r.Match.Canonical), reason)
		}
		logger.Info("message rejected",
			slog.String("reason", reason),
			slog.Int("size", len(raw)),
		)
		return result
	}
	defer parsed.Wipe()

	if p.Verifier != nil && p.Verifier.Mode() != dkim.ModeOff {
		res, err := p.Verifier.Verify(ctx, bytes.NewReader(raw))
		if err != nil {
			logger.Warn("dkim verification error", slog.String("error", err.Error()))
		} else {
			outcome := "pass"
			if res.Signed && !res.Passed() {
				outcome = "fail"
			} else if !res.Signed {
				outcome = "unsigned"
			}
			p.Collector.DKIMCheckCompleted(senderDomain, outcome)

			if p.Verifier.ShouldReject(res) {
				for _, r := range recipients {
					p.Collector.MessageRejected(domainOf(r.Match.Canonical), "dkim_fail")
				}
				logger.Info("message rejected",
					slog.String("reason", "dkim_fail"),
					slog.String("sender_domain", senderDomain),
				)
				return Result{Code: 550, Message: "5.7.20 DKIM signature verification failed"}
			}
		}
	}

	payload := parsed.Payload()
	receivedAt := p.now()

	deliveries := make([]Delivery, 0, len(recipients))
	for _, r := range recipients {
		d := p.deliverOne(ctx, r, payload, receivedAt)
		deliveries = append(deliveries, d)

		result := "stored"
		if !d.Accepted {
			result = d.Detail
		}
		p.Collector.DeliveryCompleted(domainOf(r.Match.Canonical), result)

		logger.Info("delivery",
			slog.String("recipient", r.Match.Canonical),
			slog.Bool("accepted", d.Accepted),
			slog.String("detail", d.Detail),
		)
	}

	if anyAccepted(deliveries) {
		p.Collector.MessageReceived(domainOf(recipients[0].Match.Canonical), int64(len(raw)))
	}

	return renderReply(deliveries)
}

// deliverOne seals the payload for a single recipient and stores it.
func (p *Pipeline) deliverOne(ctx context.Context, r Recipient, payload []byte, receivedAt time.Time) Delivery {
	mb := r.Match.Mailbox
	if mb == nil {
		return Delivery{Recipient: r, Detail: "no_mailbox"}
	}

	sealed, err := seal.Seal(mb.PublicKey, payload)
	if err != nil {
		// A bad stored key will not heal on retry.
		return Delivery{Recipient: r, Detail: "seal_error"}
	}

	email := &mailbox.Email{
		ID:               uuid.NewString(),
		MailboxID:        mb.ID,
		EncryptedContent: sealed,
		ReceivedAt:       receivedAt,
		ExpiresAt:        p.expiresAt(mb, receivedAt),
	}

	if err := p.Store.InsertEmail(ctx, email); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Delivery{Recipient: r, Transient: true, Detail: "store_timeout"}
		}
		return Delivery{Recipient: r, Transient: true, Detail: "store_error"}
	}

	return Delivery{Recipient: r, Accepted: true, Detail: "stored"}
}

// expiresAt computes the expiry for a mailbox: the mailbox's own policy
// wins, else the configured default, else never. A mailbox policy of 0
// means immediate expiry (expires_at = received_at), so the next sweep
// removes the record; only an absent policy with no default means the
// record is kept forever.
func (p *Pipeline) expiresAt(mb *mailbox.Mailbox, receivedAt time.Time) *time.Time {
	if mb.MailExpiresIn != nil {
		t := receivedAt.Add(*mb.MailExpiresIn)
		return &t
	}
	if p.DefaultExpiry <= 0 {
		return nil
	}
	t := receivedAt.Add(p.DefaultExpiry)
	return &t
}

// classifyParseError maps a parse failure to a metric reason and reply.
func classifyParseError(err error) (string, Result) {
	switch {
	case errors.Is(err, message.ErrTooLarge):
		return "too_large", Result{Code: 552, Message: "5.3.4 Message size exceeds fixed maximum"}
	case errors.Is(err, message.ErrMalformedEnvelope):
		return "malformed", Result{Code: 554, Message: "5.6.0 Message content rejected"}
	default:
		return "parse_error", Result{Code: 451, Message: "4.3.0 Error processing message"}
	}
}

func anyAccepted(deliveries []Delivery) bool {
	for _, d := range deliveries {
		if d.Accepted {
			return true
		}
	}
	return false
}

// renderReply builds the final reply. All recipients stored gives a
// plain 250; a mix gives a multi-line 250 naming each outcome; total
// failure gives 451 when anything was transient, else 554.
func renderReply(deliveries []Delivery) Result {
	accepted := 0
	transient := false
	for _, d := range deliveries {
		if d.Accepted {
			accepted++
		} else if d.Transient {
			transient = true
		}
	}

	if accepted == len(deliveries) {
		return Result{Code: 250, Message: "2.0.0 Message accepted for delivery"}
	}

	if accepted == 0 {
		if transient {
			return Result{Code: 451, Message: "4.3.0 Message not stored for any recipient, try again"}
		}
		return Result{Code: 554, Message: "5.5.0 Message not stored for any recipient"}
	}

	// Partial success: one line per recipient so the client knows
	// exactly who got the message.
	lines := make([]string, 0, len(deliveries)+1)
	lines = append(lines, "2.0.0 Message accepted for some recipients")
	for _, d := range deliveries {
		status := "failed"
		if d.Accepted {
			status = "delivered"
		}
		lines = append(lines, fmt.Sprintf("%s <%s>", status, d.Recipient.Match.Canonical))
	}
	return Result{Code: 250, Lines: lines}
}

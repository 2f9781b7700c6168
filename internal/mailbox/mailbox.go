// Package mailbox defines the records shared between the ingestion engine
// and the external web API: registered mailboxes and the encrypted emails
// delivered to them. The engine only ever reads mailboxes and inserts
// emails; all other mutations happen through the web API.
package mailbox

import (
	"context"
	"crypto/rand"
	"errors"
	"time"
)

// ErrNotFound is returned by Directory lookups when no mailbox exists for
// the given canonical address.
var ErrNotFound = errors.New("mailbox not found")

// Mailbox is a registered inbox. PublicKey is an age x25519 recipient
// string ("age1..."); the matching identity is never held by the server.
type Mailbox struct {
	ID            string
	Address       string // canonical local@domain, lookup key
	PublicKey     string
	CreatedAt     time.Time
	MailExpiresIn *time.Duration // nil = no per-mailbox retention policy
}

// Email is a sealed message persisted for one mailbox. EncryptedContent is
// the only representation of the message content ever written to durable
// storage; ExpiresAt nil means the record never expires.
type Email struct {
	ID               string
	MailboxID        string
	EncryptedContent string
	ReceivedAt       time.Time
	ExpiresAt        *time.Time
}

// Directory is the read-only view of mailbox records consumed by the
// ingestion engine. Implementations are expected to read the same tables
// the external web API writes.
type Directory interface {
	// LookupByAddress returns the mailbox registered under the canonical
	// address, or ErrNotFound.
	LookupByAddress(ctx context.Context, address string) (*Mailbox, error)

	// RetentionPolicy returns the per-mailbox retention duration, or nil
	// when the mailbox has none.
	RetentionPolicy(ctx context.Context, mailboxID string) (*time.Duration, error)

	// SupportedDomains returns the domains this server accepts mail for.
	SupportedDomains(ctx context.Context) ([]string, error)
}

// aliasCharset contains 24 visually distinct characters used for generated
// mailbox aliases.
const aliasCharset = "3479acdefhjkmnpqrstuvwxy"

// GenerateAlias returns a random alias of n characters drawn from the
// alias charset. Used by fixtures and the mailbox provisioning path.
func GenerateAlias(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		// 24 does not divide 256 evenly; the bias is ~0.4% per character
		// and acceptable for aliases, which are not secrets.
		out[i] = aliasCharset[int(b)%len(aliasCharset)]
	}
	return string(out), nil
}

// Package storage defines the durable store shared by the ingestion
// engine, the retention scheduler, and the external web API. The store is
// the single source of truth: sessions insert email records, the scheduler
// deletes expired ones, and nothing in between caches email state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vhqtvn/vh-mail-hook/internal/mailbox"
)

// ErrNotFound is returned for lookups of records that do not exist.
// Deletes of missing records are NOT errors; see Store.DeleteEmail.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface for mailboxes and sealed emails.
//
// All operations are atomic with respect to each other; callers never see
// a partially-written email record. Implementations must be safe for
// concurrent use by many SMTP sessions and the retention scheduler.
type Store interface {
	// CreateMailbox registers a mailbox. Address uniqueness is enforced.
	CreateMailbox(ctx context.Context, mb *mailbox.Mailbox) error

	// GetMailbox returns a mailbox by ID, or ErrNotFound.
	GetMailbox(ctx context.Context, id string) (*mailbox.Mailbox, error)

	// GetMailboxByAddress returns the mailbox registered under the
	// canonical address, or mailbox.ErrNotFound.
	GetMailboxByAddress(ctx context.Context, address string) (*mailbox.Mailbox, error)

	// InsertEmail persists one sealed email record.
	InsertEmail(ctx context.Context, email *mailbox.Email) error

	// ListEmails returns the sealed emails for a mailbox, newest first.
	// Consumed by the external API, provided here so both sides share one
	// consistency domain.
	ListEmails(ctx context.Context, mailboxID string) ([]*mailbox.Email, error)

	// DeleteEmail removes one email. Deleting a record that is already
	// gone is a no-op: a user-initiated delete may race the scheduler.
	DeleteEmail(ctx context.Context, id string) error

	// DeleteExpiredBefore removes every email whose expiry is at or
	// before now, returning the number of rows deleted.
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error)

	// Close releases the underlying resources.
	Close() error
}

package mailbox

import (
	"context"
	"time"
)

// Source is the subset of the storage layer the directory needs. It is
// satisfied by storage.Store.
type Source interface {
	GetMailboxByAddress(ctx context.Context, address string) (*Mailbox, error)
	GetMailbox(ctx context.Context, id string) (*Mailbox, error)
}

// StoreDirectory implements Directory on top of the shared storage layer.
// The supported-domain set comes from static configuration; domain
// management is owned by the external API and reloaded on restart.
type StoreDirectory struct {
	source  Source
	domains []string
}

// NewStoreDirectory creates a Directory backed by the given source.
func NewStoreDirectory(source Source, domains []string) *StoreDirectory {
	return &StoreDirectory{
		source:  source,
		domains: domains,
	}
}

// LookupByAddress implements Directory.
func (d *StoreDirectory) LookupByAddress(ctx context.Context, address string) (*Mailbox, error) {
	return d.source.GetMailboxByAddress(ctx, address)
}

// RetentionPolicy implements Directory.
func (d *StoreDirectory) RetentionPolicy(ctx context.Context, mailboxID string) (*time.Duration, error) {
	mb, err := d.source.GetMailbox(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	return mb.MailExpiresIn, nil
}

// SupportedDomains implements Directory.
func (d *StoreDirectory) SupportedDomains(ctx context.Context) ([]string, error) {
	domains := make([]string, len(d.domains))
	copy(domains, d.domains)
	return domains, nil
}

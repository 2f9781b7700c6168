// Package memory provides an in-memory Store used by tests and local
// development. Semantics match the SQL store, including idempotent deletes
// and address uniqueness.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vhqtvn/vh-mail-hook/internal/mailbox"
	"github.com/vhqtvn/vh-mail-hook/internal/storage"
)

// Store is a map-backed storage.Store.
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox.Mailbox // by ID
	byAddress map[string]string           // canonical address -> ID
	emails    map[string]*mailbox.Email   // by ID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		mailboxes: make(map[string]*mailbox.Mailbox),
		byAddress: make(map[string]string),
		emails:    make(map[string]*mailbox.Email),
	}
}

// CreateMailbox implements storage.Store.
func (s *Store) CreateMailbox(_ context.Context, mb *mailbox.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAddress[mb.Address]; exists {
		return fmt.Errorf("mailbox address %q already registered", mb.Address)
	}
	clone := *mb
	s.mailboxes[mb.ID] = &clone
	s.byAddress[mb.Address] = mb.ID
	return nil
}

// GetMailbox implements storage.Store.
func (s *Store) GetMailbox(_ context.Context, id string) (*mailbox.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *mb
	return &clone, nil
}

// GetMailboxByAddress implements storage.Store.
func (s *Store) GetMailboxByAddress(_ context.Context, address string) (*mailbox.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, mailbox.ErrNotFound
	}
	clone := *s.mailboxes[id]
	return &clone, nil
}

// InsertEmail implements storage.Store.
func (s *Store) InsertEmail(_ context.Context, email *mailbox.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emails[email.ID]; exists {
		return fmt.Errorf("email %q already exists", email.ID)
	}
	clone := *email
	s.emails[email.ID] = &clone
	return nil
}

// ListEmails implements storage.Store.
func (s *Store) ListEmails(_ context.Context, mailboxID string) ([]*mailbox.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*mailbox.Email
	for _, e := range s.emails {
		if e.MailboxID == mailboxID {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

// DeleteEmail implements storage.Store. Missing records are a no-op.
func (s *Store) DeleteEmail(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.emails, id)
	return nil
}

// DeleteExpiredBefore implements storage.Store.
func (s *Store) DeleteExpiredBefore(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, e := range s.emails {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			delete(s.emails, id)
			count++
		}
	}
	return count, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

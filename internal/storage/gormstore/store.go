// Package gormstore implements the durable Store on a SQL database via
// GORM. SQLite covers single-node deployments; Postgres is available for
// shared setups. The web API operates on the same tables.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vhqtvn/vh-mail-hook/internal/mailbox"
	"github.com/vhqtvn/vh-mail-hook/internal/storage"
)

// mailboxRecord is the mailboxes table row.
type mailboxRecord struct {
	ID            string `gorm:"primaryKey"`
	Address       string `gorm:"uniqueIndex;not null"`
	PublicKey     string `gorm:"not null"`
	CreatedAt     time.Time
	MailExpiresIn *int64 // retention duration in seconds, NULL = none
}

func (mailboxRecord) TableName() string { return "mailboxes" }

// emailRecord is the emails table row. EncryptedContent is the only
// message representation that ever reaches this table.
type emailRecord struct {
	ID               string `gorm:"primaryKey"`
	MailboxID        string `gorm:"index;not null"`
	EncryptedContent string `gorm:"not null"`
	ReceivedAt       time.Time
	ExpiresAt        *time.Time `gorm:"index"`
}

func (emailRecord) TableName() string { return "emails" }

// Store is a SQL-backed storage.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to the database named by driver ("sqlite" or "postgres")
// and dsn, and ensures the schema exists.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	if err := db.AutoMigrate(&mailboxRecord{}, &emailRecord{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateMailbox implements storage.Store.
func (s *Store) CreateMailbox(ctx context.Context, mb *mailbox.Mailbox) error {
	rec := toMailboxRecord(mb)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating mailbox: %w", err)
	}
	return nil
}

// GetMailbox implements storage.Store.
func (s *Store) GetMailbox(ctx context.Context, id string) (*mailbox.Mailbox, error) {
	var rec mailboxRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading mailbox: %w", err)
	}
	return fromMailboxRecord(&rec), nil
}

// GetMailboxByAddress implements storage.Store.
func (s *Store) GetMailboxByAddress(ctx context.Context, address string) (*mailbox.Mailbox, error) {
	var rec mailboxRecord
	err := s.db.WithContext(ctx).First(&rec, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, mailbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading mailbox by address: %w", err)
	}
	return fromMailboxRecord(&rec), nil
}

// InsertEmail implements storage.Store.
func (s *Store) InsertEmail(ctx context.Context, email *mailbox.Email) error {
	rec := &emailRecord{
		ID:               email.ID,
		MailboxID:        email.MailboxID,
		EncryptedContent: email.EncryptedContent,
		ReceivedAt:       email.ReceivedAt,
		ExpiresAt:        email.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("inserting email: %w", err)
	}
	return nil
}

// ListEmails implements storage.Store.
func (s *Store) ListEmails(ctx context.Context, mailboxID string) ([]*mailbox.Email, error) {
	var recs []emailRecord
	err := s.db.WithContext(ctx).
		Where("mailbox_id = ?", mailboxID).
		Order("received_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing emails: %w", err)
	}

	out := make([]*mailbox.Email, 0, len(recs))
	for i := range recs {
		r := recs[i]
		out = append(out, &mailbox.Email{
			ID:               r.ID,
			MailboxID:        r.MailboxID,
			EncryptedContent: r.EncryptedContent,
			ReceivedAt:       r.ReceivedAt,
			ExpiresAt:        r.ExpiresAt,
		})
	}
	return out, nil
}

// DeleteEmail implements storage.Store. Zero rows affected is success.
func (s *Store) DeleteEmail(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&emailRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting email: %w", err)
	}
	return nil
}

// DeleteExpiredBefore implements storage.Store.
func (s *Store) DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&emailRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("deleting expired emails: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toMailboxRecord(mb *mailbox.Mailbox) *mailboxRecord {
	rec := &mailboxRecord{
		ID:        mb.ID,
		Address:   mb.Address,
		PublicKey: mb.PublicKey,
		CreatedAt: mb.CreatedAt,
	}
	if mb.MailExpiresIn != nil {
		secs := int64(mb.MailExpiresIn.Seconds())
		rec.MailExpiresIn = &secs
	}
	return rec
}

func fromMailboxRecord(rec *mailboxRecord) *mailbox.Mailbox {
	mb := &mailbox.Mailbox{
		ID:        rec.ID,
		Address:   rec.Address,
		PublicKey: rec.PublicKey,
		CreatedAt: rec.CreatedAt,
	}
	if rec.MailExpiresIn != nil {
		d := time.Duration(*rec.MailExpiresIn) * time.Second
		mb.MailExpiresIn = &d
	}
	return mb
}

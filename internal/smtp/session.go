package smtp

import (
	"github.com/vhqtvn/vh-mail-hook/internal/address"
)

// SessionConfig holds configurable limits and settings (reusable across
// sessions).
type SessionConfig struct {
	MaxRecipients    int   // Maximum number of RCPT TO recipients (default: 100)
	MaxMessageSize   int64 // Maximum message size in bytes (0 = unlimited)
	MaxHeloDomainLen int   // Maximum HELO/EHLO domain length (default: 255)
	MaxEmailLen      int   // Maximum email address length (default: 320)
}

// DefaultSessionConfig returns sensible defaults per RFC 5321.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxRecipients:    100,
		MaxMessageSize:   10485760, // 10 MiB
		MaxHeloDomainLen: 255,      // per RFC 5321
		MaxEmailLen:      320,      // 64 local + @ + 255 domain
	}
}

// ConnectionInfo holds per-connection context about the client.
type ConnectionInfo struct {
	ClientIP string // Remote IP address
}

// Recipient is one accepted RCPT TO, carrying its resolved mailbox so
// commit does not look it up again.
type Recipient struct {
	Raw   string // address as the client sent it
	Match address.Match
}

// Session represents one SMTP session's state.
type Session struct {
	config     SessionConfig
	connInfo   ConnectionInfo
	state      SessionState
	helo       string
	sender     string
	recipients []Recipient

	// TLS state
	tlsActive bool
}

// NewSession creates a new session with the given connection info and
// config.
func NewSession(connInfo ConnectionInfo, config SessionConfig) *Session {
	return &Session{
		config:     config,
		connInfo:   connInfo,
		state:      StateConnected,
		recipients: make([]Recipient, 0),
	}
}

// Config returns the session configuration.
func (s *Session) Config() SessionConfig {
	return s.config
}

// ConnInfo returns the connection information.
func (s *Session) ConnInfo() ConnectionInfo {
	return s.connInfo
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return s.state
}

// SetState sets the session state.
func (s *Session) SetState(state SessionState) {
	s.state = state
}

// SetHelo sets the HELO/EHLO domain.
func (s *Session) SetHelo(domain string) {
	s.helo = domain
}

// Helo returns the HELO/EHLO domain.
func (s *Session) Helo() string {
	return s.helo
}

// SetSender sets the envelope sender.
func (s *Session) SetSender(sender string) {
	s.sender = sender
}

// Sender returns the envelope sender.
func (s *Session) Sender() string {
	return s.sender
}

// AddRecipient adds an accepted recipient to the envelope.
func (s *Session) AddRecipient(r Recipient) {
	s.recipients = append(s.recipients, r)
}

// Recipients returns a copy of the envelope recipients.
func (s *Session) Recipients() []Recipient {
	result := make([]Recipient, len(s.recipients))
	copy(result, s.recipients)
	return result
}

// RecipientCount returns the number of accepted recipients.
func (s *Session) RecipientCount() int {
	return len(s.recipients)
}

// InData returns whether the session is receiving message content.
func (s *Session) InData() bool {
	return s.state == StateDataStreaming
}

// Reset clears the current mail transaction (keeps HELO and TLS state).
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = make([]Recipient, 0)
	if s.state != StateConnected && !s.state.Terminal() {
		s.state = StateGreeted
	}
}

// ResetForTLS discards all session knowledge after a STARTTLS upgrade,
// as RFC 3207 requires. TLS state itself is set separately.
func (s *Session) ResetForTLS() {
	s.helo = ""
	s.sender = ""
	s.recipients = make([]Recipient, 0)
	s.state = StateConnected
}

// Abort moves the session to its failure terminal state.
func (s *Session) Abort() {
	s.state = StateAborted
}

// SetTLSActive marks the session as TLS-encrypted.
func (s *Session) SetTLSActive(active bool) {
	s.tlsActive = active
}

// IsTLSActive returns whether the connection is TLS-encrypted.
func (s *Session) IsTLSActive() bool {
	return s.tlsActive
}

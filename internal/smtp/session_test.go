package smtp

import (
	"testing"

	"github.com/vhqtvn/vh-mail-hook/internal/address"
)

func TestSessionResetKeepsGreeting(t *testing.T) {
	s := NewSession(ConnectionInfo{ClientIP: "203.0.113.7"}, DefaultSessionConfig())
	s.SetHelo("client.example.org")
	s.SetState(StateGreeted)
	s.SetSender("sender@example.org")
	s.SetState(StateMailFrom)
	s.AddRecipient(Recipient{Raw: "box@example.com"})
	s.SetState(StateRcptAccumulating)

	s.Reset()

	if s.Helo() != "client.example.org" {
		t.Errorf("helo = %q, want preserved", s.Helo())
	}
	if s.Sender() != "" {
		t.Errorf("sender = %q, want cleared", s.Sender())
	}
	if s.RecipientCount() != 0 {
		t.Errorf("recipients = %d, want 0", s.RecipientCount())
	}
	if s.State() != StateGreeted {
		t.Errorf("state = %v, want GREETED", s.State())
	}
}

func TestSessionResetBeforeGreeting(t *testing.T) {
	s := NewSession(ConnectionInfo{}, DefaultSessionConfig())

	s.Reset()

	if s.State() != StateConnected {
		t.Errorf("state = %v, want CONNECTED", s.State())
	}
}

func TestSessionResetForTLS(t *testing.T) {
	s := NewSession(ConnectionInfo{ClientIP: "203.0.113.7"}, DefaultSessionConfig())
	s.SetHelo("client.example.org")
	s.SetState(StateGreeted)
	s.SetSender("sender@example.org")
	s.SetState(StateMailFrom)

	s.ResetForTLS()

	if s.Helo() != "" {
		t.Errorf("helo = %q, want cleared after TLS restart", s.Helo())
	}
	if s.Sender() != "" {
		t.Errorf("sender = %q, want cleared", s.Sender())
	}
	if s.State() != StateConnected {
		t.Errorf("state = %v, want CONNECTED", s.State())
	}
}

func TestSessionRecipientsReturnsCopy(t *testing.T) {
	s := NewSession(ConnectionInfo{}, DefaultSessionConfig())
	s.AddRecipient(Recipient{Raw: "box@example.com", Match: address.Match{Canonical: "box@example.com"}})

	got := s.Recipients()
	got[0].Raw = "tampered"

	if s.Recipients()[0].Raw != "box@example.com" {
		t.Error("Recipients exposed internal slice")
	}
}

func TestSessionAbort(t *testing.T) {
	s := NewSession(ConnectionInfo{}, DefaultSessionConfig())
	s.Abort()

	if s.State() != StateAborted {
		t.Errorf("state = %v, want ABORTED", s.State())
	}
	if !s.State().Terminal() {
		t.Error("aborted session not terminal")
	}
}

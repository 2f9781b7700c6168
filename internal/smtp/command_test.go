package smtp

import (
	"context"
	"strings"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/vhqtvn/vh-mail-hook/internal/address"
	"github.com/vhqtvn/vh-mail-hook/internal/greylist"
	"github.com/vhqtvn/vh-mail-hook/internal/mailbox"
)

// fakeDirectory serves a fixed mailbox set for command tests.
type fakeDirectory struct {
	boxes   map[string]*mailbox.Mailbox
	domains []string
}

func (d *fakeDirectory) LookupByAddress(_ context.Context, addr string) (*mailbox.Mailbox, error) {
	if mb, ok := d.boxes[addr]; ok {
		return mb, nil
	}
	return nil, mailbox.ErrNotFound
}

func (d *fakeDirectory) RetentionPolicy(_ context.Context, id string) (*time.Duration, error) {
	for _, mb := range d.boxes {
		if mb.ID == id {
			return mb.MailExpiresIn, nil
		}
	}
	return nil, mailbox.ErrNotFound
}

func (d *fakeDirectory) SupportedDomains(_ context.Context) ([]string, error) {
	return d.domains, nil
}

func testMatcher(t *testing.T) *address.Matcher {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	dir := &fakeDirectory{
		boxes: map[string]*mailbox.Mailbox{
			"box@example.com":    {ID: "mb-1", Address: "box@example.com", PublicKey: identity.Recipient().String()},
			"badkey@example.com": {ID: "mb-bad", Address: "badkey@example.com", PublicKey: "not-an-age-key"},
		},
		domains: []string{"example.com"},
	}
	return address.NewMatcher(dir, address.DefaultPolicy())
}

func testRegistry(t *testing.T) *CommandRegistry {
	t.Helper()
	return NewCommandRegistry(RegistryDeps{
		Hostname:       "mx.example.com",
		Matcher:        testMatcher(t),
		MaxMessageSize: 10485760,
	})
}

func greetedSession() *Session {
	s := NewSession(ConnectionInfo{ClientIP: "203.0.113.7"}, DefaultSessionConfig())
	s.SetHelo("client.example.org")
	s.SetState(StateGreeted)
	return s
}

func execute(t *testing.T, reg *CommandRegistry, s *Session, line string) Result {
	t.Helper()
	cmd, matches, err := reg.Match(line)
	if err != nil {
		t.Fatalf("Match(%q): %v", line, err)
	}
	result, err := cmd.Execute(context.Background(), s, matches)
	if err != nil {
		t.Fatalf("Execute(%q): %v", line, err)
	}
	return result
}

func TestRegistryMatch(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		line    string
		wantErr bool
	}{
		{"EHLO client.example.org", false},
		{"ehlo client.example.org", false},
		{"HELO client.example.org", false},
		{"MAIL FROM:<a@b.example>", false},
		{"RCPT TO:<box@example.com>", false},
		{"DATA", false},
		{"RSET", false},
		{"NOOP", false},
		{"NOOP with trailing words", false},
		{"QUIT", false},
		{"VRFY box", true},
		{"EXPN list", true},
		{"garbage", true},
	}

	for _, tt := range tests {
		_, _, err := reg.Match(tt.line)
		if gotErr := err != nil; gotErr != tt.wantErr {
			t.Errorf("Match(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
		}
	}
}

func TestEHLOAdvertisesCapabilities(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(ConnectionInfo{ClientIP: "203.0.113.7"}, DefaultSessionConfig())

	result := execute(t, reg, s, "EHLO client.example.org")

	if result.Code != 250 {
		t.Fatalf("EHLO code = %d, want 250", result.Code)
	}
	joined := strings.Join(result.Lines, "\n")
	if !strings.Contains(joined, "SIZE 10485760") {
		t.Errorf("EHLO reply missing SIZE: %q", joined)
	}
	if !strings.Contains(joined, "8BITMIME") {
		t.Errorf("EHLO reply missing 8BITMIME: %q", joined)
	}
	if strings.Contains(joined, "STARTTLS") {
		t.Errorf("STARTTLS advertised without TLS config: %q", joined)
	}
	if s.State() != StateGreeted {
		t.Errorf("state = %v, want GREETED", s.State())
	}
}

func TestMAILRequiresGreeting(t *testing.T) {
	reg := testRegistry(t)
	s := NewSession(ConnectionInfo{}, DefaultSessionConfig())

	result := execute(t, reg, s, "MAIL FROM:<a@b.example>")

	if result.Code != 503 {
		t.Errorf("MAIL before EHLO code = %d, want 503", result.Code)
	}
	if s.State() != StateConnected {
		t.Errorf("state = %v, want CONNECTED", s.State())
	}
}

func TestMAILSetsSender(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()

	result := execute(t, reg, s, "MAIL FROM:<sender@example.org>")

	if result.Code != 250 {
		t.Fatalf("MAIL code = %d, want 250", result.Code)
	}
	if s.Sender() != "sender@example.org" {
		t.Errorf("sender = %q", s.Sender())
	}
	if s.State() != StateMailFrom {
		t.Errorf("state = %v, want MAIL_FROM", s.State())
	}
}

func TestMAILOversizedDeclaration(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()

	result := execute(t, reg, s, "MAIL FROM:<sender@example.org> SIZE=99999999999")

	if result.Code != 552 {
		t.Errorf("oversized SIZE declaration code = %d, want 552", result.Code)
	}
	if s.State() != StateGreeted {
		t.Errorf("state advanced on rejected MAIL: %v", s.State())
	}
}

func TestRCPTOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		rcpt     string
		wantCode int
		enhanced string
	}{
		{"known mailbox", "RCPT TO:<box@example.com>", 250, ""},
		{"tagged known mailbox", "RCPT TO:<box+orders@example.com>", 250, ""},
		{"unknown mailbox", "RCPT TO:<nobody@example.com>", 550, "5.1.1"},
		{"foreign domain", "RCPT TO:<box@elsewhere.net>", 550, "5.7.1"},
		{"malformed", "RCPT TO:<not an address>", 501, "5.1.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := testRegistry(t)
			s := greetedSession()
			execute(t, reg, s, "MAIL FROM:<sender@example.org>")

			result := execute(t, reg, s, tt.rcpt)

			if result.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", result.Code, tt.wantCode, result.Message)
			}
			if tt.enhanced != "" && !strings.Contains(result.Message, tt.enhanced) {
				t.Errorf("message %q missing status %q", result.Message, tt.enhanced)
			}
			wantRecipients := 0
			if tt.wantCode == 250 {
				wantRecipients = 1
			}
			if s.RecipientCount() != wantRecipients {
				t.Errorf("recipient count = %d, want %d", s.RecipientCount(), wantRecipients)
			}
		})
	}
}

func TestRCPTRejectsUnusableStoredKey(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()
	execute(t, reg, s, "MAIL FROM:<sender@example.org>")

	result := execute(t, reg, s, "RCPT TO:<badkey@example.com>")

	if result.Code != 550 {
		t.Fatalf("code = %d, want 550 (%s)", result.Code, result.Message)
	}
	if !strings.Contains(result.Message, "5.2.0") {
		t.Errorf("message %q missing status 5.2.0", result.Message)
	}
	if s.RecipientCount() != 0 {
		t.Errorf("recipient count = %d, want 0", s.RecipientCount())
	}
}

func TestRCPTRequiresMailFrom(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()

	result := execute(t, reg, s, "RCPT TO:<box@example.com>")

	if result.Code != 503 {
		t.Errorf("RCPT before MAIL code = %d, want 503", result.Code)
	}
}

func TestRCPTTooManyRecipients(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.MaxRecipients = 1

	reg := testRegistry(t)
	s := NewSession(ConnectionInfo{ClientIP: "203.0.113.7"}, cfg)
	s.SetState(StateGreeted)
	execute(t, reg, s, "MAIL FROM:<sender@example.org>")
	execute(t, reg, s, "RCPT TO:<box@example.com>")

	result := execute(t, reg, s, "RCPT TO:<box@example.com>")

	if result.Code != 452 {
		t.Errorf("over-limit RCPT code = %d, want 452", result.Code)
	}
}

func TestRCPTGreylistDefers(t *testing.T) {
	gl := greylist.NewMemory(greylist.Config{Delay: 5 * time.Minute, Window: time.Hour})
	reg := NewCommandRegistry(RegistryDeps{
		Hostname:       "mx.example.com",
		Matcher:        testMatcher(t),
		Greylist:       gl,
		MaxMessageSize: 10485760,
	})

	s := greetedSession()
	execute(t, reg, s, "MAIL FROM:<sender@example.org>")

	result := execute(t, reg, s, "RCPT TO:<box@example.com>")
	if result.Code != 450 {
		t.Fatalf("first-sight RCPT code = %d, want 450", result.Code)
	}
	if s.RecipientCount() != 0 {
		t.Errorf("deferred recipient was accepted")
	}

	// Unknown mailboxes are refused outright, never greylisted.
	result = execute(t, reg, s, "RCPT TO:<nobody@example.com>")
	if result.Code != 550 {
		t.Errorf("unknown mailbox code = %d, want 550", result.Code)
	}
}

func TestDATARequiresRecipients(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()
	execute(t, reg, s, "MAIL FROM:<sender@example.org>")

	result := execute(t, reg, s, "DATA")

	if result.Code != 503 {
		t.Errorf("DATA without RCPT code = %d, want 503", result.Code)
	}
}

func TestDATAMovesToStreaming(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()
	execute(t, reg, s, "MAIL FROM:<sender@example.org>")
	execute(t, reg, s, "RCPT TO:<box@example.com>")

	result := execute(t, reg, s, "DATA")

	if result.Code != 354 {
		t.Fatalf("DATA code = %d, want 354", result.Code)
	}
	if !s.InData() {
		t.Errorf("state = %v, want DATA_STREAMING", s.State())
	}
}

func TestRSETClearsTransaction(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()
	execute(t, reg, s, "MAIL FROM:<sender@example.org>")
	execute(t, reg, s, "RCPT TO:<box@example.com>")

	result := execute(t, reg, s, "RSET")

	if result.Code != 250 {
		t.Fatalf("RSET code = %d, want 250", result.Code)
	}
	if s.Sender() != "" || s.RecipientCount() != 0 {
		t.Error("RSET did not clear the transaction")
	}
	if s.Helo() == "" {
		t.Error("RSET cleared HELO")
	}
	if s.State() != StateGreeted {
		t.Errorf("state = %v, want GREETED", s.State())
	}
}

func TestQUITClosesSession(t *testing.T) {
	reg := testRegistry(t)
	s := greetedSession()

	result := execute(t, reg, s, "QUIT")

	if result.Code != 221 {
		t.Errorf("QUIT code = %d, want 221", result.Code)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", s.State())
	}
}

func TestFormatReply(t *testing.T) {
	single := formatReply(Result{Code: 250, Message: "OK"})
	if single != "250 OK\r\n" {
		t.Errorf("single-line reply = %q", single)
	}

	multi := formatReply(Result{Code: 250, Lines: []string{"first", "second", "last"}})
	want := "250-first\r\n250-second\r\n250 last\r\n"
	if multi != want {
		t.Errorf("multi-line reply = %q, want %q", multi, want)
	}
}

func TestSessionStateStrings(t *testing.T) {
	states := map[SessionState]string{
		StateConnected:        "CONNECTED",
		StateGreeted:          "GREETED",
		StateMailFrom:         "MAIL_FROM",
		StateRcptAccumulating: "RCPT_ACCUMULATING",
		StateDataStreaming:    "DATA_STREAMING",
		StateCommitting:       "COMMITTING",
		StateClosed:           "CLOSED",
		StateAborted:          "ABORTED",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}

	if !StateClosed.Terminal() || !StateAborted.Terminal() {
		t.Error("terminal states not reported as terminal")
	}
	if StateGreeted.Terminal() {
		t.Error("GREETED reported as terminal")
	}
}

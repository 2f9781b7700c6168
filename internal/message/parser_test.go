package message

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const sampleMessage = "From: Sender <sender@remote.example>\r\n" +
	"To: alice@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"\r\n" +
	"This is the body.\r\n"

func TestParse_Basic(t *testing.T) {
	p := NewParser(1 << 20)
	parsed, err := p.Parse([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if parsed.Subject != "Hello" {
		t.Errorf("Subject = %q, want Hello", parsed.Subject)
	}
	if parsed.From != "Sender <sender@remote.example>" {
		t.Errorf("From = %q", parsed.From)
	}
	if parsed.To != "alice@example.com" {
		t.Errorf("To = %q", parsed.To)
	}
	if got := string(parsed.Body); got != "This is the body.\r\n" {
		t.Errorf("Body = %q", got)
	}
	if parsed.Size != len(sampleMessage) {
		t.Errorf("Size = %d, want %d", parsed.Size, len(sampleMessage))
	}
}

func TestParse_EncodedSubject(t *testing.T) {
	raw := "Subject: =?UTF-8?B?SMOpbGxv?=\r\n\r\nbody\r\n"
	p := NewParser(0)
	parsed, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if parsed.Subject != "Héllo" {
		t.Errorf("Subject = %q, want Héllo", parsed.Subject)
	}
}

func TestParse_MissingHeadersDegrade(t *testing.T) {
	// Messages missing Subject/From/To still parse with empty fields.
	raw := "X-Other: something\r\n\r\nbody text\r\n"
	p := NewParser(0)
	parsed, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if parsed.Subject != "" || parsed.From != "" || parsed.To != "" {
		t.Errorf("expected empty headers, got %q/%q/%q", parsed.Subject, parsed.From, parsed.To)
	}
	if string(parsed.Body) != "body text\r\n" {
		t.Errorf("Body = %q", parsed.Body)
	}
}

func TestParse_NoHeaderBlock(t *testing.T) {
	p := NewParser(0)
	_, err := p.Parse([]byte("just some text without any header structure"))
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestParse_TooLarge(t *testing.T) {
	p := NewParser(64)
	raw := []byte("Subject: x\r\n\r\n" + strings.Repeat("a", 200))
	_, err := p.Parse(raw)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestParse_MultipartKeptOpaque(t *testing.T) {
	raw := "From: a@b.c\r\n" +
		"Content-Type: multipart/mixed; boundary=xyz\r\n" +
		"\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/plain\r\n\r\npart one\r\n" +
		"--xyz--\r\n"
	p := NewParser(0)
	parsed, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	// Multipart structure must survive verbatim in the body.
	if !bytes.Contains(parsed.Body, []byte("--xyz")) {
		t.Errorf("multipart boundary lost from body: %q", parsed.Body)
	}
}

func TestPayload_Shape(t *testing.T) {
	p := NewParser(0)
	parsed, err := p.Parse([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	payload := string(parsed.Payload())

	for _, want := range []string{"Subject: Hello\r\n", "From: Sender <sender@remote.example>\r\n", "This is the body."} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}
	// Exactly one blank line separates the summary headers from the body.
	if !strings.Contains(payload, "\r\n\r\nThis is the body.") {
		t.Errorf("payload separator malformed:\n%s", payload)
	}
}

func TestPayload_HeaderInjectionNeutralized(t *testing.T) {
	parsed := &Parsed{
		Subject: "legit\r\nX-Evil: injected",
		Body:    []byte("body"),
	}
	payload := string(parsed.Payload())
	if strings.Contains(payload, "\r\nX-Evil") {
		t.Errorf("CRLF in header value fabricated a header:\n%s", payload)
	}
}

func TestWipe(t *testing.T) {
	p := NewParser(0)
	parsed, err := p.Parse([]byte(sampleMessage))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	body := parsed.Body
	parsed.Wipe()
	for i, b := range body {
		if b != 0 {
			t.Fatalf("body byte %d not zeroed", i)
		}
	}
	if parsed.Subject != "" || parsed.Body != nil {
		t.Errorf("Wipe left fields populated")
	}
}

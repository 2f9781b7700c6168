// Package message parses raw SMTP DATA payloads into the normalized form
// that gets sealed and persisted. Parsing is custodial, not presentational:
// a handful of headers are extracted for the sealed envelope summary and
// the body is carried opaquely, multipart structure and all.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
)

var (
	// ErrTooLarge indicates the raw message exceeds the configured size
	// limit. Raised before any allocation proportional to the input.
	ErrTooLarge = errors.New("message exceeds size limit")

	// ErrMalformedEnvelope indicates the input has no parseable header
	// block at all. Individually broken headers do not raise this.
	ErrMalformedEnvelope = errors.New("malformed message envelope")
)

// Parsed is the in-memory representation of one incoming message. It lives
// only for the duration of an SMTP transaction; the sealed Payload is the
// only form that reaches storage.
type Parsed struct {
	Subject string
	From    string
	To      string
	Date    string
	Body    []byte // raw bytes after the header/body separator, undecoded
	Size    int    // size of the raw input in bytes
}

// Parser validates and parses raw messages. MaxSize <= 0 disables the
// size check (the SMTP layer enforces its own streaming limit regardless).
type Parser struct {
	MaxSize int64
}

// NewParser returns a Parser enforcing the given size limit.
func NewParser(maxSize int64) *Parser {
	return &Parser{MaxSize: maxSize}
}

// Parse parses raw into a Parsed message. Missing or undecodable
// individual headers degrade to empty strings; only a missing header block
// fails the parse. Mail in the wild is routinely non-conformant and
// rejecting it wholesale would silently lose it.
func (p *Parser) Parse(raw []byte) (*Parsed, error) {
	if p.MaxSize > 0 && int64(len(raw)) > p.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(raw), p.MaxSize)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	parsed := &Parsed{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    decodeHeader(msg.Header.Get("From")),
		To:      decodeHeader(msg.Header.Get("To")),
		Date:    msg.Header.Get("Date"),
		Size:    len(raw),
	}

	// The body is the raw remainder, not msg.Body: mail.ReadMessage
	// normalizes nothing but we want the original bytes so the mailbox
	// owner can run their own MIME tooling after decryption.
	parsed.Body = rawBody(raw)

	return parsed, nil
}

// Payload returns the serialized representation handed to the sealer:
// the extracted envelope summary headers, a blank line, then the raw body.
func (m *Parsed) Payload() []byte {
	var buf bytes.Buffer
	buf.Grow(len(m.Body) + 256)
	writeHeader(&buf, "Subject", m.Subject)
	writeHeader(&buf, "From", m.From)
	writeHeader(&buf, "To", m.To)
	writeHeader(&buf, "Date", m.Date)
	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes()
}

// Wipe zeroes the body buffer. Called once the transaction is committed or
// aborted so plaintext does not linger in memory longer than the session.
func (m *Parsed) Wipe() {
	for i := range m.Body {
		m.Body[i] = 0
	}
	m.Body = nil
	m.Subject = ""
	m.From = ""
	m.To = ""
	m.Date = ""
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	// Header values are folded into a single line; CR/LF in attacker
	// controlled values must not fabricate extra headers in the payload.
	value = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, value)
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// rawBody returns the bytes after the first blank line. Falls back to the
// whole input when no separator exists (header-only messages have already
// passed mail.ReadMessage, which tolerates a missing body).
func rawBody(raw []byte) []byte {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if idx := bytes.Index(raw, sep); idx >= 0 {
			return raw[idx+len(sep):]
		}
	}
	return nil
}

// decodeHeader decodes RFC 2047 encoded words, returning the raw value
// when decoding fails.
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

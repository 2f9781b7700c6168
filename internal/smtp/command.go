package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vhqtvn/vh-mail-hook/internal/address"
	"github.com/vhqtvn/vh-mail-hook/internal/greylist"
	"github.com/vhqtvn/vh-mail-hook/internal/metrics"
	"github.com/vhqtvn/vh-mail-hook/internal/seal"
)

// Errors for SMTP command processing
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInputTooLong   = errors.New("input exceeds maximum length")
)

// Command defines the contract for SMTP commands using regexp patterns.
type Command interface {
	// Pattern returns the compiled regexp for matching this command
	Pattern() *regexp.Regexp

	// Execute processes the command. matches[0] is full line, matches[1:] are capture groups
	Execute(ctx context.Context, session *Session, matches []string) (Result, error)
}

// Result represents the result of processing an SMTP command.
type Result struct {
	Code    int
	Message string   // Single-line message
	Lines   []string // Multi-line response (overrides Message if present)
}

// CommandRegistry holds registered commands and matches input against them.
type CommandRegistry struct {
	commands []Command
}

// RegistryDeps carries the collaborators commands need.
type RegistryDeps struct {
	Hostname       string
	Matcher        *address.Matcher
	Greylist       greylist.List // nil disables greylisting
	Collector      metrics.Collector
	MaxMessageSize int64
	TLSConfig      *tls.Config // nil disables STARTTLS
}

// NewCommandRegistry creates a registry with all supported SMTP
// commands.
func NewCommandRegistry(deps RegistryDeps) *CommandRegistry {
	collector := deps.Collector
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	commands := []Command{
		&EHLOCommand{hostname: deps.Hostname, maxMessageSize: deps.MaxMessageSize, tlsConfig: deps.TLSConfig},
		&HELOCommand{hostname: deps.Hostname},
		&MAILCommand{maxMessageSize: deps.MaxMessageSize},
		&RCPTCommand{matcher: deps.Matcher, greylist: deps.Greylist, collector: collector},
		&DATACommand{},
		&RSETCommand{},
		&NOOPCommand{},
		&QUITCommand{},
	}

	if deps.TLSConfig != nil {
		commands = append([]Command{&STARTTLSCommand{tlsConfig: deps.TLSConfig}}, commands...)
	}

	return &CommandRegistry{
		commands: commands,
	}
}

// Match finds the command that matches the input line and returns it with captured groups.
func (r *CommandRegistry) Match(line string) (Command, []string, error) {
	for _, cmd := range r.commands {
		if matches := cmd.Pattern().FindStringSubmatch(line); matches != nil {
			return cmd, matches, nil
		}
	}
	return nil, nil, ErrUnknownCommand
}

// Pre-compiled regexp patterns for SMTP commands
var (
	ehloPattern = regexp.MustCompile(`(?i)^EHLO\s+(\S+)\s*$`)
	heloPattern = regexp.MustCompile(`(?i)^HELO\s+(\S+)\s*$`)
	mailPattern = regexp.MustCompile(`(?i)^MAIL\s+FROM:\s*<([^>]*)>(.*)$`)
	rcptPattern = regexp.MustCompile(`(?i)^RCPT\s+TO:\s*<([^>]*)>(.*)$`)
	dataPattern = regexp.MustCompile(`(?i)^DATA\s*$`)
	rsetPattern = regexp.MustCompile(`(?i)^RSET\s*$`)
	noopPattern = regexp.MustCompile(`(?i)^NOOP(?:\s.*)?$`)
	quitPattern = regexp.MustCompile(`(?i)^QUIT\s*$`)

	sizeParamPattern = regexp.MustCompile(`(?i)\bSIZE=(\d+)`)
)

// EHLOCommand implements the EHLO command.
type EHLOCommand struct {
	hostname       string
	maxMessageSize int64
	tlsConfig      *tls.Config
}

func (c *EHLOCommand) Pattern() *regexp.Regexp {
	return ehloPattern
}

func (c *EHLOCommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	domain := matches[1]

	if len(domain) > session.Config().MaxHeloDomainLen {
		return Result{Code: 501, Message: "Domain name too long"}, nil
	}

	session.SetHelo(domain)
	session.SetState(StateGreeted)

	clientIP := session.ConnInfo().ClientIP
	if clientIP == "" {
		clientIP = "unknown"
	}

	hostname := c.hostname
	if hostname == "" {
		hostname = "localhost"
	}

	lines := []string{
		hostname + " Hello " + domain + " [" + clientIP + "]",
		"SIZE " + strconv.FormatInt(c.maxMessageSize, 10),
		"8BITMIME",
	}

	// Advertise STARTTLS if TLS config is available and TLS is not already active
	if c.tlsConfig != nil && !session.IsTLSActive() {
		lines = append(lines, "STARTTLS")
	}

	return Result{Code: 250, Lines: lines}, nil
}

// HELOCommand implements the HELO command.
type HELOCommand struct {
	hostname string
}

func (c *HELOCommand) Pattern() *regexp.Regexp {
	return heloPattern
}

func (c *HELOCommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	domain := matches[1]

	if len(domain) > session.Config().MaxHeloDomainLen {
		return Result{Code: 501, Message: "Domain name too long"}, nil
	}

	session.SetHelo(domain)
	session.SetState(StateGreeted)

	clientIP := session.ConnInfo().ClientIP
	if clientIP == "" {
		clientIP = "unknown"
	}

	return Result{Code: 250, Message: "Hello " + domain + " [" + clientIP + "]"}, nil
}

// MAILCommand implements the MAIL command.
type MAILCommand struct {
	maxMessageSize int64
}

func (c *MAILCommand) Pattern() *regexp.Regexp {
	return mailPattern
}

func (c *MAILCommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	// Must be greeted first
	if session.State() < StateGreeted {
		return Result{Code: 503, Message: "Bad sequence of commands"}, nil
	}

	email := matches[1]
	params := matches[2]

	if len(email) > session.Config().MaxEmailLen {
		return Result{Code: 501, Message: "Email address too long"}, nil
	}

	// A declared SIZE over the limit is rejected before any bytes flow.
	if m := sizeParamPattern.FindStringSubmatch(params); m != nil {
		declared, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || (c.maxMessageSize > 0 && declared > c.maxMessageSize) {
			return Result{Code: 552, Message: "5.3.4 Message size exceeds fixed maximum"}, nil
		}
	}

	// Reset any previous transaction and set new sender
	session.Reset()
	session.SetSender(email)
	session.SetState(StateMailFrom)

	return Result{Code: 250, Message: "OK"}, nil
}

// RCPTCommand implements the RCPT command. Each recipient is resolved
// against the mailbox directory at RCPT time so unknown destinations
// are refused before the client wastes bandwidth on DATA.
type RCPTCommand struct {
	matcher   *address.Matcher
	greylist  greylist.List
	collector metrics.Collector
}

func (c *RCPTCommand) Pattern() *regexp.Regexp {
	return rcptPattern
}

func (c *RCPTCommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	// Must have MAIL FROM first
	if session.State() < StateMailFrom {
		return Result{Code: 503, Message: "Bad sequence of commands"}, nil
	}

	email := matches[1]

	if len(email) > session.Config().MaxEmailLen {
		return Result{Code: 501, Message: "5.1.3 Email address too long"}, nil
	}

	if session.RecipientCount() >= session.Config().MaxRecipients {
		return Result{Code: 452, Message: "4.5.3 Too many recipients"}, nil
	}

	if c.matcher == nil {
		return Result{Code: 451, Message: "4.3.0 Recipient resolution unavailable"}, nil
	}

	match, err := c.matcher.Resolve(ctx, email)
	if err != nil {
		return Result{Code: 451, Message: "4.3.0 Temporary lookup failure"}, nil
	}

	c.collector.RecipientResolved(strings.ToLower(match.Outcome.String()))

	switch match.Outcome {
	case address.MalformedAddress:
		return Result{Code: 501, Message: "5.1.3 Bad recipient address syntax"}, nil
	case address.UnsupportedDomain:
		return Result{Code: 550, Message: "5.7.1 Relaying denied"}, nil
	case address.UnknownMailbox:
		return Result{Code: 550, Message: "5.1.1 No such mailbox"}, nil
	}

	// A mailbox whose stored key does not parse can never seal a
	// delivery. Refusing here spares the client the DATA phase.
	if match.Mailbox != nil {
		if err := seal.ValidateKey(match.Mailbox.PublicKey); err != nil {
			return Result{Code: 550, Message: "5.2.0 Mailbox unavailable"}, nil
		}
	}

	// Greylisting applies to known mailboxes only; spray at unknown
	// addresses is already refused above.
	if c.greylist != nil {
		verdict, err := c.greylist.Check(ctx, session.ConnInfo().ClientIP, session.Sender(), match.Canonical)
		if err == nil && verdict == greylist.Defer {
			c.collector.GreylistDeferred(domainOf(session.Sender()))
			return Result{Code: 450, Message: "4.2.0 Greylisted, try again later"}, nil
		}
	}

	session.AddRecipient(Recipient{Raw: email, Match: match})
	session.SetState(StateRcptAccumulating)

	return Result{Code: 250, Message: "OK"}, nil
}

// DATACommand implements the DATA command.
type DATACommand struct{}

func (c *DATACommand) Pattern() *regexp.Regexp {
	return dataPattern
}

func (c *DATACommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	// Must have at least one accepted recipient
	if session.State() < StateRcptAccumulating || session.RecipientCount() == 0 {
		return Result{Code: 503, Message: "Bad sequence of commands"}, nil
	}

	session.SetState(StateDataStreaming)

	return Result{Code: 354, Message: "Start mail input; end with <CRLF>.<CRLF>"}, nil
}

// RSETCommand implements the RSET command.
type RSETCommand struct{}

func (c *RSETCommand) Pattern() *regexp.Regexp {
	return rsetPattern
}

func (c *RSETCommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	session.Reset()
	return Result{Code: 250, Message: "OK"}, nil
}

// NOOPCommand implements the NOOP command.
type NOOPCommand struct{}

func (c *NOOPCommand) Pattern() *regexp.Regexp {
	return noopPattern
}

func (c *NOOPCommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	return Result{Code: 250, Message: "OK"}, nil
}

// QUITCommand implements the QUIT command.
type QUITCommand struct{}

func (c *QUITCommand) Pattern() *regexp.Regexp {
	return quitPattern
}

func (c *QUITCommand) Execute(ctx context.Context, session *Session, matches []string) (Result, error) {
	session.SetState(StateClosed)
	return Result{Code: 221, Message: "Goodbye"}, nil
}

// domainOf extracts the domain of an email address for metric labels.
func domainOf(email string) string {
	if idx := strings.LastIndex(email, "@"); idx >= 0 && idx < len(email)-1 {
		return strings.ToLower(email[idx+1:])
	}
	return "unknown"
}

// formatReply renders a Result as SMTP wire lines.
func formatReply(r Result) string {
	if len(r.Lines) == 0 {
		return fmt.Sprintf("%d %s\r\n", r.Code, r.Message)
	}

	var b strings.Builder
	for i, line := range r.Lines {
		sep := "-"
		if i == len(r.Lines)-1 {
			sep = " "
		}
		fmt.Fprintf(&b, "%d%s%s\r\n", r.Code, sep, line)
	}
	return b.String()
}

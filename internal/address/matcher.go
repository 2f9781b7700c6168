// Package address normalizes raw SMTP recipient addresses and resolves
// them to registered mailboxes. Recipient strings are attacker-controlled;
// Resolve is total — every input maps to exactly one outcome and no input
// can make it panic or skip validation.
package address

import (
	"context"
	"errors"
	"strings"

	"github.com/vhqtvn/vh-mail-hook/internal/mailbox"
)

// Outcome classifies the result of resolving a recipient address.
type Outcome int

const (
	// Matched means the address resolved to a registered mailbox.
	Matched Outcome = iota
	// UnknownMailbox means the domain is served here but no mailbox is
	// registered under the canonical address.
	UnknownMailbox
	// UnsupportedDomain means the domain is not in the supported set.
	UnsupportedDomain
	// MalformedAddress means the input is not a plausible email address.
	MalformedAddress
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Matched:
		return "MATCHED"
	case UnknownMailbox:
		return "UNKNOWN_MAILBOX"
	case UnsupportedDomain:
		return "UNSUPPORTED_DOMAIN"
	case MalformedAddress:
		return "MALFORMED_ADDRESS"
	default:
		return "UNKNOWN"
	}
}

// Policy controls sub-addressing. When StripTags is set, everything from
// the first TagSeparator in the local part onward is removed before lookup
// ("alice+shopping@x" matches the mailbox registered as "alice@x"). The
// stripped tag is preserved on the Match for logging and filtering.
type Policy struct {
	TagSeparator byte
	StripTags    bool
}

// DefaultPolicy strips "+tag" sub-addresses, the common MTA convention.
func DefaultPolicy() Policy {
	return Policy{TagSeparator: '+', StripTags: true}
}

// Match is the result of resolving one recipient.
type Match struct {
	Outcome   Outcome
	Canonical string // normalized lookup key (empty for MalformedAddress)
	Tag       string // sub-address tag stripped from the local part, if any
	Mailbox   *mailbox.Mailbox
}

// Matcher resolves raw recipient addresses against a mailbox directory.
type Matcher struct {
	directory mailbox.Directory
	policy    Policy
}

// NewMatcher creates a Matcher using the given directory and policy.
func NewMatcher(directory mailbox.Directory, policy Policy) *Matcher {
	return &Matcher{directory: directory, policy: policy}
}

// Resolve normalizes raw and looks it up. Domains compare
// case-insensitively; the local part is preserved byte-for-byte apart from
// tag stripping.
func (m *Matcher) Resolve(ctx context.Context, raw string) (Match, error) {
	local, domain, tag, ok := Normalize(raw, m.policy)
	if !ok {
		return Match{Outcome: MalformedAddress}, nil
	}
	canonical := local + "@" + domain

	supported, err := m.directory.SupportedDomains(ctx)
	if err != nil {
		return Match{}, err
	}
	if !domainSupported(domain, supported) {
		return Match{Outcome: UnsupportedDomain, Canonical: canonical, Tag: tag}, nil
	}

	mb, err := m.directory.LookupByAddress(ctx, canonical)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotFound) {
			return Match{Outcome: UnknownMailbox, Canonical: canonical, Tag: tag}, nil
		}
		return Match{}, err
	}

	return Match{Outcome: Matched, Canonical: canonical, Tag: tag, Mailbox: mb}, nil
}

// Normalize splits and canonicalizes an address. It trims whitespace and a
// single pair of angle brackets, requires exactly one "@" with non-empty
// local part and domain, lower-cases the domain, and applies the
// sub-addressing policy. Returns ok=false for anything that cannot be a
// deliverable address.
func Normalize(raw string, policy Policy) (local, domain, tag string, ok bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return "", "", "", false
	}

	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return "", "", "", false
	}
	local = s[:at]
	domain = strings.ToLower(s[at+1:])

	// Reject embedded whitespace and control bytes outright rather than
	// trying to honor quoted-string local parts; mailboxes here are
	// machine-generated aliases and never need them.
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 127 {
			return "", "", "", false
		}
	}
	if strings.Contains(local, "@") || !validDomain(domain) {
		return "", "", "", false
	}

	if policy.StripTags && policy.TagSeparator != 0 {
		if idx := strings.IndexByte(local, policy.TagSeparator); idx >= 0 {
			tag = local[idx+1:]
			local = local[:idx]
			if local == "" {
				return "", "", "", false
			}
		}
	}

	return local, domain, tag, true
}

// validDomain accepts dotted labels of letters, digits, and hyphens. This
// is deliberately looser than a full RFC 5321 grammar; unsupported domains
// are filtered against the configured set anyway.
func validDomain(domain string) bool {
	if len(domain) == 0 || len(domain) > 255 {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

func domainSupported(domain string, supported []string) bool {
	for _, d := range supported {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

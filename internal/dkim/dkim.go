// Package dkim verifies DKIM signatures on inbound messages.
package dkim

import (
	"context"
	"io"
	"net"

	msgdkim "github.com/emersion/go-msgauth/dkim"
)

// Mode controls what a failed or missing signature does to delivery.
type Mode string

const (
	// ModeOff skips verification entirely.
	ModeOff Mode = "off"
	// ModeLog verifies and records the outcome but never blocks mail.
	ModeLog Mode = "log"
	// ModeEnforce rejects messages whose signatures fail. Unsigned mail
	// still passes; most legitimate mail carries no signature at all.
	ModeEnforce Mode = "enforce"
)

// GetMode returns the mode, defaulting to off when unset or unknown.
func GetMode(s string) Mode {
	switch Mode(s) {
	case ModeLog, ModeEnforce:
		return Mode(s)
	default:
		return ModeOff
	}
}

// Result is the outcome of verifying one message.
type Result struct {
	// Signed is true when the message carried at least one signature.
	Signed bool

	// PassedDomains lists the d= domains whose signatures verified.
	PassedDomains []string

	// FailedDomains lists the d= domains whose signatures did not.
	FailedDomains []string
}

// Passed reports whether every present signature verified.
func (r *Result) Passed() bool {
	return len(r.FailedDomains) == 0
}

// Verifier checks DKIM signatures according to its mode.
type Verifier struct {
	mode Mode

	// lookupTXT overrides DNS resolution in tests.
	lookupTXT func(string) ([]string, error)
}

// NewVerifier creates a verifier in the given mode.
func NewVerifier(mode Mode) *Verifier {
	return &Verifier{mode: mode}
}

// Mode returns the configured mode.
func (v *Verifier) Mode() Mode {
	return v.mode
}

// Verify reads the full message and checks its signatures. In ModeOff
// it returns an empty passing result without reading.
func (v *Verifier) Verify(ctx context.Context, message io.Reader) (*Result, error) {
	if v.mode == ModeOff {
		return &Result{}, nil
	}

	opts := &msgdkim.VerifyOptions{}
	if v.lookupTXT != nil {
		opts.LookupTXT = v.lookupTXT
	} else {
		resolver := &net.Resolver{}
		opts.LookupTXT = func(name string) ([]string, error) {
			return resolver.LookupTXT(ctx, name)
		}
	}

	verifications, err := msgdkim.VerifyWithOptions(message, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{Signed: len(verifications) > 0}
	for _, ver := range verifications {
		if ver.Err == nil {
			res.PassedDomains = append(res.PassedDomains, ver.Domain)
		} else {
			res.FailedDomains = append(res.FailedDomains, ver.Domain)
		}
	}
	return res, nil
}

// ShouldReject reports whether the result blocks delivery under the
// verifier's mode.
func (v *Verifier) ShouldReject(r *Result) bool {
	if v.mode != ModeEnforce || r == nil {
		return false
	}
	return r.Signed && !r.Passed()
}

// Package metrics provides interfaces and implementations for collecting
// ingestion-engine metrics. The Collector interface records events; the
// Server interface exposes them over HTTP.
package metrics

import "context"

// Collector defines the interface for recording mail ingestion metrics.
type Collector interface {
	// Connection metrics (no domain - happens before any command)
	ConnectionOpened()
	ConnectionClosed()
	ConnectionRefused(reason string) // "rate_limit" or "connection_cap"
	TLSConnectionEstablished()

	// Command metrics (no domain - too granular)
	CommandProcessed(command string)

	// Recipient resolution; outcome is the matcher outcome string
	RecipientResolved(outcome string)

	// Message metrics (recipient domain first)
	MessageReceived(recipientDomain string, sizeBytes int64)
	MessageRejected(recipientDomain string, reason string)

	// Per-recipient delivery within the fan-out commit
	// result should be "stored", "seal_error", "store_error" or "store_timeout"
	DeliveryCompleted(recipientDomain string, result string)

	// Greylist metrics (sender domain - the deferral targets the sender)
	GreylistDeferred(senderDomain string)

	// DKIM verification metrics (sender domain - validates the sender)
	DKIMCheckCompleted(senderDomain string, result string)

	// Retention metrics
	EmailsExpired(count int64)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is
	// canceled or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}

// Config holds the configuration for the metrics server.
type Config struct {
	Enabled bool
	Address string
	Path    string
}

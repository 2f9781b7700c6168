package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// NewNoopCollector returns a collector that discards everything.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened() {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed() {}

// ConnectionRefused is a no-op.
func (n *NoopCollector) ConnectionRefused(reason string) {}

// TLSConnectionEstablished is a no-op.
func (n *NoopCollector) TLSConnectionEstablished() {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(command string) {}

// RecipientResolved is a no-op.
func (n *NoopCollector) RecipientResolved(outcome string) {}

// MessageReceived is a no-op.
func (n *NoopCollector) MessageReceived(recipientDomain string, sizeBytes int64) {}

// MessageRejected is a no-op.
func (n *NoopCollector) MessageRejected(recipientDomain string, reason string) {}

// DeliveryCompleted is a no-op.
func (n *NoopCollector) DeliveryCompleted(recipientDomain string, result string) {}

// GreylistDeferred is a no-op.
func (n *NoopCollector) GreylistDeferred(senderDomain string) {}

// DKIMCheckCompleted is a no-op.
func (n *NoopCollector) DKIMCheckCompleted(senderDomain string, result string) {}

// EmailsExpired is a no-op.
func (n *NoopCollector) EmailsExpired(count int64) {}

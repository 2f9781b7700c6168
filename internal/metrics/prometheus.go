package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus
// metrics. Metric names use the mailhookd_ prefix.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal   prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionsRefused *prometheus.CounterVec
	tlsConnectionTotal prometheus.Counter

	// Command metrics
	commandsTotal *prometheus.CounterVec

	// Recipient resolution
	recipientsResolvedTotal *prometheus.CounterVec

	// Message metrics
	messagesReceivedTotal *prometheus.CounterVec
	messagesRejectedTotal *prometheus.CounterVec
	messagesSizeBytes     prometheus.Histogram

	// Per-recipient delivery metrics
	deliveriesTotal *prometheus.CounterVec

	// Greylist and DKIM
	greylistDeferredTotal *prometheus.CounterVec
	dkimChecksTotal       *prometheus.CounterVec

	// Retention
	emailsExpiredTotal prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics
// registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailhookd_connections_total",
			Help: "Total number of SMTP connections opened.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailhookd_connections_active",
			Help: "Number of currently active SMTP connections.",
		}),
		connectionsRefused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_connections_refused_total",
			Help: "Total number of connections refused before session start.",
		}, []string{"reason"}),
		tlsConnectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailhookd_tls_connections_total",
			Help: "Total number of TLS connections established.",
		}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_commands_total",
			Help: "Total number of SMTP commands processed.",
		}, []string{"command"}),

		recipientsResolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_recipients_resolved_total",
			Help: "Total number of RCPT addresses resolved, by outcome.",
		}, []string{"outcome"}),

		messagesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_messages_received_total",
			Help: "Total number of messages accepted for at least one recipient.",
		}, []string{"recipient_domain"}),
		messagesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_messages_rejected_total",
			Help: "Total number of messages rejected.",
		}, []string{"recipient_domain", "reason"}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailhookd_messages_size_bytes",
			Help:    "Size of received messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400},
		}),

		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_deliveries_total",
			Help: "Total number of per-recipient delivery attempts.",
		}, []string{"recipient_domain", "result"}),

		greylistDeferredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_greylist_deferred_total",
			Help: "Total number of greylist deferrals.",
		}, []string{"sender_domain"}),
		dkimChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailhookd_dkim_checks_total",
			Help: "Total number of DKIM checks performed.",
		}, []string{"sender_domain", "result"}),

		emailsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailhookd_emails_expired_total",
			Help: "Total number of emails deleted by the retention sweep.",
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.connectionsRefused,
		c.tlsConnectionTotal,
		c.commandsTotal,
		c.recipientsResolvedTotal,
		c.messagesReceivedTotal,
		c.messagesRejectedTotal,
		c.messagesSizeBytes,
		c.deliveriesTotal,
		c.greylistDeferredTotal,
		c.dkimChecksTotal,
		c.emailsExpiredTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// ConnectionRefused increments the refused connections counter.
func (c *PrometheusCollector) ConnectionRefused(reason string) {
	c.connectionsRefused.WithLabelValues(reason).Inc()
}

// TLSConnectionEstablished increments the TLS connection counter.
func (c *PrometheusCollector) TLSConnectionEstablished() {
	c.tlsConnectionTotal.Inc()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(command string) {
	c.commandsTotal.WithLabelValues(command).Inc()
}

// RecipientResolved increments the resolution counter for the outcome.
func (c *PrometheusCollector) RecipientResolved(outcome string) {
	c.recipientsResolvedTotal.WithLabelValues(outcome).Inc()
}

// MessageReceived increments the received counter and observes the size.
func (c *PrometheusCollector) MessageReceived(recipientDomain string, sizeBytes int64) {
	c.messagesReceivedTotal.WithLabelValues(recipientDomain).Inc()
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

// MessageRejected increments the rejected counter.
func (c *PrometheusCollector) MessageRejected(recipientDomain string, reason string) {
	c.messagesRejectedTotal.WithLabelValues(recipientDomain, reason).Inc()
}

// DeliveryCompleted increments the per-recipient delivery counter.
func (c *PrometheusCollector) DeliveryCompleted(recipientDomain string, result string) {
	c.deliveriesTotal.WithLabelValues(recipientDomain, result).Inc()
}

// GreylistDeferred increments the greylist deferral counter.
func (c *PrometheusCollector) GreylistDeferred(senderDomain string) {
	c.greylistDeferredTotal.WithLabelValues(senderDomain).Inc()
}

// DKIMCheckCompleted increments the DKIM check counter.
func (c *PrometheusCollector) DKIMCheckCompleted(senderDomain string, result string) {
	c.dkimChecksTotal.WithLabelValues(senderDomain, result).Inc()
}

// EmailsExpired adds to the expired emails counter.
func (c *PrometheusCollector) EmailsExpired(count int64) {
	c.emailsExpiredTotal.Add(float64(count))
}

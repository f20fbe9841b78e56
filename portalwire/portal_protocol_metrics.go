package portalwire

import (
	"github.com/ethereum/go-ethereum/metrics"
)

// portalMetrics holds the per network meters. A nil *portalMetrics is valid
// and records nothing.
type portalMetrics struct {
	messagesReceived map[byte]*metrics.Meter
	messagesSent     map[byte]*metrics.Meter

	utpInFailConn   *metrics.Counter
	utpInFailRead   *metrics.Counter
	utpOutFailConn  *metrics.Counter
	utpOutFailWrite *metrics.Counter
	utpInSuccess    *metrics.Counter
	utpOutSuccess   *metrics.Counter

	utpRateLimitCount *metrics.Counter

	contentDecodedTrue  *metrics.Counter
	contentDecodedFalse *metrics.Counter

	requestTimeouts *metrics.Counter
	gossipOffers    *metrics.Counter

	tableSize          *metrics.Gauge
	contentLookupGauge *metrics.Gauge
}

func newPortalMetrics(protocolName string) *portalMetrics {
	if !metrics.Enabled() {
		return nil
	}
	prefix := "portal/" + protocolName
	m := &portalMetrics{
		messagesReceived: make(map[byte]*metrics.Meter),
		messagesSent:     make(map[byte]*metrics.Meter),

		utpInFailConn:   metrics.NewRegisteredCounter(prefix+"/utp/inbound/fail_conn", nil),
		utpInFailRead:   metrics.NewRegisteredCounter(prefix+"/utp/inbound/fail_read", nil),
		utpOutFailConn:  metrics.NewRegisteredCounter(prefix+"/utp/outbound/fail_conn", nil),
		utpOutFailWrite: metrics.NewRegisteredCounter(prefix+"/utp/outbound/fail_write", nil),
		utpInSuccess:    metrics.NewRegisteredCounter(prefix+"/utp/inbound/success", nil),
		utpOutSuccess:   metrics.NewRegisteredCounter(prefix+"/utp/outbound/success", nil),

		utpRateLimitCount: metrics.NewRegisteredCounter(prefix+"/utp/limit", nil),

		contentDecodedTrue:  metrics.NewRegisteredCounter(prefix+"/content/decoded/true", nil),
		contentDecodedFalse: metrics.NewRegisteredCounter(prefix+"/content/decoded/false", nil),

		requestTimeouts: metrics.NewRegisteredCounter(prefix+"/request/timeout", nil),
		gossipOffers:    metrics.NewRegisteredCounter(prefix+"/gossip/offers", nil),

		tableSize:          metrics.NewRegisteredGauge(prefix+"/table/size", nil),
		contentLookupGauge: metrics.NewRegisteredGauge(prefix+"/content/lookup", nil),
	}
	for kind, name := range messageNames {
		m.messagesReceived[kind] = metrics.NewRegisteredMeter(prefix+"/received/"+name, nil)
		m.messagesSent[kind] = metrics.NewRegisteredMeter(prefix+"/sent/"+name, nil)
	}
	return m
}

func (m *portalMetrics) markReceived(kind byte) {
	if m == nil {
		return
	}
	if meter, ok := m.messagesReceived[kind]; ok {
		meter.Mark(1)
	}
}

func (m *portalMetrics) markSent(kind byte) {
	if m == nil {
		return
	}
	if meter, ok := m.messagesSent[kind]; ok {
		meter.Mark(1)
	}
}

func (m *portalMetrics) setTableSize(n int) {
	if m == nil {
		return
	}
	m.tableSize.Update(int64(n))
}

func (m *portalMetrics) lookupStarted() {
	if m == nil {
		return
	}
	m.contentLookupGauge.Inc(1)
}

func (m *portalMetrics) lookupDone() {
	if m == nil {
		return
	}
	m.contentLookupGauge.Dec(1)
}

package session

import "sync/atomic"

// Metrics contains atomic counters of a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// LinesSent is the number of buffered command lines written to the link.
	LinesSent atomic.Uint64
	// AckCount is the number of "ok" acknowledgments received.
	AckCount atomic.Uint64
	// CommandErrCount is the number of "error:<n>" replies received.
	CommandErrCount atomic.Uint64
	// RealtimeSent is the number of real-time bytes written, including status polls.
	RealtimeSent atomic.Uint64
	// StatusReportCount is the number of status reports parsed.
	StatusReportCount atomic.Uint64
	// ParseErrCount is the number of malformed status reports.
	ParseErrCount atomic.Uint64
	// BytesReceived is the number of bytes read from the link.
	BytesReceived atomic.Uint64
	// AckInflight is 1 while a command awaits its acknowledgment.
	AckInflight atomic.Int64
	// ConnectCount is the number of successful connects.
	ConnectCount atomic.Uint32
}

func (m *Metrics) incLinesSent()         { m.LinesSent.Add(1) }
func (m *Metrics) incAckCount()          { m.AckCount.Add(1) }
func (m *Metrics) incCommandErrCount()   { m.CommandErrCount.Add(1) }
func (m *Metrics) incRealtimeSent()      { m.RealtimeSent.Add(1) }
func (m *Metrics) incStatusReportCount() { m.StatusReportCount.Add(1) }
func (m *Metrics) incParseErrCount()     { m.ParseErrCount.Add(1) }
func (m *Metrics) addBytesReceived(n int) {
	m.BytesReceived.Add(uint64(n)) //nolint:gosec
}
func (m *Metrics) incAckInflight()  { m.AckInflight.Add(1) }
func (m *Metrics) decAckInflight()  { m.AckInflight.Add(-1) }
func (m *Metrics) incConnectCount() { m.ConnectCount.Add(1) }

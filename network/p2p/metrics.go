package p2p

import (
	"sync"
	"time"
)

// Metrics tracks gossip and transport counters. All methods are safe for
// concurrent use.
type Metrics struct {
	mu sync.RWMutex

	messagesPublished  int64
	messagesSent       int64
	messagesReceived   int64
	messagesForwarded  int64
	duplicatesDropped  int64
	decodeFailures     int64
	sendFailures       int64
	connectionAttempts int64
	failedConnections  int64
	deliveryOverflows  int64
	syncRounds         int64
	syncMessages       int64
	lastMessageAt      time.Time
}

// NewMetrics creates a zeroed counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementMessagesPublished counts a locally originated broadcast.
func (m *Metrics) IncrementMessagesPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesPublished++
}

// IncrementMessagesSent counts one message frame written to a peer.
func (m *Metrics) IncrementMessagesSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent++
}

// IncrementMessagesReceived counts one message frame read from a peer.
func (m *Metrics) IncrementMessagesReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
	m.lastMessageAt = time.Now()
}

// IncrementMessagesForwarded counts a newly inserted record being relayed.
func (m *Metrics) IncrementMessagesForwarded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesForwarded++
}

// IncrementDuplicatesDropped counts an inbound record the table already had.
func (m *Metrics) IncrementDuplicatesDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicatesDropped++
}

// IncrementDecodeFailures counts an inbound frame that failed to decode.
func (m *Metrics) IncrementDecodeFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decodeFailures++
}

// IncrementSendFailures counts a frame write that failed or timed out.
func (m *Metrics) IncrementSendFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFailures++
}

// IncrementConnectionAttempts counts an outbound connect attempt.
func (m *Metrics) IncrementConnectionAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionAttempts++
}

// IncrementFailedConnections counts a connect attempt that did not confirm.
func (m *Metrics) IncrementFailedConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedConnections++
}

// IncrementDeliveryOverflows counts a record dropped from the local
// delivery channel because the application was not draining it.
func (m *Metrics) IncrementDeliveryOverflows() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveryOverflows++
}

// IncrementSyncRounds counts one reconciliation exchange.
func (m *Metrics) IncrementSyncRounds() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncRounds++
}

// AddSyncMessages counts records gained through reconciliation.
func (m *Metrics) AddSyncMessages(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncMessages += int64(n)
}

// MessagesSent returns the number of message frames written so far.
func (m *Metrics) MessagesSent() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messagesSent
}

// Snapshot returns a point-in-time copy of every counter.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"messages_published":  m.messagesPublished,
		"messages_sent":       m.messagesSent,
		"messages_received":   m.messagesReceived,
		"messages_forwarded":  m.messagesForwarded,
		"duplicates_dropped":  m.duplicatesDropped,
		"decode_failures":     m.decodeFailures,
		"send_failures":       m.sendFailures,
		"connection_attempts": m.connectionAttempts,
		"failed_connections":  m.failedConnections,
		"delivery_overflows":  m.deliveryOverflows,
		"sync_rounds":         m.syncRounds,
		"sync_messages":       m.syncMessages,
		"last_message_at":     m.lastMessageAt,
	}
}

package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace
// prefix, so related kinds share a dotted prefix.
const (
	KindStoreLoaded     = "store.loaded"
	KindMessageUpserted = "store.message_upserted"
	KindSendFailed      = "store.send_failed"
	KindUnreadChanged   = "store.unread_changed"
	KindMessagesSeen    = "store.seen"

	KindCallStateChanged = "call.state_changed"
	KindCallMarker       = "call.marker"

	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"
	KindTransportDegraded     = "transport.degraded"

	KindNotification = "notification.received"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

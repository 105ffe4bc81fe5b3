package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the store. Subscribers filter by namespace
// prefix, so "message." matches both inserted and updated.
const (
	KindMessageInserted = "message.inserted"
	KindMessageUpdated  = "message.updated"
	KindMessageDeleted  = "message.deleted"

	KindThreadUpdated = "thread.updated"
	KindThreadDeleted = "thread.deleted"

	KindConversationListChanged = "conversationlist.changed"
)

// MessageChange is the payload of message.* events.
type MessageChange struct {
	MessageID int64
	Media     bool
	ThreadID  int64
}

// ThreadChange is the payload of thread.* events. Silent updates changed
// bookkeeping only (receipt counters, state bits) and need no list redraw.
type ThreadChange struct {
	ThreadID int64
	Silent   bool
}

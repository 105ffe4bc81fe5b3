package bus

import "time"

// Pending buffers events accumulated during a database transaction so they
// can be published only after the transaction commits. A Pending that is
// never flushed (rollback path) simply discards its events.
type Pending struct {
	events []Event
}

// Add queues an event for post-commit publication.
func (p *Pending) Add(kind string, payload any) {
	p.events = append(p.events, Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// MessageInserted queues a message.inserted event.
func (p *Pending) MessageInserted(messageID int64, media bool, threadID int64) {
	p.Add(KindMessageInserted, MessageChange{MessageID: messageID, Media: media, ThreadID: threadID})
}

// MessageUpdated queues a message.updated event.
func (p *Pending) MessageUpdated(messageID int64, media bool, threadID int64) {
	p.Add(KindMessageUpdated, MessageChange{MessageID: messageID, Media: media, ThreadID: threadID})
}

// MessageDeleted queues a message.deleted event.
func (p *Pending) MessageDeleted(messageID int64, media bool, threadID int64) {
	p.Add(KindMessageDeleted, MessageChange{MessageID: messageID, Media: media, ThreadID: threadID})
}

// ThreadUpdated queues a thread.updated event.
func (p *Pending) ThreadUpdated(threadID int64, silent bool) {
	p.Add(KindThreadUpdated, ThreadChange{ThreadID: threadID, Silent: silent})
}

// ThreadDeleted queues a thread.deleted event.
func (p *Pending) ThreadDeleted(threadID int64) {
	p.Add(KindThreadDeleted, ThreadChange{ThreadID: threadID})
}

// ConversationListChanged queues a conversationlist.changed event.
func (p *Pending) ConversationListChanged() {
	p.Add(KindConversationListChanged, nil)
}

// Flush publishes all queued events in order and clears the buffer.
func (p *Pending) Flush(b *Bus) {
	for _, evt := range p.events {
		b.Publish(evt)
	}
	p.events = nil
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/gfreire/msgdb/internal/types"
)

// Thread is one row of the conversation list.
type Thread struct {
	ID                 int64
	RecipientID        string
	IsGroup            bool
	Date               int64
	MeaningfulMessages int64
	Read               bool
	UnreadCount        int
	ForcedUnread       bool
	Snippet            string
	SnippetType        types.Raw
	SnippetURI         string
	SnippetContentType string
	// Receipt counts of the snippet message, denormalized so the
	// conversation list can render send state without a message lookup.
	DeliveryReceiptCount int
	ReadReceiptCount     int
	Archived             bool
	Pinned               bool
	HasSent              bool
	LastSeen             int64
	LastScrolled         int64
	ExpiresIn            int64
}

// Message is a row from either message table.
type Message struct {
	MessageID
	ThreadID             int64
	RecipientID          string
	RecipientDevice      int
	DateSent             int64
	DateReceived         int64
	DateServer           int64
	Type                 types.Raw
	Body                 string
	Read                 bool
	DeliveryReceiptCount int
	ReadReceiptCount     int
	ViewedReceiptCount   int
	ReceiptTimestamp     int64
	ExpiresIn            int64
	ExpireStarted        int64
	Unidentified         bool
	RemoteDeleted        bool
	Notified             bool
	NotifiedTimestamp    int64
	ServerGUID           string

	// Media-only fields.
	ViewOnce         bool
	QuoteID          int64
	QuoteAuthor      string
	QuoteBody        string
	QuoteMissing     bool
	QuoteAttachments string
	QuoteMentions    string
	SharedContacts   string
	LinkPreviews     string
}

// Attachment is a reference to a media payload. The payload itself lives
// outside the database; DataURI is its handle and becomes empty once a
// view-once payload is erased.
type Attachment struct {
	ID          int64
	MessageID   int64
	ContentType string
	FileName    string
	DataURI     string
	DataSize    int64
	VoiceNote   bool
	Sticker     bool
	VideoGif    bool
	Width       int
	Height      int
	Caption     string
}

// Mention marks a recipient referenced inside a message body.
type Mention struct {
	ID          int64
	ThreadID    int64
	MessageID   int64
	RecipientID string
	RangeStart  int
	RangeLength int
}

// Quote references an earlier message by its sent timestamp and author.
// Missing marks a quote whose original could not be found locally.
// Attachments and Mentions are serialized JSON side documents snapshotting
// the quoted message's content, kept so the quote renders even after the
// original is deleted.
type Quote struct {
	ID          int64
	Author      string
	Body        string
	Missing     bool
	Attachments string
	Mentions    string
}

// Draft is unsent composer state attached to a thread.
type Draft struct {
	ThreadID int64
	Kind     string
	Value    string
}

const messageColumns = `id, thread_id, recipient_id, recipient_device, date_sent, date_received,
	date_server, type, body, read, delivery_receipt_count, read_receipt_count,
	viewed_receipt_count, receipt_timestamp, expires_in, expire_started, unidentified,
	remote_deleted, notified, notified_timestamp, server_guid`

const mediaExtraColumns = `, view_once, quote_id, quote_author, quote_body, quote_missing,
	quote_attachments, quote_mentions, shared_contacts, link_previews`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, media bool) (*Message, error) {
	var m Message
	var body, guid, quoteAuthor, quoteBody, quoteAtts, quoteMentions, contacts, previews sql.NullString
	dest := []any{
		&m.ID, &m.ThreadID, &m.RecipientID, &m.RecipientDevice, &m.DateSent, &m.DateReceived,
		&m.DateServer, &m.Type, &body, &m.Read, &m.DeliveryReceiptCount, &m.ReadReceiptCount,
		&m.ViewedReceiptCount, &m.ReceiptTimestamp, &m.ExpiresIn, &m.ExpireStarted, &m.Unidentified,
		&m.RemoteDeleted, &m.Notified, &m.NotifiedTimestamp, &guid,
	}
	if media {
		dest = append(dest, &m.ViewOnce, &m.QuoteID, &quoteAuthor, &quoteBody, &m.QuoteMissing,
			&quoteAtts, &quoteMentions, &contacts, &previews)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	// A persisted type whose base is unknown is corruption; surface it
	// instead of letting the predicates misclassify the row.
	if _, _, err := types.Decode(m.Type); err != nil {
		return nil, fmt.Errorf("message %d: %w", m.ID, err)
	}
	m.Media = media
	m.Body = body.String
	m.ServerGUID = guid.String
	m.QuoteAuthor = quoteAuthor.String
	m.QuoteBody = quoteBody.String
	m.QuoteAttachments = quoteAtts.String
	m.QuoteMentions = quoteMentions.String
	m.SharedContacts = contacts.String
	m.LinkPreviews = previews.String
	return &m, nil
}

func scanThread(row rowScanner) (*Thread, error) {
	var t Thread
	var snippet, snippetURI, snippetCT sql.NullString
	err := row.Scan(
		&t.ID, &t.RecipientID, &t.IsGroup, &t.Date, &t.MeaningfulMessages, &t.Read,
		&t.UnreadCount, &t.ForcedUnread, &snippet, &t.SnippetType, &snippetURI, &snippetCT,
		&t.DeliveryReceiptCount, &t.ReadReceiptCount,
		&t.Archived, &t.Pinned, &t.HasSent, &t.LastSeen, &t.LastScrolled, &t.ExpiresIn,
	)
	if err != nil {
		return nil, err
	}
	t.Snippet = snippet.String
	t.SnippetURI = snippetURI.String
	t.SnippetContentType = snippetCT.String
	return &t, nil
}

const threadColumns = `id, recipient_id, is_group, date, meaningful_messages, read,
	unread_count, forced_unread, snippet, snippet_type, snippet_uri, snippet_content_type,
	delivery_receipt_count, read_receipt_count,
	archived, pinned, has_sent, last_seen, last_scrolled, expires_in`

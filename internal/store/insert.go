package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/receipt"
	"github.com/gfreire/msgdb/internal/types"
)

// IncomingMessage describes a received message to insert.
type IncomingMessage struct {
	SenderID     string
	SenderDevice int
	GroupID      string // non-empty routes the message to a group thread
	DateSent     int64
	DateServer   int64
	Body         string
	ExpiresIn    int64
	Unidentified bool
	ServerGUID   string

	Secure                bool
	EndSession            bool
	GroupUpdate           bool
	GroupLeave            bool
	GroupV2               bool
	ExpirationTimerUpdate bool
	IdentityUpdate        bool
	IdentityVerified      bool
	IdentityDefault       bool

	// Extra carries additional pre-encoded flag bits.
	Extra types.Raw

	// Media content. Any of these set routes the row to the media table.
	Media          bool
	ViewOnce       bool
	Attachments    []Attachment
	Quote          *Quote
	Mentions       []Mention
	SharedContacts string // serialized JSON
	LinkPreviews   string // serialized JSON
}

// OutgoingMessage describes a message queued for sending.
type OutgoingMessage struct {
	RecipientID string
	GroupID     string
	DateSent    int64
	Body        string
	ExpiresIn   int64

	Secure                bool
	ForceSMS              bool
	GroupUpdate           bool
	GroupLeave            bool
	GroupV2               bool
	ExpirationTimerUpdate bool
	EndSession            bool

	Extra types.Raw

	Media          bool
	ViewOnce       bool
	Attachments    []Attachment
	Quote          *Quote
	Mentions       []Mention
	SharedContacts string
	LinkPreviews   string
}

// InsertResult reports what an insert did.
type InsertResult struct {
	MessageID MessageID
	ThreadID  int64
	// Duplicate is set when a message with the same sent timestamp,
	// sender and thread already existed. Nothing was written.
	Duplicate bool
}

func (m *IncomingMessage) encodeType() types.Raw {
	t := types.BaseInbox | m.Extra
	if m.Secure {
		t |= types.SecureMessageBit | types.PushMessageBit
	}
	if m.EndSession {
		t |= types.EndSessionBit
	}
	if m.GroupUpdate {
		t |= types.GroupUpdateBit
	}
	if m.GroupLeave {
		t |= types.GroupLeaveBit
	}
	if m.GroupV2 {
		t |= types.GroupV2Bit
	}
	if m.ExpirationTimerUpdate {
		t |= types.ExpirationTimerUpdateBit
	}
	if m.IdentityUpdate {
		t |= types.KeyExchangeIdentityUpdateBit
	}
	if m.IdentityVerified {
		t |= types.KeyExchangeIdentityVerifiedBit
	}
	if m.IdentityDefault {
		t |= types.KeyExchangeIdentityDefaultBit
	}
	return t
}

func (m *OutgoingMessage) encodeType() types.Raw {
	t := types.BaseSending | m.Extra
	if m.Secure {
		t |= types.SecureMessageBit | types.PushMessageBit
	}
	if m.ForceSMS {
		t |= types.MessageForceSMSBit
	}
	if m.EndSession {
		t |= types.EndSessionBit
	}
	if m.GroupUpdate {
		t |= types.GroupUpdateBit
	}
	if m.GroupLeave {
		t |= types.GroupLeaveBit
	}
	if m.GroupV2 {
		t |= types.GroupV2Bit
	}
	if m.ExpirationTimerUpdate {
		t |= types.ExpirationTimerUpdateBit
	}
	return t
}

// InsertIncoming writes a received message. Inserting the same (sent
// timestamp, sender, thread) tuple twice is a no-op reported through
// InsertResult.Duplicate. Silent types leave the thread snippet, date and
// unread count untouched.
func (s *Store) InsertIncoming(m IncomingMessage) (*InsertResult, error) {
	msgType := m.encodeType()
	media := m.Media || m.ViewOnce || len(m.Attachments) > 0 || m.Quote != nil ||
		len(m.Mentions) > 0 || m.SharedContacts != "" || m.LinkPreviews != ""

	threadRecipient := m.SenderID
	if m.GroupID != "" {
		threadRecipient = m.GroupID
	}
	if m.SenderDevice == 0 {
		m.SenderDevice = 1
	}
	if m.ServerGUID == "" {
		m.ServerGUID = uuid.NewString()
	}
	if m.DateServer == 0 {
		m.DateServer = -1
	}
	dateReceived := s.nowMillis()

	var result InsertResult
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		threadID, err := s.getOrCreateThreadTx(tx, threadRecipient, m.GroupID != "")
		if err != nil {
			return err
		}
		result.ThreadID = threadID

		dup, err := s.isDuplicateTx(tx, media, m.DateSent, m.SenderID, threadID)
		if err != nil {
			return err
		}
		if dup {
			s.log.Info("duplicate message ignored",
				zap.Int64("date_sent", m.DateSent),
				zap.String("sender", m.SenderID),
				zap.Int64("thread", threadID))
			result.Duplicate = true
			return nil
		}

		expiresIn := m.ExpiresIn
		if expiresIn == 0 && !m.ExpirationTimerUpdate {
			err := tx.QueryRow(`SELECT expires_in FROM threads WHERE id = ?`, threadID).Scan(&expiresIn)
			if err != nil {
				return err
			}
		}

		id, err := s.insertRowTx(tx, media, &Message{
			ThreadID:        threadID,
			RecipientID:     m.SenderID,
			RecipientDevice: m.SenderDevice,
			DateSent:        m.DateSent,
			DateReceived:    dateReceived,
			DateServer:      m.DateServer,
			Type:            msgType,
			Body:            m.Body,
			ExpiresIn:       expiresIn,
			Unidentified:    m.Unidentified,
			ServerGUID:      m.ServerGUID,
			ReceiptTimestamp: -1,
			ViewOnce:        m.ViewOnce,
			SharedContacts:  m.SharedContacts,
			LinkPreviews:    m.LinkPreviews,
		}, m.Quote)
		if err != nil {
			return err
		}
		result.MessageID = MessageID{ID: id, Media: media}

		if media {
			if err := s.insertAttachmentsTx(tx, id, m.Attachments); err != nil {
				return err
			}
			if err := s.insertMentionsTx(tx, threadID, id, m.Mentions); err != nil {
				return err
			}
		}

		if m.ExpirationTimerUpdate {
			if _, err := tx.Exec(`UPDATE threads SET expires_in = ? WHERE id = ?`, m.ExpiresIn, threadID); err != nil {
				return err
			}
		}

		p.MessageInserted(id, media, threadID)

		if msgType.IsSilent() {
			return nil
		}
		if err := s.incrementUnreadTx(tx, threadID, 1); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE threads SET archived = 0 WHERE id = ?`, threadID); err != nil {
			return err
		}
		if _, err = s.updateThreadTx(tx, p, threadID, false); err != nil {
			return err
		}
		p.ConversationListChanged()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// InsertOutgoing writes a message in the sending state. Read is set
// immediately and any delivery receipts that arrived early are folded into
// the row's counters.
func (s *Store) InsertOutgoing(m OutgoingMessage) (*InsertResult, error) {
	msgType := m.encodeType()
	media := m.Media || m.ViewOnce || len(m.Attachments) > 0 || m.Quote != nil ||
		len(m.Mentions) > 0 || m.SharedContacts != "" || m.LinkPreviews != ""

	threadRecipient := m.RecipientID
	if m.GroupID != "" {
		threadRecipient = m.GroupID
	}
	if m.DateSent == 0 {
		m.DateSent = s.nowMillis()
	}
	dateReceived := s.nowMillis()

	var result InsertResult
	var claimed []receipt.Early
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		threadID, err := s.getOrCreateThreadTx(tx, threadRecipient, m.GroupID != "")
		if err != nil {
			return err
		}
		result.ThreadID = threadID

		claimed = s.early.Claim(m.DateSent)
		deliveryCount := 0
		receiptTimestamp := int64(-1)
		for _, early := range claimed {
			deliveryCount += early.Count
			if early.Timestamp > receiptTimestamp {
				receiptTimestamp = early.Timestamp
			}
		}
		if deliveryCount > 0 {
			s.log.Info("applying early delivery receipts",
				zap.Int64("date_sent", m.DateSent), zap.Int("count", deliveryCount))
		}

		expiresIn := m.ExpiresIn
		if expiresIn == 0 && !m.ExpirationTimerUpdate {
			if err := tx.QueryRow(`SELECT expires_in FROM threads WHERE id = ?`, threadID).Scan(&expiresIn); err != nil {
				return err
			}
		}

		id, err := s.insertRowTx(tx, media, &Message{
			ThreadID:             threadID,
			RecipientID:          threadRecipient,
			RecipientDevice:      1,
			DateSent:             m.DateSent,
			DateReceived:         dateReceived,
			DateServer:           -1,
			Type:                 msgType,
			Body:                 m.Body,
			Read:                 true,
			DeliveryReceiptCount: deliveryCount,
			ReceiptTimestamp:     receiptTimestamp,
			ExpiresIn:            expiresIn,
			ViewOnce:             m.ViewOnce,
			SharedContacts:       m.SharedContacts,
			LinkPreviews:         m.LinkPreviews,
		}, m.Quote)
		if err != nil {
			return err
		}
		result.MessageID = MessageID{ID: id, Media: media}

		if media {
			if err := s.insertAttachmentsTx(tx, id, m.Attachments); err != nil {
				return err
			}
			if err := s.insertMentionsTx(tx, threadID, id, m.Mentions); err != nil {
				return err
			}
		}

		if m.ExpirationTimerUpdate {
			if _, err := tx.Exec(`UPDATE threads SET expires_in = ? WHERE id = ?`, m.ExpiresIn, threadID); err != nil {
				return err
			}
		}
		if err := s.setHasSentSilentlyTx(tx, threadID); err != nil {
			return err
		}

		p.MessageInserted(id, media, threadID)
		if _, err = s.updateThreadTx(tx, p, threadID, false); err != nil {
			return err
		}
		p.ConversationListChanged()
		return nil
	})
	if err != nil {
		// The transaction rolled back, so the claimed receipts were
		// never applied. Put them back for the next attempt.
		s.early.Restore(m.DateSent, claimed)
		return nil, err
	}
	return &result, nil
}

func (s *Store) isDuplicateTx(tx *sql.Tx, media bool, dateSent int64, senderID string, threadID int64) (bool, error) {
	table := "text_messages"
	if media {
		table = "media_messages"
	}
	var id int64
	err := tx.QueryRow(`SELECT id FROM `+table+` WHERE date_sent = ? AND recipient_id = ? AND thread_id = ?`,
		dateSent, senderID, threadID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) insertRowTx(tx *sql.Tx, media bool, m *Message, quote *Quote) (int64, error) {
	if m.ReceiptTimestamp == 0 {
		m.ReceiptTimestamp = -1
	}
	if !media {
		res, err := tx.Exec(`INSERT INTO text_messages (thread_id, recipient_id, recipient_device,
			date_sent, date_received, date_server, type, body, read, delivery_receipt_count,
			receipt_timestamp, expires_in, unidentified, server_guid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ThreadID, m.RecipientID, m.RecipientDevice, m.DateSent, m.DateReceived, m.DateServer,
			int64(m.Type), nullable(m.Body), m.Read, m.DeliveryReceiptCount, m.ReceiptTimestamp,
			m.ExpiresIn, m.Unidentified, nullable(m.ServerGUID))
		if err != nil {
			return 0, fmt.Errorf("insert text message: %w", err)
		}
		return res.LastInsertId()
	}

	var q Quote
	if quote != nil {
		q = *quote
	}
	res, err := tx.Exec(`INSERT INTO media_messages (thread_id, recipient_id, recipient_device,
		date_sent, date_received, date_server, type, body, read, delivery_receipt_count,
		receipt_timestamp, expires_in, unidentified, server_guid, view_once,
		quote_id, quote_author, quote_body, quote_missing, quote_attachments, quote_mentions,
		shared_contacts, link_previews)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ThreadID, m.RecipientID, m.RecipientDevice, m.DateSent, m.DateReceived, m.DateServer,
		int64(m.Type), nullable(m.Body), m.Read, m.DeliveryReceiptCount, m.ReceiptTimestamp,
		m.ExpiresIn, m.Unidentified, nullable(m.ServerGUID), m.ViewOnce,
		q.ID, nullable(q.Author), nullable(q.Body), q.Missing,
		nullable(q.Attachments), nullable(q.Mentions),
		nullable(m.SharedContacts), nullable(m.LinkPreviews))
	if err != nil {
		return 0, fmt.Errorf("insert media message: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) insertAttachmentsTx(tx *sql.Tx, messageID int64, atts []Attachment) error {
	for _, a := range atts {
		_, err := tx.Exec(`INSERT INTO attachments (message_id, content_type, file_name, data_uri,
			data_size, voice_note, sticker, video_gif, width, height, caption)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			messageID, a.ContentType, nullable(a.FileName), nullable(a.DataURI), a.DataSize,
			a.VoiceNote, a.Sticker, a.VideoGif, a.Width, a.Height, nullable(a.Caption))
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

func (s *Store) insertMentionsTx(tx *sql.Tx, threadID, messageID int64, mentions []Mention) error {
	for _, m := range mentions {
		_, err := tx.Exec(`INSERT INTO mentions (thread_id, message_id, recipient_id, range_start, range_length)
			VALUES (?, ?, ?, ?, ?)`,
			threadID, messageID, m.RecipientID, m.RangeStart, m.RangeLength)
		if err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
	}
	return nil
}

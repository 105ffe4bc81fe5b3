package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/types"
)

// InsertCallLog records a call event in the recipient's thread. Missed
// calls arrive unread and bump the unread count; answered and outgoing
// calls are inserted already read.
func (s *Store) InsertCallLog(recipientID string, callType types.Raw, timestamp int64) (*InsertResult, error) {
	if !callType.IsCallLog() {
		return nil, fmt.Errorf("type 0x%X is not a call log", uint32(callType))
	}
	missed := callType.IsMissedCall()

	var result InsertResult
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		threadID, err := s.getOrCreateThreadTx(tx, recipientID, false)
		if err != nil {
			return err
		}
		result.ThreadID = threadID

		id, err := s.insertRowTx(tx, false, &Message{
			ThreadID:        threadID,
			RecipientID:     recipientID,
			RecipientDevice: 1,
			DateSent:        timestamp,
			DateReceived:    timestamp,
			DateServer:      -1,
			Type:            callType,
			Read:            !missed,
			ServerGUID:      uuid.NewString(),
			ReceiptTimestamp: -1,
		}, nil)
		if err != nil {
			return err
		}
		result.MessageID = MessageID{ID: id}

		p.MessageInserted(id, false, threadID)
		if missed {
			if err := s.incrementUnreadTx(tx, threadID, 1); err != nil {
				return err
			}
		}
		if _, err := s.updateThreadTx(tx, p, threadID, false); err != nil {
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

// InsertProfileChange records a profile rename event in the recipient's
// 1:1 thread, if one exists. The event is silent: no snippet, date or
// unread changes.
func (s *Store) InsertProfileChange(recipientID, details string) error {
	return s.insertSilentEvent(recipientID, types.ProfileChange, details)
}

// InsertChangeNumber records a number-change event in the recipient's 1:1
// thread, if one exists.
func (s *Store) InsertChangeNumber(recipientID string) error {
	return s.insertSilentEvent(recipientID, types.ChangeNumber, "")
}

// InsertBadDecrypt records a decryption-failure placeholder. It counts as
// a meaningful, unread message so the conversation surfaces.
func (s *Store) InsertBadDecrypt(senderID string, timestamp int64) (*InsertResult, error) {
	var result InsertResult
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		threadID, err := s.getOrCreateThreadTx(tx, senderID, false)
		if err != nil {
			return err
		}
		result.ThreadID = threadID

		id, err := s.insertRowTx(tx, false, &Message{
			ThreadID:        threadID,
			RecipientID:     senderID,
			RecipientDevice: 1,
			DateSent:        timestamp,
			DateReceived:    s.nowMillis(),
			DateServer:      -1,
			Type:            types.BadDecrypt,
			ServerGUID:      uuid.NewString(),
			ReceiptTimestamp: -1,
		}, nil)
		if err != nil {
			return err
		}
		result.MessageID = MessageID{ID: id}

		p.MessageInserted(id, false, threadID)
		if err := s.incrementUnreadTx(tx, threadID, 1); err != nil {
			return err
		}
		if _, err := s.updateThreadTx(tx, p, threadID, false); err != nil {
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

func (s *Store) insertSilentEvent(recipientID string, base types.Raw, body string) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		var threadID int64
		err := tx.QueryRow(`SELECT id FROM threads WHERE recipient_id = ? AND is_group = 0`,
			s.resolveRecipientTx(tx, recipientID)).Scan(&threadID)
		if err == sql.ErrNoRows {
			// No conversation with this recipient; nothing to record.
			return nil
		}
		if err != nil {
			return err
		}

		now := s.nowMillis()
		id, err := s.insertRowTx(tx, false, &Message{
			ThreadID:        threadID,
			RecipientID:     recipientID,
			RecipientDevice: 1,
			DateSent:        now,
			DateReceived:    now,
			DateServer:      -1,
			Type:            base,
			Body:            body,
			Read:            true,
			ServerGUID:      uuid.NewString(),
			ReceiptTimestamp: -1,
		}, nil)
		if err != nil {
			return err
		}
		p.MessageInserted(id, false, threadID)
		return nil
	})
}

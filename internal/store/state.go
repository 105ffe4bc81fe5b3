package store

import (
	"database/sql"
	"fmt"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/types"
)

// updateTypeBitmask swaps type bits on a message and silently refreshes the
// thread snippet so the conversation list shows the new send state without
// reordering.
func (s *Store) updateTypeBitmask(id MessageID, maskOff, maskOn types.Raw) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		m, err := s.getMessageTx(tx, id)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE `+id.table()+` SET type = (type & ?) | ? WHERE id = ?`,
			int64(^maskOff&types.TotalMask), int64(maskOn), id.ID)
		if err != nil {
			return fmt.Errorf("update type bitmask: %w", err)
		}
		p.MessageUpdated(id.ID, id.Media, m.ThreadID)
		return s.updateSnippetSilentlyTx(tx, p, m.ThreadID)
	})
}

// MarkAsSending moves a message into the sending state.
func (s *Store) MarkAsSending(id MessageID) error {
	return s.updateTypeBitmask(id, types.BaseTypeMask, types.BaseSending)
}

// MarkAsSent records a successful send. Secure sends keep their push and
// secure bits; insecure fallbacks drop them.
func (s *Store) MarkAsSent(id MessageID, secure bool) error {
	maskOn := types.BaseSent
	if secure {
		maskOn |= types.SecureMessageBit | types.PushMessageBit
	}
	return s.updateTypeBitmask(id, types.BaseTypeMask, maskOn)
}

// MarkAsSentFailed records a permanent send failure.
func (s *Store) MarkAsSentFailed(id MessageID) error {
	return s.updateTypeBitmask(id, types.BaseTypeMask, types.BaseSentFailed)
}

// MarkAsPendingSecureFallback parks a message awaiting user approval to
// retry over the secure channel.
func (s *Store) MarkAsPendingSecureFallback(id MessageID) error {
	return s.updateTypeBitmask(id, types.BaseTypeMask, types.BasePendingSecureFallback)
}

// MarkAsPendingInsecureFallback parks a message awaiting user approval to
// retry over the insecure channel.
func (s *Store) MarkAsPendingInsecureFallback(id MessageID) error {
	return s.updateTypeBitmask(id, types.BaseTypeMask, types.BasePendingInsecureFallback)
}

// MarkAsForcedSMS flags a message for insecure transport and re-queues it.
func (s *Store) MarkAsForcedSMS(id MessageID) error {
	return s.updateTypeBitmask(id, types.PushMessageBit, types.MessageForceSMSBit|types.BaseSending)
}

// MarkAsRateLimited flags a message as blocked by a server rate limit.
func (s *Store) MarkAsRateLimited(id MessageID) error {
	return s.updateTypeBitmask(id, 0, types.MessageRateLimitedBit)
}

// ListRateLimited returns the ids of all rate-limited messages.
func (s *Store) ListRateLimited() ([]MessageID, error) {
	q := fmt.Sprintf(`SELECT id, is_media FROM (
		SELECT id, 0 AS is_media FROM text_messages WHERE (type & %d) != 0
		UNION ALL
		SELECT id, 1 AS is_media FROM media_messages WHERE (type & %d) != 0
	)`, types.MessageRateLimitedBit, types.MessageRateLimitedBit)
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []MessageID
	for rows.Next() {
		var id MessageID
		if err := rows.Scan(&id.ID, &id.Media); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearRateLimited removes the rate-limited flag from all messages.
func (s *Store) ClearRateLimited() error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		for _, table := range []string{"text_messages", "media_messages"} {
			_, err := tx.Exec(fmt.Sprintf(`UPDATE %s SET type = (type & %d) WHERE (type & %d) != 0`,
				table, int64(^types.MessageRateLimitedBit&types.TotalMask), int64(types.MessageRateLimitedBit)))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkAsRemoteDeleted blanks a message that the sender retracted. Body,
// quote and side documents are cleared and attachments and mentions are
// removed; the row itself stays as a tombstone.
func (s *Store) MarkAsRemoteDeleted(id MessageID) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		m, err := s.getMessageTx(tx, id)
		if err != nil {
			return err
		}
		if id.Media {
			_, err = tx.Exec(`UPDATE media_messages SET remote_deleted = 1, body = NULL,
				quote_id = 0, quote_author = NULL, quote_body = NULL, quote_missing = 0,
				quote_attachments = NULL, quote_mentions = NULL,
				shared_contacts = NULL, link_previews = NULL, view_once = 0
				WHERE id = ?`, id.ID)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM attachments WHERE message_id = ?`, id.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM mentions WHERE message_id = ?`, id.ID); err != nil {
				return err
			}
		} else {
			_, err = tx.Exec(`UPDATE text_messages SET remote_deleted = 1, body = NULL WHERE id = ?`, id.ID)
			if err != nil {
				return err
			}
		}
		p.MessageUpdated(id.ID, id.Media, m.ThreadID)
		_, err = s.updateThreadTx(tx, p, m.ThreadID, false)
		return err
	})
}

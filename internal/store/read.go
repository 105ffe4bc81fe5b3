package store

import (
	"database/sql"
	"fmt"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/types"
)

// MarkedRead describes a message that transitioned unread-to-read. The
// caller uses these to start expiration timers and emit read receipts, so
// only secure incoming messages are reported.
type MarkedRead struct {
	ID            MessageID
	ThreadID      int64
	SenderID      string
	DateSent      int64
	ExpiresIn     int64
	ExpireStarted int64
}

// SetThreadReadSince marks every message in a thread received at or before
// sinceTimestamp as read. Pass -1 to mark the whole thread. The thread's
// unread count is recounted from the tables rather than decremented.
func (s *Store) SetThreadReadSince(threadID int64, sinceTimestamp int64) ([]MarkedRead, error) {
	var marked []MarkedRead
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		var err error
		marked, err = s.setReadWhereTx(tx, `thread_id = ? AND (? = -1 OR date_received <= ?)`,
			[]any{threadID, sinceTimestamp, sinceTimestamp})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE threads SET forced_unread = 0 WHERE id = ?`, threadID); err != nil {
			return err
		}
		if err := s.reconcileUnreadTx(tx, threadID); err != nil {
			return err
		}
		p.ThreadUpdated(threadID, false)
		p.ConversationListChanged()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// SetAllThreadsRead marks every message in the store read.
func (s *Store) SetAllThreadsRead() ([]MarkedRead, error) {
	var marked []MarkedRead
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		var err error
		marked, err = s.setReadWhereTx(tx, `1 = 1`, nil)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE threads SET read = 1, unread_count = 0, forced_unread = 0`)
		if err != nil {
			return err
		}
		p.ConversationListChanged()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// setReadWhereTx flips read on unread rows matching the condition in both
// tables and returns the secure incoming ones that actually transitioned.
func (s *Store) setReadWhereTx(tx *sql.Tx, where string, args []any) ([]MarkedRead, error) {
	var marked []MarkedRead
	for _, media := range []bool{false, true} {
		table := "text_messages"
		if media {
			table = "media_messages"
		}
		rows, err := tx.Query(`SELECT id, thread_id, recipient_id, date_sent, type, expires_in, expire_started
			FROM `+table+` WHERE read = 0 AND `+where, args...)
		if err != nil {
			return nil, fmt.Errorf("select unread: %w", err)
		}

		var ids []int64
		for rows.Next() {
			var m MarkedRead
			var rawType int64
			if err := rows.Scan(&m.ID.ID, &m.ThreadID, &m.SenderID, &m.DateSent, &rawType,
				&m.ExpiresIn, &m.ExpireStarted); err != nil {
				_ = rows.Close()
				return nil, err
			}
			m.ID.Media = media
			ids = append(ids, m.ID.ID)
			t := types.Raw(rawType)
			if t.IsSecure() && !t.IsOutgoing() {
				marked = append(marked, m)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE `+table+` SET read = 1 WHERE id = ?`, id); err != nil {
				return nil, err
			}
		}
	}
	return marked, nil
}

// reconcileUnreadTx recomputes a thread's unread state from the message
// tables instead of trusting incremental deltas.
func (s *Store) reconcileUnreadTx(tx *sql.Tx, threadID int64) error {
	unread, err := s.countUnreadTx(tx, threadID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE threads SET unread_count = ?,
		read = CASE WHEN ? > 0 OR forced_unread THEN 0 ELSE 1 END
		WHERE id = ?`, unread, unread, threadID)
	return err
}

// SetTimestampRead applies a read-sync from another linked device: the
// matching incoming messages are marked read and their expiration start is
// clamped so the earliest start wins.
func (s *Store) SetTimestampRead(senderID string, dateSent int64, proposedExpireStarted int64) ([]MarkedRead, error) {
	var marked []MarkedRead
	threads := map[int64]bool{}
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		for _, media := range []bool{false, true} {
			table := "text_messages"
			if media {
				table = "media_messages"
			}
			rows, err := tx.Query(`SELECT id, thread_id, recipient_id, date_sent, expires_in, expire_started
				FROM `+table+` WHERE date_sent = ? AND recipient_id = ?`,
				dateSent, senderID)
			if err != nil {
				return err
			}

			var found []MarkedRead
			for rows.Next() {
				var m MarkedRead
				if err := rows.Scan(&m.ID.ID, &m.ThreadID, &m.SenderID, &m.DateSent,
					&m.ExpiresIn, &m.ExpireStarted); err != nil {
					_ = rows.Close()
					return err
				}
				m.ID.Media = media
				found = append(found, m)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if err := rows.Err(); err != nil {
				return err
			}

			for _, m := range found {
				start := proposedExpireStarted
				if m.ExpireStarted > 0 && m.ExpireStarted < start {
					start = m.ExpireStarted
				}
				if m.ExpiresIn == 0 {
					start = 0
				}
				_, err := tx.Exec(`UPDATE `+table+` SET read = 1, expire_started = ? WHERE id = ?`,
					start, m.ID.ID)
				if err != nil {
					return err
				}
				m.ExpireStarted = start
				marked = append(marked, m)
				threads[m.ThreadID] = true
				p.MessageUpdated(m.ID.ID, media, m.ThreadID)
			}
		}

		for threadID := range threads {
			if err := s.reconcileUnreadTx(tx, threadID); err != nil {
				return err
			}
			p.ThreadUpdated(threadID, false)
		}
		if len(threads) > 0 {
			p.ConversationListChanged()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// SetIncomingViewed marks incoming media messages as viewed, first view
// only. Returns the messages that transitioned, for viewed-receipt sync.
func (s *Store) SetIncomingViewed(ids []int64) ([]MarkedRead, error) {
	var marked []MarkedRead
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		for _, id := range ids {
			m, err := s.getMessageTx(tx, MessageID{ID: id, Media: true})
			if err == ErrNoSuchMessage {
				continue
			}
			if err != nil {
				return err
			}
			if m.Type.IsOutgoing() || m.ViewedReceiptCount > 0 {
				continue
			}
			_, err = tx.Exec(`UPDATE media_messages SET viewed_receipt_count = 1, read = 1 WHERE id = ?`, id)
			if err != nil {
				return err
			}
			marked = append(marked, MarkedRead{
				ID:            MessageID{ID: id, Media: true},
				ThreadID:      m.ThreadID,
				SenderID:      m.RecipientID,
				DateSent:      m.DateSent,
				ExpiresIn:     m.ExpiresIn,
				ExpireStarted: m.ExpireStarted,
			})
			p.MessageUpdated(id, true, m.ThreadID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

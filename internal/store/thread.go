package store

import (
	"database/sql"
	"fmt"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/types"
)

// meaningfulPredicate selects messages that count toward a thread's
// existence. Must agree with types.Raw.IsMeaningful.
var meaningfulPredicate = fmt.Sprintf(
	"(type & %d) = 0 AND (type & %d) NOT IN (%d, %d, %d) AND (type & %d) != %d",
	types.EndSessionBit|types.KeyExchangeIdentityUpdateBit|types.KeyExchangeIdentityVerifiedBit,
	types.BaseTypeMask, types.ProfileChange, types.ChangeNumber, types.BoostRequest,
	types.GroupV2LeaveBits, types.GroupV2LeaveBits,
)

// GetOrCreateThread returns the thread id for a recipient, creating the
// thread row if needed. The recipient id is resolved through the remap
// table first, so merged recipients land in the surviving thread.
func (s *Store) GetOrCreateThread(recipientID string, isGroup bool) (int64, error) {
	var id int64
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		var err error
		id, err = s.getOrCreateThreadTx(tx, recipientID, isGroup)
		return err
	})
	return id, err
}

func (s *Store) getOrCreateThreadTx(tx *sql.Tx, recipientID string, isGroup bool) (int64, error) {
	recipientID = s.resolveRecipientTx(tx, recipientID)

	var id int64
	err := tx.QueryRow(`SELECT id FROM threads WHERE recipient_id = ?`, recipientID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup thread: %w", err)
	}

	res, err := tx.Exec(`INSERT INTO threads (recipient_id, is_group) VALUES (?, ?)`, recipientID, isGroup)
	if err != nil {
		return 0, fmt.Errorf("create thread: %w", err)
	}
	return res.LastInsertId()
}

// GetThread returns a thread by id, or ErrNoSuchThread.
func (s *Store) GetThread(threadID int64) (*Thread, error) {
	row := s.db.QueryRow(`SELECT `+threadColumns+` FROM threads WHERE id = ?`, threadID)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoSuchThread
	}
	return t, err
}

// ThreadForRecipient returns the thread for a recipient id, or nil when
// none exists.
func (s *Store) ThreadForRecipient(recipientID string) (*Thread, error) {
	recipientID = s.resolveRecipientTx(s.db, recipientID)
	row := s.db.QueryRow(`SELECT `+threadColumns+` FROM threads WHERE recipient_id = ?`, recipientID)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListThreads returns the conversation list: pinned threads first, then by
// descending date. A non-positive limit returns everything.
func (s *Store) ListThreads(includeArchived bool, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT ` + threadColumns + ` FROM threads`
	if !includeArchived {
		q += ` WHERE archived = 0`
	}
	q += ` ORDER BY pinned DESC, date DESC LIMIT ?`

	rows, err := s.db.Query(q, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// updateThreadTx is the single reconcile point: it recomputes a thread's
// snippet, date, meaningful count and unread count from the message tables.
// When the thread holds no meaningful messages and allowDeletion is set,
// the thread row is deleted instead. Returns whether the thread survived.
func (s *Store) updateThreadTx(tx *sql.Tx, p *bus.Pending, threadID int64, allowDeletion bool) (bool, error) {
	var meaningful int64
	q := fmt.Sprintf(`SELECT
		(SELECT COUNT(*) FROM text_messages WHERE thread_id = ? AND %s) +
		(SELECT COUNT(*) FROM media_messages WHERE thread_id = ? AND %s)`,
		meaningfulPredicate, meaningfulPredicate)
	if err := tx.QueryRow(q, threadID, threadID).Scan(&meaningful); err != nil {
		return false, fmt.Errorf("count meaningful: %w", err)
	}

	if meaningful == 0 {
		var pinned, forced bool
		err := tx.QueryRow(`SELECT pinned, forced_unread FROM threads WHERE id = ?`, threadID).Scan(&pinned, &forced)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if allowDeletion && !pinned && !forced {
			if err := s.deleteThreadRowTx(tx, threadID); err != nil {
				return false, err
			}
			p.ThreadDeleted(threadID)
			p.ConversationListChanged()
			return false, nil
		}
		_, err = tx.Exec(`UPDATE threads SET snippet = NULL, snippet_type = 0, snippet_uri = NULL,
			snippet_content_type = NULL, delivery_receipt_count = 0, read_receipt_count = 0,
			meaningful_messages = 0, unread_count = 0,
			read = CASE WHEN forced_unread THEN read ELSE 1 END
			WHERE id = ?`, threadID)
		if err != nil {
			return false, err
		}
		p.ThreadUpdated(threadID, false)
		return true, nil
	}

	latest, err := s.latestMeaningfulTx(tx, threadID)
	if err != nil {
		return false, err
	}

	snippet, contentType, uri := s.snippetFor(tx, latest)
	unread, err := s.countUnreadTx(tx, threadID)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(`UPDATE threads SET date = ?, snippet = ?, snippet_type = ?,
		snippet_uri = ?, snippet_content_type = ?, delivery_receipt_count = ?,
		read_receipt_count = ?, meaningful_messages = ?,
		unread_count = ?, read = CASE WHEN ? > 0 OR forced_unread THEN 0 ELSE 1 END
		WHERE id = ?`,
		latest.DateReceived, snippet, int64(latest.Type), nullable(uri), nullable(contentType),
		latest.DeliveryReceiptCount, latest.ReadReceiptCount,
		meaningful, unread, unread, threadID)
	if err != nil {
		return false, fmt.Errorf("update thread: %w", err)
	}
	p.ThreadUpdated(threadID, false)
	return true, nil
}

// updateSnippetSilentlyTx refreshes snippet fields after a state-bit change
// without touching date or unread counts. Used by send-state transitions.
func (s *Store) updateSnippetSilentlyTx(tx *sql.Tx, p *bus.Pending, threadID int64) error {
	latest, err := s.latestMeaningfulTx(tx, threadID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	snippet, contentType, uri := s.snippetFor(tx, latest)
	_, err = tx.Exec(`UPDATE threads SET snippet = ?, snippet_type = ?, snippet_uri = ?,
		snippet_content_type = ?, delivery_receipt_count = ?, read_receipt_count = ?
		WHERE id = ?`,
		snippet, int64(latest.Type), nullable(uri), nullable(contentType),
		latest.DeliveryReceiptCount, latest.ReadReceiptCount, threadID)
	if err != nil {
		return err
	}
	p.ThreadUpdated(threadID, true)
	return nil
}

// latestMeaningfulTx returns the newest meaningful message of a thread
// across both tables.
func (s *Store) latestMeaningfulTx(tx *sql.Tx, threadID int64) (*Message, error) {
	q := fmt.Sprintf(`SELECT id, is_media, date_received FROM (
		SELECT id, 0 AS is_media, date_received FROM text_messages WHERE thread_id = ? AND %s
		UNION ALL
		SELECT id, 1 AS is_media, date_received FROM media_messages WHERE thread_id = ? AND %s
	) ORDER BY date_received DESC LIMIT 1`, meaningfulPredicate, meaningfulPredicate)

	var id int64
	var isMedia bool
	var dateReceived int64
	if err := tx.QueryRow(q, threadID, threadID).Scan(&id, &isMedia, &dateReceived); err != nil {
		return nil, err
	}
	return s.getMessageTx(tx, MessageID{ID: id, Media: isMedia})
}

func (s *Store) countUnreadTx(tx *sql.Tx, threadID int64) (int, error) {
	var unread int
	err := tx.QueryRow(`SELECT
		(SELECT COUNT(*) FROM text_messages WHERE thread_id = ? AND read = 0) +
		(SELECT COUNT(*) FROM media_messages WHERE thread_id = ? AND read = 0)`,
		threadID, threadID).Scan(&unread)
	return unread, err
}

func (s *Store) incrementUnreadTx(tx *sql.Tx, threadID int64, amount int) error {
	_, err := tx.Exec(`UPDATE threads SET read = 0, unread_count = unread_count + ? WHERE id = ?`,
		amount, threadID)
	return err
}

func (s *Store) setHasSentSilentlyTx(tx *sql.Tx, threadID int64) error {
	_, err := tx.Exec(`UPDATE threads SET has_sent = 1 WHERE id = ?`, threadID)
	return err
}

// SetArchived archives or unarchives a thread.
func (s *Store) SetArchived(threadID int64, archived bool) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		if _, err := tx.Exec(`UPDATE threads SET archived = ? WHERE id = ?`, archived, threadID); err != nil {
			return err
		}
		p.ThreadUpdated(threadID, false)
		p.ConversationListChanged()
		return nil
	})
}

// SetPinned pins or unpins a thread. Pinned threads sort first and are
// never auto-deleted by reconciliation.
func (s *Store) SetPinned(threadID int64, pinned bool) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		if _, err := tx.Exec(`UPDATE threads SET pinned = ? WHERE id = ?`, pinned, threadID); err != nil {
			return err
		}
		p.ThreadUpdated(threadID, false)
		p.ConversationListChanged()
		return nil
	})
}

// SetForcedUnread marks threads unread without any message transition.
func (s *Store) SetForcedUnread(threadIDs []int64) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		for _, id := range threadIDs {
			if _, err := tx.Exec(`UPDATE threads SET read = 0, forced_unread = 1 WHERE id = ?`, id); err != nil {
				return err
			}
			p.ThreadUpdated(id, false)
		}
		p.ConversationListChanged()
		return nil
	})
}

// SetLastSeen records when the user last looked at a thread.
func (s *Store) SetLastSeen(threadID int64, timestamp int64) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		if _, err := tx.Exec(`UPDATE threads SET last_seen = ? WHERE id = ?`, timestamp, threadID); err != nil {
			return err
		}
		p.ThreadUpdated(threadID, true)
		return nil
	})
}

// SetLastScrolled records the saved scroll position timestamp.
func (s *Store) SetLastScrolled(threadID int64, timestamp int64) error {
	_, err := s.db.Exec(`UPDATE threads SET last_scrolled = ? WHERE id = ?`, timestamp, threadID)
	return err
}

// SetThreadExpiration sets the default disappearing-message timer for new
// messages in a thread.
func (s *Store) SetThreadExpiration(threadID int64, expiresIn int64) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		if _, err := tx.Exec(`UPDATE threads SET expires_in = ? WHERE id = ?`, expiresIn, threadID); err != nil {
			return err
		}
		p.ThreadUpdated(threadID, true)
		return nil
	})
}

// DeleteThread removes a thread and all of its messages, drafts and
// dependent rows.
func (s *Store) DeleteThread(threadID int64) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		if err := s.deleteThreadRowTx(tx, threadID); err != nil {
			return err
		}
		p.ThreadDeleted(threadID)
		p.ConversationListChanged()
		return nil
	})
}

// deleteThreadRowTx deletes a thread and its dependents. Message rows
// cascade via foreign keys, which in turn cascade attachments and mentions;
// FTS rows go through the delete triggers.
func (s *Store) deleteThreadRowTx(tx *sql.Tx, threadID int64) error {
	if _, err := tx.Exec(`DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

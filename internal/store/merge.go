package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
)

// resolveRecipientTx follows the remap chain for a recipient id. Chains are
// short in practice; the cap guards against a cycle from bad data.
func (s *Store) resolveRecipientTx(q querier, recipientID string) string {
	for i := 0; i < 10; i++ {
		var next string
		err := q.QueryRow(`SELECT new_id FROM remapped_recipients WHERE old_id = ?`, recipientID).Scan(&next)
		if err != nil {
			return recipientID
		}
		recipientID = next
	}
	s.log.Warn("recipient remap chain too long", zap.String("recipient", recipientID))
	return recipientID
}

// MergeRecipients folds oldID into newID after the two were discovered to
// be the same party. Messages, drafts and the thread row move to the
// surviving recipient, and a remap row redirects future lookups instead of
// rewriting historical foreign keys elsewhere.
//
// When both recipients had threads, the disappearing-message timers merge
// conservatively: an unset timer adopts the other side, otherwise the
// shorter timer wins.
func (s *Store) MergeRecipients(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		newID := s.resolveRecipientTx(tx, newID)

		var oldThread, newThread int64
		var oldExpires, newExpires int64
		oldErr := tx.QueryRow(`SELECT id, expires_in FROM threads WHERE recipient_id = ?`, oldID).
			Scan(&oldThread, &oldExpires)
		newErr := tx.QueryRow(`SELECT id, expires_in FROM threads WHERE recipient_id = ?`, newID).
			Scan(&newThread, &newExpires)
		if oldErr != nil && oldErr != sql.ErrNoRows {
			return oldErr
		}
		if newErr != nil && newErr != sql.ErrNoRows {
			return newErr
		}

		// Message authorship follows the surviving id.
		for _, table := range []string{"text_messages", "media_messages"} {
			if _, err := tx.Exec(`UPDATE `+table+` SET recipient_id = ? WHERE recipient_id = ?`, newID, oldID); err != nil {
				return fmt.Errorf("remap %s: %w", table, err)
			}
		}
		if _, err := tx.Exec(`UPDATE mentions SET recipient_id = ? WHERE recipient_id = ?`, newID, oldID); err != nil {
			return err
		}

		switch {
		case oldErr == nil && newErr != nil:
			// Only the old thread exists: rename it in place.
			if _, err := tx.Exec(`UPDATE threads SET recipient_id = ? WHERE id = ?`, newID, oldThread); err != nil {
				return err
			}
			p.ThreadUpdated(oldThread, false)

		case oldErr == nil && newErr == nil:
			// Both exist: move everything into the new thread.
			for _, table := range []string{"text_messages", "media_messages", "drafts", "mentions"} {
				if _, err := tx.Exec(`UPDATE `+table+` SET thread_id = ? WHERE thread_id = ?`, newThread, oldThread); err != nil {
					return fmt.Errorf("move %s: %w", table, err)
				}
			}

			merged := mergeExpiresIn(oldExpires, newExpires)
			if _, err := tx.Exec(`UPDATE threads SET expires_in = ? WHERE id = ?`, merged, newThread); err != nil {
				return err
			}

			if err := s.deleteThreadRowTx(tx, oldThread); err != nil {
				return err
			}
			p.ThreadDeleted(oldThread)

			if _, err := s.updateThreadTx(tx, p, newThread, false); err != nil {
				return err
			}
			p.ConversationListChanged()
		}

		if _, err := tx.Exec(`INSERT INTO remapped_recipients (old_id, new_id) VALUES (?, ?)
			ON CONFLICT(old_id) DO UPDATE SET new_id = excluded.new_id`, oldID, newID); err != nil {
			return fmt.Errorf("record remap: %w", err)
		}

		s.log.Info("merged recipients", zap.String("old", oldID), zap.String("new", newID))
		return nil
	})
}

func mergeExpiresIn(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

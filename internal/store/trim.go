package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
)

// TrimThread applies the retention policy to one thread: keep at most
// maxCount messages (zero disables) and nothing received before keepAfter
// (zero disables). Returns how many messages were deleted.
func (s *Store) TrimThread(threadID int64, maxCount int, keepAfter int64) (int, error) {
	deleted := 0
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		cutoff := keepAfter

		if maxCount > 0 {
			// Find the received date of the Nth newest message; everything
			// older than it goes.
			var nth sql.NullInt64
			err := tx.QueryRow(`SELECT date_received FROM (
				SELECT date_received FROM text_messages WHERE thread_id = ?
				UNION ALL
				SELECT date_received FROM media_messages WHERE thread_id = ?
			) ORDER BY date_received DESC LIMIT 1 OFFSET ?`,
				threadID, threadID, maxCount-1).Scan(&nth)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if err == nil && nth.Valid && nth.Int64 > cutoff {
				cutoff = nth.Int64
			}
		}
		if cutoff == 0 {
			return nil
		}

		for _, table := range []string{"text_messages", "media_messages"} {
			res, err := tx.Exec(`DELETE FROM `+table+` WHERE thread_id = ? AND date_received < ?`,
				threadID, cutoff)
			if err != nil {
				return fmt.Errorf("trim %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			deleted += int(n)
		}
		if deleted == 0 {
			return nil
		}

		s.log.Info("trimmed thread", zap.Int64("thread", threadID), zap.Int("deleted", deleted))
		_, err := s.updateThreadTx(tx, p, threadID, false)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteAbandoned removes dependent rows whose parent is gone: attachments
// and mentions without a message, drafts without a thread. Foreign keys
// normally prevent these, but trims and imports can leave strays behind.
func (s *Store) DeleteAbandoned() error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		stmts := []string{
			`DELETE FROM attachments WHERE message_id NOT IN (SELECT id FROM media_messages)`,
			`DELETE FROM mentions WHERE message_id NOT IN (SELECT id FROM media_messages)`,
			`DELETE FROM drafts WHERE thread_id NOT IN (SELECT id FROM threads)`,
			`DELETE FROM message_fts WHERE is_media = 0 AND message_id NOT IN (SELECT id FROM text_messages)`,
			`DELETE FROM message_fts WHERE is_media = 1 AND message_id NOT IN (SELECT id FROM media_messages)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

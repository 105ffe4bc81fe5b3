package store

import (
	"database/sql"
	"fmt"

	"github.com/gfreire/msgdb/internal/bus"
)

// MaxViewOnceLifespanMillis bounds how long a view-once payload may be
// kept even when it was never viewed: 30 days.
const MaxViewOnceLifespanMillis = int64(30 * 24 * 60 * 60 * 1000)

// MarkExpireStarted starts the disappearing-message countdown for the
// given messages. The earliest start wins: a row whose countdown already
// began earlier is left alone.
func (s *Store) MarkExpireStarted(ids []MessageID, startedAt int64) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		for _, id := range ids {
			res, err := tx.Exec(`UPDATE `+id.table()+` SET expire_started = ?
				WHERE id = ? AND expires_in > 0 AND (expire_started = 0 OR expire_started > ?)`,
				startedAt, id.ID, startedAt)
			if err != nil {
				return fmt.Errorf("mark expire started: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				var threadID int64
				if err := tx.QueryRow(`SELECT thread_id FROM `+id.table()+` WHERE id = ?`, id.ID).Scan(&threadID); err == nil {
					p.MessageUpdated(id.ID, id.Media, threadID)
				}
			}
		}
		return nil
	})
}

// ExpiredMessages returns messages whose countdown has elapsed at now.
func (s *Store) ExpiredMessages(now int64) ([]MessageID, error) {
	rows, err := s.db.Query(`SELECT id, is_media FROM (
		SELECT id, 0 AS is_media FROM text_messages
			WHERE expire_started > 0 AND expire_started + expires_in <= ?
		UNION ALL
		SELECT id, 1 AS is_media FROM media_messages
			WHERE expire_started > 0 AND expire_started + expires_in <= ?
	)`, now, now)
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

// NextExpiration returns the soonest absolute deadline among running
// countdowns, or false when none are running.
func (s *Store) NextExpiration() (int64, bool, error) {
	var deadline sql.NullInt64
	err := s.db.QueryRow(`SELECT MIN(deadline) FROM (
		SELECT MIN(expire_started + expires_in) AS deadline FROM text_messages WHERE expire_started > 0
		UNION ALL
		SELECT MIN(expire_started + expires_in) AS deadline FROM media_messages WHERE expire_started > 0
	)`).Scan(&deadline)
	if err != nil {
		return 0, false, err
	}
	return deadline.Int64, deadline.Valid, nil
}

// DeleteExpired removes every message whose countdown has elapsed and
// reconciles the affected threads. Returns how many were deleted.
func (s *Store) DeleteExpired(now int64) (int, error) {
	ids, err := s.ExpiredMessages(now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := s.DeleteMessage(id); err != nil && err != ErrNoSuchMessage {
			return 0, err
		}
	}
	return len(ids), nil
}

// ViewOnceCandidate identifies the view-once message next in line to have
// its payload erased. Its erase deadline is DateReceived plus
// MaxViewOnceLifespanMillis.
type ViewOnceCandidate struct {
	MessageID    int64
	DateReceived int64
}

// NearestExpiringViewOnce returns the oldest view-once message whose
// payload is still present, or nil when there is none.
func (s *Store) NearestExpiringViewOnce() (*ViewOnceCandidate, error) {
	var c ViewOnceCandidate
	err := s.db.QueryRow(`SELECT m.id, m.date_received FROM media_messages m
		WHERE m.view_once = 1
		  AND EXISTS (SELECT 1 FROM attachments a WHERE a.message_id = m.id AND a.data_uri IS NOT NULL)
		ORDER BY m.date_received ASC LIMIT 1`).
		Scan(&c.MessageID, &c.DateReceived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// EraseExpiredViewOnce drops the payload references of view-once messages
// past their maximum lifespan. The message rows remain as tombstones.
// Returns how many messages were erased.
func (s *Store) EraseExpiredViewOnce(now int64) (int, error) {
	cutoff := now - MaxViewOnceLifespanMillis
	erased := 0
	err := s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		rows, err := tx.Query(`SELECT DISTINCT m.id, m.thread_id FROM media_messages m
			JOIN attachments a ON a.message_id = m.id
			WHERE m.view_once = 1 AND a.data_uri IS NOT NULL AND m.date_received <= ?`, cutoff)
		if err != nil {
			return err
		}

		type target struct{ id, threadID int64 }
		var targets []target
		for rows.Next() {
			var t target
			if err := rows.Scan(&t.id, &t.threadID); err != nil {
				_ = rows.Close()
				return err
			}
			targets = append(targets, t)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, t := range targets {
			_, err := tx.Exec(`UPDATE attachments SET data_uri = NULL, data_size = 0 WHERE message_id = ?`, t.id)
			if err != nil {
				return err
			}
			p.MessageUpdated(t.id, true, t.threadID)
			erased++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return erased, nil
}

// EraseViewOncePayload clears the payload of a single viewed message.
func (s *Store) EraseViewOncePayload(messageID int64) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		var threadID int64
		err := tx.QueryRow(`SELECT thread_id FROM media_messages WHERE id = ? AND view_once = 1`, messageID).
			Scan(&threadID)
		if err == sql.ErrNoRows {
			return ErrNoSuchMessage
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE attachments SET data_uri = NULL, data_size = 0 WHERE message_id = ?`, messageID)
		if err != nil {
			return err
		}
		p.MessageUpdated(messageID, true, threadID)
		return nil
	})
}

package store

import (
	"database/sql"

	"github.com/gfreire/msgdb/internal/bus"
)

// ReplaceDrafts swaps the drafts of a thread for a new set.
func (s *Store) ReplaceDrafts(threadID int64, drafts []Draft) error {
	return s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		if _, err := tx.Exec(`DELETE FROM drafts WHERE thread_id = ?`, threadID); err != nil {
			return err
		}
		for _, d := range drafts {
			if _, err := tx.Exec(`INSERT INTO drafts (thread_id, kind, value) VALUES (?, ?, ?)`,
				threadID, d.Kind, d.Value); err != nil {
				return err
			}
		}
		p.ThreadUpdated(threadID, true)
		return nil
	})
}

// ClearDrafts removes all drafts of a thread.
func (s *Store) ClearDrafts(threadID int64) error {
	return s.ReplaceDrafts(threadID, nil)
}

// Drafts returns the drafts of a thread.
func (s *Store) Drafts(threadID int64) ([]Draft, error) {
	rows, err := s.db.Query(`SELECT thread_id, kind, value FROM drafts WHERE thread_id = ? ORDER BY id`, threadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var drafts []Draft
	for rows.Next() {
		var d Draft
		if err := rows.Scan(&d.ThreadID, &d.Kind, &d.Value); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

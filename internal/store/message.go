package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
)

// GetMessage returns a message by id, or ErrNoSuchMessage.
func (s *Store) GetMessage(id MessageID) (*Message, error) {
	return s.getMessageTx(s.db, id)
}

func (s *Store) getMessageTx(q querier, id MessageID) (*Message, error) {
	cols := messageColumns
	if id.Media {
		cols += mediaExtraColumns
	}
	row := q.QueryRow(`SELECT `+cols+` FROM `+id.table()+` WHERE id = ?`, id.ID)
	m, err := scanMessage(row, id.Media)
	if err == sql.ErrNoRows {
		return nil, ErrNoSuchMessage
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListThreadMessages returns messages of both kinds for a thread using
// keyset pagination by received timestamp, newest first.
func (s *Store) ListThreadMessages(threadID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = s.nowMillis() + 1
	}
	rows, err := s.db.Query(`SELECT id, is_media FROM (
		SELECT id, 0 AS is_media, date_received FROM text_messages WHERE thread_id = ? AND date_received < ?
		UNION ALL
		SELECT id, 1 AS is_media, date_received FROM media_messages WHERE thread_id = ? AND date_received < ?
	) ORDER BY date_received DESC LIMIT ?`, threadID, beforeTs, threadID, beforeTs, limit)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.getMessageTx(s.db, id)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, nil
}

// Attachments returns the attachments of a media message.
func (s *Store) Attachments(messageID int64) ([]Attachment, error) {
	rows, err := s.db.Query(`SELECT id, message_id, content_type, COALESCE(file_name, ''),
		COALESCE(data_uri, ''), data_size, voice_note, sticker, video_gif, width, height,
		COALESCE(caption, '')
		FROM attachments WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.ContentType, &a.FileName, &a.DataURI,
			&a.DataSize, &a.VoiceNote, &a.Sticker, &a.VideoGif, &a.Width, &a.Height, &a.Caption); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// Mentions returns the mention rows of a media message.
func (s *Store) Mentions(messageID int64) ([]Mention, error) {
	return s.mentionsFor(s.db, messageID)
}

// DeleteMessage removes a single message and reconciles its thread, which
// may delete the thread when no meaningful messages remain. Returns whether
// the thread survived.
func (s *Store) DeleteMessage(id MessageID) (threadAlive bool, err error) {
	err = s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		m, err := s.getMessageTx(tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM `+id.table()+` WHERE id = ?`, id.ID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		p.MessageDeleted(id.ID, id.Media, m.ThreadID)
		threadAlive, err = s.updateThreadTx(tx, p, m.ThreadID, true)
		return err
	})
	return threadAlive, err
}

// MarkNotified records that a notification was shown for a message.
func (s *Store) MarkNotified(id MessageID, timestamp int64) error {
	_, err := s.db.Exec(`UPDATE `+id.table()+` SET notified = 1, notified_timestamp = ? WHERE id = ?`,
		timestamp, id.ID)
	return err
}

// Unnotified returns messages that are unread and not yet notified.
func (s *Store) Unnotified() ([]MessageID, error) {
	rows, err := s.db.Query(`SELECT id, is_media FROM (
		SELECT id, 0 AS is_media, date_received FROM text_messages WHERE read = 0 AND notified = 0
		UNION ALL
		SELECT id, 1 AS is_media, date_received FROM media_messages WHERE read = 0 AND notified = 0
	) ORDER BY date_received`)
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

// decodeSideDocument parses a serialized JSON side document (shared
// contacts, link previews) into out. A malformed document is logged and
// left as the zero value rather than failing the surrounding read.
func (s *Store) decodeSideDocument(raw string, out any, what string) {
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn("malformed side document, ignoring",
			zap.String("document", what), zap.Error(err))
	}
}

// SharedContacts decodes the shared-contact documents of a media message.
func (s *Store) SharedContacts(m *Message) []map[string]any {
	var out []map[string]any
	s.decodeSideDocument(m.SharedContacts, &out, "shared_contacts")
	return out
}

// LinkPreviews decodes the link-preview documents of a media message.
func (s *Store) LinkPreviews(m *Message) []map[string]any {
	var out []map[string]any
	s.decodeSideDocument(m.LinkPreviews, &out, "link_previews")
	return out
}

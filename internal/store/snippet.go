package store

import (
	"database/sql"
	"sort"
	"strings"
)

// querier is satisfied by *sql.Tx, *sql.DB and *DB.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// snippetFor renders the conversation-list preview for a message. Media
// messages pick a label from the most specific slot present: shared
// contact, file, voice note, sticker, gif, video, photo, then a generic
// fallback. Text messages use the body with mention ranges resolved to
// display names.
func (s *Store) snippetFor(q querier, m *Message) (snippet, contentType, uri string) {
	if m.RemoteDeleted {
		return "Deleted message", "", ""
	}
	if m.Type.IsCallLog() {
		return callSnippet(m), "", ""
	}
	if m.Type.IsBadDecrypt() {
		return "Message could not be decrypted", "", ""
	}
	if m.Type.IsGroupUpdate() {
		return "Group updated", "", ""
	}
	if m.Type.IsExpirationTimerUpdate() {
		return "Disappearing message timer updated", "", ""
	}

	body := s.bodyWithMentions(q, m)
	if !m.Media {
		return body, "", ""
	}

	if m.SharedContacts != "" {
		return prefixed("Contact", body), "", ""
	}

	att := s.firstAttachment(q, m.ID)
	if att == nil {
		if body == "" {
			return "Media message", "", ""
		}
		return body, "", ""
	}

	switch {
	// A named document wins over the audio fallback: an audio file sent as
	// a file attachment reads as a file, not a voice message.
	case att.FileName != "" && !att.VoiceNote && !att.Sticker && !att.VideoGif &&
		!strings.HasPrefix(att.ContentType, "image/") && !strings.HasPrefix(att.ContentType, "video/"):
		return prefixed("File", att.FileName), att.ContentType, att.DataURI
	case att.VoiceNote:
		return prefixed("Voice message", body), att.ContentType, att.DataURI
	case att.Sticker:
		return prefixed("Sticker", body), att.ContentType, att.DataURI
	case att.VideoGif:
		return prefixed("GIF", body), att.ContentType, att.DataURI
	case strings.HasPrefix(att.ContentType, "video/"):
		return prefixed("Video", body), att.ContentType, att.DataURI
	case strings.HasPrefix(att.ContentType, "image/"):
		return prefixed("Photo", body), att.ContentType, att.DataURI
	case strings.HasPrefix(att.ContentType, "audio/"):
		return prefixed("Voice message", body), att.ContentType, att.DataURI
	}
	return prefixed("Media message", body), att.ContentType, att.DataURI
}

func prefixed(label, body string) string {
	if body == "" {
		return label
	}
	return label + ": " + body
}

func callSnippet(m *Message) string {
	switch {
	case m.Type.IsMissedCall():
		return "Missed call"
	case m.Type.IsOutgoing():
		return "Outgoing call"
	default:
		return "Incoming call"
	}
}

func (s *Store) firstAttachment(q querier, messageID int64) *Attachment {
	row := q.QueryRow(`SELECT id, message_id, content_type, COALESCE(file_name, ''),
		COALESCE(data_uri, ''), data_size, voice_note, sticker, video_gif, width, height,
		COALESCE(caption, '')
		FROM attachments WHERE message_id = ? ORDER BY id LIMIT 1`, messageID)
	var a Attachment
	err := row.Scan(&a.ID, &a.MessageID, &a.ContentType, &a.FileName, &a.DataURI,
		&a.DataSize, &a.VoiceNote, &a.Sticker, &a.VideoGif, &a.Width, &a.Height, &a.Caption)
	if err != nil {
		return nil
	}
	return &a
}

// bodyWithMentions replaces mention ranges with @display-name, resolved via
// the injected resolver. Ranges are rune offsets into the stored body.
func (s *Store) bodyWithMentions(q querier, m *Message) string {
	if !m.Media || m.Body == "" {
		return m.Body
	}
	mentions, err := s.mentionsFor(q, m.ID)
	if err != nil || len(mentions) == 0 {
		return m.Body
	}

	sort.Slice(mentions, func(i, j int) bool {
		return mentions[i].RangeStart > mentions[j].RangeStart
	})

	runes := []rune(m.Body)
	for _, mn := range mentions {
		start, end := mn.RangeStart, mn.RangeStart+mn.RangeLength
		if start < 0 || end > len(runes) || start > end {
			continue
		}
		name := "@" + s.resolver.DisplayName(mn.RecipientID)
		runes = append(runes[:start], append([]rune(name), runes[end:]...)...)
	}
	return string(runes)
}

func (s *Store) mentionsFor(q querier, messageID int64) ([]Mention, error) {
	rows, err := q.Query(`SELECT id, thread_id, message_id, recipient_id, range_start, range_length
		FROM mentions WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var mentions []Mention
	for rows.Next() {
		var m Mention
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.MessageID, &m.RecipientID, &m.RangeStart, &m.RangeLength); err != nil {
			return nil, err
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

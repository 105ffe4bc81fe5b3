package store

// SearchResult is one full-text match with a highlighted excerpt.
type SearchResult struct {
	Message Message
	Snippet string
}

// SearchMessages performs a full-text search on message bodies.
func (s *Store) SearchMessages(query string, threadID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT f.message_id, f.is_media,
		       snippet(message_fts, 0, '<<', '>>', '...', 32)
		FROM message_fts f
		WHERE message_fts MATCH ?
		ORDER BY rank LIMIT ?`

	rows, err := s.db.Query(q, query, limit)
	if err != nil {
		return nil, err
	}

	type hit struct {
		id      MessageID
		snippet string
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id.ID, &h.id.Media, &h.snippet); err != nil {
			_ = rows.Close()
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, h := range hits {
		m, err := s.getMessageTx(s.db, h.id)
		if err == ErrNoSuchMessage {
			continue
		}
		if err != nil {
			return nil, err
		}
		if threadID > 0 && m.ThreadID != threadID {
			continue
		}
		results = append(results, SearchResult{Message: *m, Snippet: h.snippet})
	}
	return results, nil
}

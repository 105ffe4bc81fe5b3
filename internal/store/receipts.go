package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/types"
)

func typeIsOutgoing(raw int64) bool { return types.Raw(raw).IsOutgoing() }

// ReceiptKind distinguishes delivery, read and viewed receipts.
type ReceiptKind int

const (
	ReceiptDelivery ReceiptKind = iota
	ReceiptRead
	ReceiptViewed
)

func (k ReceiptKind) column() string {
	switch k {
	case ReceiptRead:
		return "read_receipt_count"
	case ReceiptViewed:
		return "viewed_receipt_count"
	default:
		return "delivery_receipt_count"
	}
}

// Receipt is an acknowledgment received for a sent message, keyed by the
// timestamp the message was originally sent with.
type Receipt struct {
	SentTimestamp    int64
	RecipientID      string
	ReceiptTimestamp int64
	Kind             ReceiptKind
}

// ThreadReceiptUpdate names a thread touched by a receipt. Repeat receipts
// from the same recipient only bump counters, so they are flagged silent.
type ThreadReceiptUpdate struct {
	ThreadID int64
	Silent   bool
}

// IncrementReceipt applies a receipt to every outgoing message with the
// matching sent timestamp and recipient. The first receipt for a message
// also advances its receipt watermark; repeats never move it backwards.
// A delivery receipt that matches nothing is buffered in the early cache
// for the send path to claim; other kinds are dropped.
func (s *Store) IncrementReceipt(r Receipt) (updates []ThreadReceiptUpdate, found bool, err error) {
	err = s.inTx(func(tx *sql.Tx, p *bus.Pending) error {
		touched := make(map[int64]bool)
		for _, media := range []bool{false, true} {
			table := "text_messages"
			if media {
				table = "media_messages"
			}
			rows, err := tx.Query(`SELECT m.id, m.type, m.thread_id, m.`+r.Kind.column()+`, m.receipt_timestamp
				FROM `+table+` m
				JOIN threads t ON t.id = m.thread_id
				WHERE m.date_sent = ? AND (m.recipient_id = ? OR t.is_group = 1)`,
				r.SentTimestamp, r.RecipientID)
			if err != nil {
				return fmt.Errorf("receipt lookup: %w", err)
			}

			type match struct {
				id       int64
				threadID int64
				count    int
				saved    int64
			}
			var matches []match
			for rows.Next() {
				var m match
				var rawType int64
				if err := rows.Scan(&m.id, &rawType, &m.threadID, &m.count, &m.saved); err != nil {
					_ = rows.Close()
					return err
				}
				if !typeIsOutgoing(rawType) {
					continue
				}
				matches = append(matches, m)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if err := rows.Err(); err != nil {
				return err
			}

			for _, m := range matches {
				first := m.count == 0
				watermark := m.saved
				if first && r.ReceiptTimestamp > watermark {
					watermark = r.ReceiptTimestamp
				}
				_, err := tx.Exec(`UPDATE `+table+` SET `+r.Kind.column()+` = `+r.Kind.column()+` + 1,
					receipt_timestamp = ? WHERE id = ?`, watermark, m.id)
				if err != nil {
					return fmt.Errorf("receipt increment: %w", err)
				}
				found = true
				updates = append(updates, ThreadReceiptUpdate{ThreadID: m.threadID, Silent: !first})
				touched[m.threadID] = true
				p.MessageUpdated(m.id, media, m.threadID)
				p.ThreadUpdated(m.threadID, !first)
			}
		}
		// Refresh the denormalized receipt counts on each touched thread
		// so the conversation list reflects the new send state.
		for threadID := range touched {
			if err := s.updateSnippetSilentlyTx(tx, p, threadID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !found && r.Kind == ReceiptDelivery {
		s.log.Info("buffering early delivery receipt",
			zap.Int64("date_sent", r.SentTimestamp), zap.String("recipient", r.RecipientID))
		s.early.Put(r.SentTimestamp, r.RecipientID, r.ReceiptTimestamp)
	}
	return updates, found, nil
}

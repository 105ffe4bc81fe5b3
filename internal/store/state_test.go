package store

import (
	"testing"

	"github.com/gfreire/msgdb/internal/types"
)

func TestSendStateTransitions(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertOutgoing(OutgoingMessage{RecipientID: "bob", DateSent: 1000, Body: "yo", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	id := res.MessageID

	base := func() types.Raw {
		t.Helper()
		m, err := s.GetMessage(id)
		if err != nil {
			t.Fatal(err)
		}
		return m.Type.Base()
	}

	if base() != types.BaseSending {
		t.Fatalf("base = %d, want sending", base())
	}
	if err := s.MarkAsSent(id, true); err != nil {
		t.Fatal(err)
	}
	if base() != types.BaseSent {
		t.Errorf("base = %d after sent, want sent", base())
	}

	if err := s.MarkAsSentFailed(id); err != nil {
		t.Fatal(err)
	}
	if base() != types.BaseSentFailed {
		t.Errorf("base = %d, want failed", base())
	}

	if err := s.MarkAsSending(id); err != nil {
		t.Fatal(err)
	}
	if base() != types.BaseSending {
		t.Errorf("base = %d after retry, want sending", base())
	}

	// Transitions only swap the base; flags survive.
	m, err := s.GetMessage(id)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Type.IsSecure() {
		t.Error("secure bit lost across transitions")
	}
}

func TestMarkAsSentInsecureDropsPushBits(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertOutgoing(OutgoingMessage{RecipientID: "bob", DateSent: 1000, Body: "yo", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAsSent(res.MessageID, false); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type.Base() != types.BaseSent {
		t.Errorf("base = %d, want sent", m.Type.Base())
	}
	// The secure bit set at insert stays; only the base changes. An
	// insecure send simply does not add the push/secure pair.
	if !m.Type.IsSecure() {
		t.Error("existing secure bit should not be stripped")
	}
}

func TestForcedSMSClearsPushBit(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertOutgoing(OutgoingMessage{RecipientID: "bob", DateSent: 1000, Body: "yo", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAsForcedSMS(res.MessageID); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type.IsPush() {
		t.Error("push bit should be cleared")
	}
	if !m.Type.IsForcedSMS() {
		t.Error("forced-sms bit should be set")
	}
	if m.Type.Base() != types.BaseSending {
		t.Errorf("base = %d, want sending (re-queued)", m.Type.Base())
	}
}

func TestRateLimitedListAndClear(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertOutgoing(OutgoingMessage{RecipientID: "bob", DateSent: 1000, Body: "yo", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertOutgoing(OutgoingMessage{RecipientID: "carol", DateSent: 2000, Body: "hey", Secure: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkAsRateLimited(res.MessageID); err != nil {
		t.Fatal(err)
	}
	ids, err := s.ListRateLimited()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d rate-limited, want 1", len(ids))
	}
	if ids[0].ID != res.MessageID.ID {
		t.Errorf("id = %d, want %d", ids[0].ID, res.MessageID.ID)
	}

	if err := s.ClearRateLimited(); err != nil {
		t.Fatal(err)
	}
	ids, err = s.ListRateLimited()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("got %d rate-limited after clear, want 0", len(ids))
	}

	// The base and other flags are untouched by the clear.
	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type.Base() != types.BaseSending || !m.Type.IsSecure() {
		t.Errorf("type = 0x%X after clear, want secure sending", uint32(m.Type))
	}
}

func TestStateTransitionRefreshesSnippet(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertOutgoing(OutgoingMessage{RecipientID: "bob", DateSent: 1000, Body: "yo", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAsSent(res.MessageID, true); err != nil {
		t.Fatal(err)
	}

	thread, err := s.GetThread(res.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if thread.SnippetType.Base() != types.BaseSent {
		t.Errorf("snippet_type base = %d, want sent", thread.SnippetType.Base())
	}
}

func TestRemoteDeleteClearsQuote(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 1000, Body: "reply", Secure: true,
		Quote: &Quote{
			ID: 500, Author: "bob", Body: "original", Missing: true,
			Attachments: `[{"contentType":"image/jpeg"}]`,
			Mentions:    `[{"recipientId":"carol","start":0,"length":5}]`,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAsRemoteDeleted(res.MessageID); err != nil {
		t.Fatal(err)
	}

	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.QuoteID != 0 || m.QuoteAuthor != "" || m.QuoteBody != "" {
		t.Errorf("quote = (%d, %q, %q) after remote delete, want cleared",
			m.QuoteID, m.QuoteAuthor, m.QuoteBody)
	}
	if m.QuoteMissing {
		t.Error("quote_missing should be cleared")
	}
	if m.QuoteAttachments != "" || m.QuoteMentions != "" {
		t.Errorf("quote side documents = (%q, %q), want cleared", m.QuoteAttachments, m.QuoteMentions)
	}
}

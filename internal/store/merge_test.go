package store

import "testing"

func TestMergeRecipientsRenamesSingleThread(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{SenderID: "old-id", DateSent: 1000, Body: "hi", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MergeRecipients("old-id", "new-id"); err != nil {
		t.Fatal(err)
	}

	thread, err := s.GetThread(res.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if thread.RecipientID != "new-id" {
		t.Errorf("recipient_id = %q, want new-id", thread.RecipientID)
	}
	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.RecipientID != "new-id" {
		t.Errorf("message recipient_id = %q, want new-id", m.RecipientID)
	}
}

func TestMergeRecipientsCombinesThreads(t *testing.T) {
	s, _, clk := testStore(t)

	oldRes, err := s.InsertIncoming(IncomingMessage{SenderID: "old-id", DateSent: 1000, Body: "from old", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(1000)
	newRes, err := s.InsertIncoming(IncomingMessage{SenderID: "new-id", DateSent: 2000, Body: "from new", Secure: true})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MergeRecipients("old-id", "new-id"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetThread(oldRes.ThreadID); err != ErrNoSuchThread {
		t.Errorf("old thread: got %v, want ErrNoSuchThread", err)
	}
	thread, err := s.GetThread(newRes.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if thread.MeaningfulMessages != 2 {
		t.Errorf("meaningful_messages = %d, want 2", thread.MeaningfulMessages)
	}
	if thread.Snippet != "from new" {
		t.Errorf("snippet = %q, want from new", thread.Snippet)
	}

	msgs, err := s.ListThreadMessages(newRes.ThreadID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
}

func TestMergeRecipientsRedirectsFutureInserts(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{SenderID: "new-id", DateSent: 1000, Body: "hi", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MergeRecipients("old-id", "new-id"); err != nil {
		t.Fatal(err)
	}

	// A message still addressed with the old id lands in the surviving
	// thread.
	res2, err := s.InsertIncoming(IncomingMessage{SenderID: "old-id", DateSent: 2000, Body: "late", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if res2.ThreadID != res.ThreadID {
		t.Errorf("thread = %d, want %d (remapped)", res2.ThreadID, res.ThreadID)
	}
}

func TestMergeRecipientsTimerShortestWins(t *testing.T) {
	s, _, _ := testStore(t)

	oldRes, err := s.InsertIncoming(IncomingMessage{SenderID: "old-id", DateSent: 1000, Body: "a", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	newRes, err := s.InsertIncoming(IncomingMessage{SenderID: "new-id", DateSent: 2000, Body: "b", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetThreadExpiration(oldRes.ThreadID, 30_000); err != nil {
		t.Fatal(err)
	}
	if err := s.SetThreadExpiration(newRes.ThreadID, 60_000); err != nil {
		t.Fatal(err)
	}

	if err := s.MergeRecipients("old-id", "new-id"); err != nil {
		t.Fatal(err)
	}
	thread, err := s.GetThread(newRes.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if thread.ExpiresIn != 30_000 {
		t.Errorf("expires_in = %d, want 30000 (shortest)", thread.ExpiresIn)
	}
}

func TestMergeExpiresIn(t *testing.T) {
	cases := []struct {
		a, b, want int64
	}{
		{0, 0, 0},
		{0, 500, 500},
		{500, 0, 500},
		{300, 500, 300},
		{500, 300, 300},
	}
	for _, c := range cases {
		if got := mergeExpiresIn(c.a, c.b); got != c.want {
			t.Errorf("mergeExpiresIn(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestMergeSameIDIsNoop(t *testing.T) {
	s, _, _ := testStore(t)
	if err := s.MergeRecipients("x", "x"); err != nil {
		t.Fatal(err)
	}
}

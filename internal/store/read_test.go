package store

import (
	"testing"
	"time"
)

func TestSetThreadReadSince(t *testing.T) {
	s, _, clk := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{SenderID: "alice", DateSent: 1000, Body: "one", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	firstReceived := clk.Now().UnixMilli()
	clk.Advance(time.Second)
	if _, err := s.InsertIncoming(IncomingMessage{SenderID: "alice", DateSent: 2000, Body: "two", Secure: true}); err != nil {
		t.Fatal(err)
	}

	// Read up to the first message only.
	marked, err := s.SetThreadReadSince(res.ThreadID, firstReceived)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 1 {
		t.Fatalf("got %d marked, want 1", len(marked))
	}
	if marked[0].DateSent != 1000 {
		t.Errorf("marked date_sent = %d, want 1000", marked[0].DateSent)
	}

	thread, err := s.GetThread(res.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if thread.UnreadCount != 1 {
		t.Errorf("unread_count = %d, want 1 (recounted)", thread.UnreadCount)
	}

	// -1 reads the rest.
	marked, err = s.SetThreadReadSince(res.ThreadID, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 1 {
		t.Fatalf("got %d marked, want 1", len(marked))
	}
	thread, err = s.GetThread(res.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if thread.UnreadCount != 0 {
		t.Errorf("unread_count = %d, want 0", thread.UnreadCount)
	}
	if !thread.Read {
		t.Error("thread should be read")
	}
}

func TestSetThreadReadClearsForcedUnread(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{SenderID: "alice", DateSent: 1000, Body: "hi", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetForcedUnread([]int64{res.ThreadID}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetThreadReadSince(res.ThreadID, -1); err != nil {
		t.Fatal(err)
	}
	thread, err := s.GetThread(res.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if thread.ForcedUnread {
		t.Error("forced_unread should be cleared by reading the thread")
	}
}

func TestSetAllThreadsRead(t *testing.T) {
	s, _, _ := testStore(t)

	for _, sender := range []string{"alice", "bob"} {
		if _, err := s.InsertIncoming(IncomingMessage{SenderID: sender, DateSent: 1000, Body: "hi", Secure: true}); err != nil {
			t.Fatal(err)
		}
	}
	marked, err := s.SetAllThreadsRead()
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 2 {
		t.Fatalf("got %d marked, want 2", len(marked))
	}
	threads, err := s.ListThreads(false, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, th := range threads {
		if th.UnreadCount != 0 {
			t.Errorf("thread %d unread_count = %d, want 0", th.ID, th.UnreadCount)
		}
	}
}

func TestSetTimestampReadClampsExpireStart(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 1000, Body: "hi", Secure: true, ExpiresIn: 60_000,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Read sync proposes a start time.
	marked, err := s.SetTimestampRead("alice", 1000, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 1 {
		t.Fatalf("got %d marked, want 1", len(marked))
	}
	if marked[0].ExpireStarted != 5000 {
		t.Errorf("expire_started = %d, want 5000", marked[0].ExpireStarted)
	}

	// A later proposal must not push the start forward.
	marked, err = s.SetTimestampRead("alice", 1000, 9000)
	if err != nil {
		t.Fatal(err)
	}
	if marked[0].ExpireStarted != 5000 {
		t.Errorf("expire_started = %d after later sync, want 5000 (earliest wins)", marked[0].ExpireStarted)
	}

	// An earlier proposal pulls it back.
	marked, err = s.SetTimestampRead("alice", 1000, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if marked[0].ExpireStarted != 3000 {
		t.Errorf("expire_started = %d, want 3000", marked[0].ExpireStarted)
	}

	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExpireStarted != 3000 {
		t.Errorf("stored expire_started = %d, want 3000", m.ExpireStarted)
	}
	if !m.Read {
		t.Error("message should be read after timestamp sync")
	}
}

func TestSetTimestampReadNoTimerKeepsZeroStart(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{SenderID: "alice", DateSent: 1000, Body: "hi", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	marked, err := s.SetTimestampRead("alice", 1000, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 1 {
		t.Fatalf("got %d marked, want 1", len(marked))
	}
	if marked[0].ExpireStarted != 0 {
		t.Errorf("expire_started = %d for message without timer, want 0", marked[0].ExpireStarted)
	}
	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExpireStarted != 0 {
		t.Errorf("stored expire_started = %d, want 0", m.ExpireStarted)
	}
}

func TestSetIncomingViewedFirstViewOnly(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 1000, Secure: true,
		Attachments: []Attachment{{ContentType: "image/jpeg", DataURI: "blob://1", DataSize: 10}},
	})
	if err != nil {
		t.Fatal(err)
	}

	marked, err := s.SetIncomingViewed([]int64{res.MessageID.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 1 {
		t.Fatalf("got %d marked, want 1", len(marked))
	}

	// Second view is a no-op.
	marked, err = s.SetIncomingViewed([]int64{res.MessageID.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 0 {
		t.Fatalf("got %d marked on repeat view, want 0", len(marked))
	}

	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ViewedReceiptCount != 1 {
		t.Errorf("viewed_receipt_count = %d, want 1", m.ViewedReceiptCount)
	}
	if !m.Read {
		t.Error("viewed message should be read")
	}
}

func TestSetIncomingViewedSkipsOutgoing(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertOutgoing(OutgoingMessage{
		RecipientID: "bob", DateSent: 1000, Secure: true,
		Attachments: []Attachment{{ContentType: "image/jpeg", DataURI: "blob://1", DataSize: 10}},
	})
	if err != nil {
		t.Fatal(err)
	}
	marked, err := s.SetIncomingViewed([]int64{res.MessageID.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 0 {
		t.Fatalf("got %d marked for outgoing, want 0", len(marked))
	}
}

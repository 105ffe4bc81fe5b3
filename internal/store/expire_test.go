package store

import (
	"testing"
	"time"
)

func TestMarkExpireStartedEarliestWins(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 1000, Body: "hi", Secure: true, ExpiresIn: 60_000,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MarkExpireStarted([]MessageID{res.MessageID}, 5000); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExpireStarted != 5000 {
		t.Errorf("expire_started = %d, want 5000", m.ExpireStarted)
	}

	// A later start must not override a running countdown.
	if err := s.MarkExpireStarted([]MessageID{res.MessageID}, 9000); err != nil {
		t.Fatal(err)
	}
	m, err = s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExpireStarted != 5000 {
		t.Errorf("expire_started = %d after later mark, want 5000", m.ExpireStarted)
	}

	// An earlier start wins.
	if err := s.MarkExpireStarted([]MessageID{res.MessageID}, 3000); err != nil {
		t.Fatal(err)
	}
	m, err = s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExpireStarted != 3000 {
		t.Errorf("expire_started = %d, want 3000", m.ExpireStarted)
	}
}

func TestMarkExpireStartedSkipsMessagesWithoutTimer(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{SenderID: "alice", DateSent: 1000, Body: "hi", Secure: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkExpireStarted([]MessageID{res.MessageID}, 5000); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMessage(res.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ExpireStarted != 0 {
		t.Errorf("expire_started = %d for message without timer, want 0", m.ExpireStarted)
	}
}

func TestNextExpirationAndDeleteExpired(t *testing.T) {
	s, _, _ := testStore(t)

	_, ok, err := s.NextExpiration()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("no countdown should be running yet")
	}

	res, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 1000, Body: "soon gone", Secure: true, ExpiresIn: 10_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkExpireStarted([]MessageID{res.MessageID}, 5000); err != nil {
		t.Fatal(err)
	}

	deadline, ok, err := s.NextExpiration()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("a countdown is running")
	}
	if deadline != 15_000 {
		t.Errorf("deadline = %d, want 15000", deadline)
	}

	// Not yet due.
	n, err := s.DeleteExpired(14_999)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("deleted %d before deadline, want 0", n)
	}

	n, err = s.DeleteExpired(15_000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := s.GetMessage(res.MessageID); err != ErrNoSuchMessage {
		t.Errorf("got %v, want ErrNoSuchMessage", err)
	}

	// It was the thread's only meaningful message, so the thread went too.
	if _, err := s.GetThread(res.ThreadID); err != ErrNoSuchThread {
		t.Errorf("got %v, want ErrNoSuchThread", err)
	}
}

func TestViewOnceEraseAfterLifespan(t *testing.T) {
	s, _, clk := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 1000, Secure: true, ViewOnce: true,
		Attachments: []Attachment{{ContentType: "image/jpeg", DataURI: "blob://1", DataSize: 4096}},
	})
	if err != nil {
		t.Fatal(err)
	}
	received := clk.Now().UnixMilli()

	c, err := s.NearestExpiringViewOnce()
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("a view-once payload is present")
	}
	if c.MessageID != res.MessageID.ID {
		t.Errorf("candidate id = %d, want %d", c.MessageID, res.MessageID.ID)
	}
	if c.DateReceived != received {
		t.Errorf("candidate date_received = %d, want %d", c.DateReceived, received)
	}

	// Before the lifespan elapses nothing is erased.
	n, err := s.EraseExpiredViewOnce(received + MaxViewOnceLifespanMillis - 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("erased %d early, want 0", n)
	}

	clk.Advance(31 * 24 * time.Hour)
	n, err = s.EraseExpiredViewOnce(clk.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("erased %d, want 1", n)
	}

	// The row survives as a tombstone, but the payload is gone.
	if _, err := s.GetMessage(res.MessageID); err != nil {
		t.Fatal(err)
	}
	atts, err := s.Attachments(res.MessageID.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 {
		t.Fatalf("got %d attachments, want 1", len(atts))
	}
	if atts[0].DataURI != "" || atts[0].DataSize != 0 {
		t.Errorf("payload = (%q, %d), want erased", atts[0].DataURI, atts[0].DataSize)
	}

	if c, err := s.NearestExpiringViewOnce(); err != nil {
		t.Fatal(err)
	} else if c != nil {
		t.Error("no payload should remain after erase")
	}
}

func TestEraseViewOncePayload(t *testing.T) {
	s, _, _ := testStore(t)

	res, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 1000, Secure: true, ViewOnce: true,
		Attachments: []Attachment{{ContentType: "image/jpeg", DataURI: "blob://1", DataSize: 4096}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EraseViewOncePayload(res.MessageID.ID); err != nil {
		t.Fatal(err)
	}
	atts, err := s.Attachments(res.MessageID.ID)
	if err != nil {
		t.Fatal(err)
	}
	if atts[0].DataURI != "" {
		t.Errorf("data_uri = %q, want erased", atts[0].DataURI)
	}

	// Not a view-once message: refused.
	res2, err := s.InsertIncoming(IncomingMessage{
		SenderID: "alice", DateSent: 2000, Secure: true,
		Attachments: []Attachment{{ContentType: "image/jpeg", DataURI: "blob://2", DataSize: 10}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EraseViewOncePayload(res2.MessageID.ID); err != ErrNoSuchMessage {
		t.Errorf("got %v, want ErrNoSuchMessage", err)
	}
}

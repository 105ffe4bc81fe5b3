package expire

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/receipt"
	"github.com/gfreire/msgdb/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *fakeClock) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	clk := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	early := receipt.New(time.Hour, 100, receipt.WithClock(clk.Now))
	t.Cleanup(early.Close)
	st := store.New(db, bus.New(), early, zap.NewNop(), store.WithClock(clk.Now))
	m := NewManager(st, zap.NewNop(), WithClock(clk.Now))
	return m, st, clk
}

func TestReapDeletesElapsedMessages(t *testing.T) {
	m, st, clk := newTestManager(t)

	res, err := st.InsertIncoming(store.IncomingMessage{
		SenderID: "alice", DateSent: 1000, Body: "vanishing", Secure: true,
		ExpiresIn: int64(10 * time.Second / time.Millisecond),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.StartExpiration([]store.MessageID{res.MessageID}, clk.Now().UnixMilli()); err != nil {
		t.Fatal(err)
	}

	// Countdown still running.
	m.reap()
	if _, err := st.GetMessage(res.MessageID); err != nil {
		t.Fatalf("message deleted early: %v", err)
	}

	clk.Advance(11 * time.Second)
	m.reap()
	if _, err := st.GetMessage(res.MessageID); err != store.ErrNoSuchMessage {
		t.Errorf("got %v, want ErrNoSuchMessage", err)
	}
}

func TestReapLeavesUnstartedCountdowns(t *testing.T) {
	m, st, clk := newTestManager(t)

	res, err := st.InsertIncoming(store.IncomingMessage{
		SenderID: "alice", DateSent: 1000, Body: "unread", Secure: true,
		ExpiresIn: int64(time.Second / time.Millisecond),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Never started: the timer only runs once the message is read.
	clk.Advance(time.Hour)
	m.reap()
	if _, err := st.GetMessage(res.MessageID); err != nil {
		t.Fatalf("unstarted countdown was reaped: %v", err)
	}
}

func TestSweepViewOnceErasesOldPayloads(t *testing.T) {
	m, st, clk := newTestManager(t)

	res, err := st.InsertIncoming(store.IncomingMessage{
		SenderID: "alice", DateSent: 1000, Secure: true, ViewOnce: true,
		Attachments: []store.Attachment{{ContentType: "image/jpeg", DataURI: "blob://1", DataSize: 64}},
	})
	if err != nil {
		t.Fatal(err)
	}

	m.sweepViewOnce()
	atts, err := st.Attachments(res.MessageID.ID)
	if err != nil {
		t.Fatal(err)
	}
	if atts[0].DataURI == "" {
		t.Fatal("payload erased before its lifespan elapsed")
	}

	clk.Advance(31 * 24 * time.Hour)
	m.sweepViewOnce()
	atts, err = st.Attachments(res.MessageID.ID)
	if err != nil {
		t.Fatal(err)
	}
	if atts[0].DataURI != "" {
		t.Error("payload should be erased after the lifespan")
	}
}

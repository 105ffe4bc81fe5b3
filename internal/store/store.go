// Package store implements the local message database: the two message
// tables, the thread index derived from them, receipt bookkeeping and
// disappearing-message state. All writes go through transactions; change
// events are published only after commit.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gfreire/msgdb/internal/bus"
	"github.com/gfreire/msgdb/internal/receipt"
)

// ErrNoSuchMessage is returned when a message id does not exist.
var ErrNoSuchMessage = errors.New("no such message")

// ErrNoSuchThread is returned when a thread id does not exist.
var ErrNoSuchThread = errors.New("no such thread")

// MessageID identifies a message row. IDs are only unique within a table,
// so the media flag is part of the identity.
type MessageID struct {
	ID    int64
	Media bool
}

func (m MessageID) table() string {
	if m.Media {
		return "media_messages"
	}
	return "text_messages"
}

// RecipientResolver supplies display names for recipient ids, used when
// rendering mention placeholders into thread snippets. Directory lookup
// lives outside this package.
type RecipientResolver interface {
	DisplayName(recipientID string) string
}

type selfNameResolver struct{}

func (selfNameResolver) DisplayName(recipientID string) string { return recipientID }

// Store is the message store. It owns all reads and writes against the
// database and derives the thread index from the message tables.
type Store struct {
	db       *DB
	bus      *bus.Bus
	early    *receipt.Cache
	resolver RecipientResolver
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithResolver sets the display-name resolver used for snippet rendering.
func WithResolver(r RecipientResolver) Option {
	return func(s *Store) { s.resolver = r }
}

// New creates a Store on top of an opened, migrated database.
func New(db *DB, b *bus.Bus, early *receipt.Cache, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		db:       db,
		bus:      b,
		early:    early,
		resolver: selfNameResolver{},
		log:      logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for maintenance queries.
func (s *Store) DB() *DB { return s.db }

// inTx runs fn inside a transaction. Events queued on the Pending buffer
// are published only after a successful commit; a rollback discards them.
func (s *Store) inTx(fn func(tx *sql.Tx, p *bus.Pending) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	var p bus.Pending
	if err := fn(tx, &p); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	p.Flush(s.bus)
	return nil
}

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an embedded single-file queue. Keys sort by
// (topic, available_at, sequence) so the first key under a topic prefix is
// the oldest message. Serializable transactions make concurrent claims of
// the same key fail with badger.ErrConflict.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// BadgerConfig holds embedded store settings
type BadgerConfig struct {
	Path     string
	InMemory bool
}

// OpenBadger opens (or creates) an embedded queue store
func OpenBadger(cfg BadgerConfig, logger *slog.Logger, opts Options) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bopts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(badgerLogger{logger: logger.With(slog.String("component", "badger"))})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger queue: %w", err)
	}

	seq, err := db.GetSequence([]byte("meta/seq"), 256)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue sequence: %w", err)
	}

	return &BadgerStore{
		db:     db,
		seq:    seq,
		logger: logger,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}, nil
}

// Close releases the sequence lease and closes the database
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("Failed to release queue sequence", slog.Any("error", err))
	}
	return s.db.Close()
}

func topicPrefix(topic string) []byte {
	return []byte("q/" + topic + "/")
}

func messageKey(topic string, availableAt time.Time, id uint64) []byte {
	prefix := topicPrefix(topic)
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(availableAt.UnixNano()))
	binary.BigEndian.PutUint64(key[len(prefix)+8:], id)
	return key
}

func parseMessageKey(key []byte, prefixLen int) (time.Time, int64) {
	at := int64(binary.BigEndian.Uint64(key[prefixLen : prefixLen+8]))
	id := binary.BigEndian.Uint64(key[prefixLen+8 : prefixLen+16])
	return time.Unix(0, at), int64(id)
}

// Enqueue stores one message visible at now+delay
func (s *BadgerStore) Enqueue(ctx context.Context, topic string, payload any, delay time.Duration) error {
	body, err := encodePayload(payload)
	if err != nil {
		return err
	}
	id, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate message id: %w", err)
	}
	// sequence starts at zero; keep ids positive like the SQL store
	key := messageKey(topic, s.now().Add(delay), id+1)

	err = withBusyRetry(ctx, s.opts, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, body)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message on %s: %w", topic, err)
	}
	return nil
}

// Dequeue claims and deletes the oldest visible message on topic
func (s *BadgerStore) Dequeue(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	return poll(ctx, timeout, s.opts.PollInterval, func(ctx context.Context) (*Message, error) {
		var msg *Message
		err := withBusyRetry(ctx, s.opts, func() error {
			var err error
			msg, err = s.claimOne(topic)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue from %s: %w", topic, err)
		}
		return msg, nil
	})
}

func (s *BadgerStore) claimOne(topic string) (*Message, error) {
	prefix := topicPrefix(topic)
	now := s.now()

	var msg *Message
	err := s.db.Update(func(txn *badger.Txn) error {
		key, value, err := firstUnderPrefix(txn, prefix)
		if err != nil || key == nil {
			return err
		}

		availableAt, id := parseMessageKey(key, len(prefix))
		if availableAt.After(now) {
			return nil
		}
		if err := txn.Delete(key); err != nil {
			return err
		}

		msg = &Message{ID: id, Topic: topic, Payload: value, AvailableAt: availableAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func firstUnderPrefix(txn *badger.Txn, prefix []byte) ([]byte, []byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchSize = 1
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return nil, nil, nil
	}
	item := it.Item()
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	return item.KeyCopy(nil), value, nil
}

// Length counts all messages on topic
func (s *BadgerStore) Length(ctx context.Context, topic string) (int64, error) {
	prefix := topicPrefix(topic)
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages on %s: %w", topic, err)
	}
	return n, nil
}

// Ping reports whether the database is open
func (s *BadgerStore) Ping(ctx context.Context) bool {
	return !s.db.IsClosed()
}

// badgerLogger routes badger's printf-style logging into slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(trimNewline(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(trimNewline(fmt.Sprintf(format, args...)))
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\n")
}

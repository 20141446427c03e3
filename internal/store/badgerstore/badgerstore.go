// Package badgerstore is the embedded durable backend. An audit append is a
// single badger transaction that bumps the counter key, reads the chain head
// and writes the entry, so numbers survive a restart without gaps. Badger
// locks its directory, which makes the opening process the only writer.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/store"
)

var (
	auditPrefix    = []byte("audit/")
	packetPrefix   = []byte("packet/")
	byManuscript   = []byte("ms/")
	lineagePrefix  = []byte("lineage/")
	auditIDPrefix  = []byte("auditid/")
	counterKey     = []byte("seq/audit")
	errStoreClosed = errors.New("badger store is closed")
)

// Config holds configuration for a badger store
type Config struct {
	Path       string // Ignored when InMemory is set
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger

	// GCInterval is how often the value log is garbage collected; 0 disables
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns durable settings for path
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// zapLogger adapts zap to badger's Logger interface
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l zapLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l zapLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l zapLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// Store implements store.Backend on badger
type Store struct {
	db     *badger.DB
	logger *zap.Logger

	// Serializes audit appends so they never conflict at commit
	seqMu  sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

var _ store.Backend = (*Store)(nil)

// Open opens (creating if needed) a badger store
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapLogger{s: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed", zap.Error(err))
			}
		}
	}
}

// Close stops GC and closes the database
func (s *Store) Close() error {
	s.seqMu.Lock()
	if s.closed {
		s.seqMu.Unlock()
		return nil
	}
	s.closed = true
	s.seqMu.Unlock()

	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	return s.db.Close()
}

func auditKey(seq uint64) []byte {
	return fmt.Appendf(append([]byte(nil), auditPrefix...), "%020d", seq)
}

func auditIDKey(id string) []byte {
	return append(append([]byte(nil), auditIDPrefix...), id...)
}

func (s *Store) Append(ctx context.Context, id string, link audit.Linker) (model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.AuditEntry{}, err
	}
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if s.closed {
		return model.AuditEntry{}, errStoreClosed
	}

	var out model.AuditEntry
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(auditIDKey(id))
		switch {
		case err == nil:
			// Already committed by an earlier attempt
			seqBytes, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			return readEntry(txn, seqBytes, &out)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		var last uint64
		item, err = txn.Get(counterKey)
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			last = binary.BigEndian.Uint64(raw)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		prevHash := ""
		if last > 0 {
			var head model.AuditEntry
			if err := readEntry(txn, auditKey(last), &head); err != nil {
				return fmt.Errorf("read audit chain head: %w", err)
			}
			prevHash = head.Hash
		}

		e, err := link(last+1, prevHash)
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		key := auditKey(e.Sequence)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(auditIDKey(id), key); err != nil {
			return err
		}
		if err := txn.Set(counterKey, binary.BigEndian.AppendUint64(nil, e.Sequence)); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func readEntry(txn *badger.Txn, key []byte, e *model.AuditEntry) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, e)
	})
}

func (s *Store) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = auditPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(auditKey(filter.AfterSeq + 1)); it.ValidForPrefix(auditPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e model.AuditEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("decode audit entry %s: %w", it.Item().Key(), err)
			}
			if !filter.Matches(e) {
				continue
			}
			out = append(out, e)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) Last(_ context.Context) (model.AuditEntry, bool, error) {
	var (
		e     model.AuditEntry
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = auditPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte(nil), auditPrefix...), 0xff))
		if !it.ValidForPrefix(auditPrefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, found, err
}

func packetKey(id string) []byte {
	return append(append([]byte(nil), packetPrefix...), id...)
}

func manuscriptIndexKey(manuscriptID, packetID string) []byte {
	k := append(append([]byte(nil), byManuscript...), manuscriptID...)
	k = append(k, 0)
	return append(k, packetID...)
}

func (s *Store) PutPacket(_ context.Context, p model.VerificationPacket) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}
	key := packetKey(p.ID)

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", store.ErrPacketExists, p.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(manuscriptIndexKey(p.ManuscriptID, p.ID), nil)
	})
}

func (s *Store) GetPacket(_ context.Context, id string) (model.VerificationPacket, error) {
	var p model.VerificationPacket
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(packetKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return model.NewNotFound("packet", id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	return p, err
}

func (s *Store) ListPackets(ctx context.Context, manuscriptID string) ([]model.VerificationPacket, error) {
	prefix := append(append(append([]byte(nil), byManuscript...), manuscriptID...), 0)

	var out []model.VerificationPacket
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := it.Item().Key()[len(prefix):]
			item, err := txn.Get(packetKey(string(id)))
			if err != nil {
				return fmt.Errorf("load packet %s: %w", id, err)
			}
			var p model.VerificationPacket
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	store.SortPackets(out)
	return out, nil
}

func lineageKey(packetID string) []byte {
	return append(append([]byte(nil), lineagePrefix...), packetID...)
}

func (s *Store) PutLineage(_ context.Context, packetID string, entries []model.LineageEntry) error {
	if entries == nil {
		entries = []model.LineageEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal lineage: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lineageKey(packetID), data)
	})
}

func (s *Store) GetLineage(_ context.Context, packetID string) ([]model.LineageEntry, bool, error) {
	var (
		entries []model.LineageEntry
		found   bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lineageKey(packetID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entries)
		})
	})
	return entries, found, err
}

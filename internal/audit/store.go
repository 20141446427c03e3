package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/claimgate/internal/model"
)

// Linker builds the entry stored under seq, chained to prevHash (empty for
// the first entry)
type Linker func(seq uint64, prevHash string) (model.AuditEntry, error)

// Store persists audit entries.
//
// Append allocates the next sequence number, reads the hash of the newest
// entry and writes the entry link builds from them as one atomic step, so
// every Log sharing a store extends the same chain. A number is only taken
// by a committed entry. If an entry with id is already stored, Append
// returns it and writes nothing, which makes a retry after an ambiguous
// commit safe.
type Store interface {
	Append(ctx context.Context, id string, link Linker) (model.AuditEntry, error)
	Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
	Last(ctx context.Context) (model.AuditEntry, bool, error)
}

// MemoryStore is a process-local Store for tests and single runs
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uint64][]byte
	byID    map[string]uint64
	last    uint64
	head    string
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uint64][]byte), byID: make(map[string]uint64)}
}

func (s *MemoryStore) Append(ctx context.Context, id string, link Linker) (model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.AuditEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.byID[id]; ok {
		return decodeEntry(s.entries[seq])
	}
	e, err := link(s.last+1, s.head)
	if err != nil {
		return model.AuditEntry{}, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("marshal audit entry: %w", err)
	}
	s.last = e.Sequence
	s.head = e.Hash
	s.entries[e.Sequence] = data
	s.byID[id] = e.Sequence
	return e, nil
}

func (s *MemoryStore) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	s.mu.Lock()
	seqs := make([]uint64, 0, len(s.entries))
	for seq := range s.entries {
		seqs = append(seqs, seq)
	}
	raw := make(map[uint64][]byte, len(seqs))
	for _, seq := range seqs {
		raw[seq] = s.entries[seq]
	}
	s.mu.Unlock()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	var out []model.AuditEntry
	for _, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := decodeEntry(raw[seq])
		if err != nil {
			return nil, err
		}
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Last(_ context.Context) (model.AuditEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == 0 {
		return model.AuditEntry{}, false, nil
	}
	e, err := decodeEntry(s.entries[s.last])
	return e, err == nil, err
}

func decodeEntry(data []byte) (model.AuditEntry, error) {
	var e model.AuditEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return model.AuditEntry{}, fmt.Errorf("decode audit entry: %w", err)
	}
	return e, nil
}

// Package store defines the durable record of the engine: the audit log,
// verification packets keyed by id and lineage entries keyed by packet id.
// Backends live in subpackages; Memory is the process-local backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/model"
)

// ErrPacketExists is returned when a packet id is written twice. Packets
// are immutable; corrections are new packets.
var ErrPacketExists = errors.New("packet already exists")

// Packets persists verification packets
type Packets interface {
	PutPacket(ctx context.Context, p model.VerificationPacket) error
	GetPacket(ctx context.Context, id string) (model.VerificationPacket, error)
	ListPackets(ctx context.Context, manuscriptID string) ([]model.VerificationPacket, error)
}

// Lineage persists derived lineage entries. Entries may be recomputed, so
// PutLineage replaces whatever was stored for the packet.
type Lineage interface {
	PutLineage(ctx context.Context, packetID string, entries []model.LineageEntry) error
	GetLineage(ctx context.Context, packetID string) ([]model.LineageEntry, bool, error)
}

// Backend is a complete persistence backend
type Backend interface {
	audit.Store
	Packets
	Lineage
	Close() error
}

// SortPackets orders packets by verification time, then id
func SortPackets(packets []model.VerificationPacket) {
	sort.SliceStable(packets, func(i, j int) bool {
		if !packets[i].VerifiedAt.Equal(packets[j].VerifiedAt) {
			return packets[i].VerifiedAt.Before(packets[j].VerifiedAt)
		}
		return packets[i].ID < packets[j].ID
	})
}

// Memory keeps everything in process memory
type Memory struct {
	*audit.MemoryStore

	mu      sync.RWMutex
	packets map[string]model.VerificationPacket
	lineage map[string][]model.LineageEntry
}

// NewMemory creates an empty memory backend
func NewMemory() *Memory {
	return &Memory{
		MemoryStore: audit.NewMemoryStore(),
		packets:     make(map[string]model.VerificationPacket),
		lineage:     make(map[string][]model.LineageEntry),
	}
}

func (m *Memory) PutPacket(_ context.Context, p model.VerificationPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packets[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrPacketExists, p.ID)
	}
	m.packets[p.ID] = p
	return nil
}

func (m *Memory) GetPacket(_ context.Context, id string) (model.VerificationPacket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packets[id]
	if !ok {
		return model.VerificationPacket{}, model.NewNotFound("packet", id)
	}
	return p, nil
}

func (m *Memory) ListPackets(_ context.Context, manuscriptID string) ([]model.VerificationPacket, error) {
	m.mu.RLock()
	var out []model.VerificationPacket
	for _, p := range m.packets {
		if p.ManuscriptID == manuscriptID {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	SortPackets(out)
	return out, nil
}

func (m *Memory) PutLineage(_ context.Context, packetID string, entries []model.LineageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineage[packetID] = append([]model.LineageEntry(nil), entries...)
	return nil
}

func (m *Memory) GetLineage(_ context.Context, packetID string) ([]model.LineageEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.lineage[packetID]
	return append([]model.LineageEntry(nil), entries...), ok, nil
}

func (m *Memory) Close() error { return nil }

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/claimgate/internal/audit"
	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/store"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestStore_ChainSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	actor := model.Actor{ID: "u-1"}

	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	for range 3 {
		_, err := audit.NewLog(s).Record(ctx, actor, model.EventExportAllowed, "study-1", nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	log := audit.NewLog(s)
	next, err := log.Record(ctx, actor, model.EventExportAllowed, "study-1", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.Sequence)
	assert.NoError(t, log.VerifyChain(ctx))
}

func TestStore_AuditLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	log := audit.NewLog(s)

	actor := model.Actor{ID: "u-1", Name: "Dana", Role: "reviewer"}
	for i := 0; i < 12; i++ {
		_, err := log.Record(ctx, actor, model.EventVerificationCreated, "pkt", map[string]any{"i": i})
		require.NoError(t, err)
	}

	entries, err := log.Query(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 12)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Sequence)
	}
	assert.NoError(t, log.VerifyChain(ctx))

	last, ok, err := s.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(12), last.Sequence)

	page, err := s.Query(ctx, model.AuditFilter{AfterSeq: 10})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestStore_AppendIdempotentByID(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	link := func(seq uint64, prev string) (model.AuditEntry, error) {
		return model.AuditEntry{Sequence: seq, ID: "a", PrevHash: prev, Hash: "h-a", EventType: model.EventExportAllowed}, nil
	}

	first, err := s.Append(ctx, "a", link)
	require.NoError(t, err)
	again, err := s.Append(ctx, "a", link)
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, again.Sequence)

	second, err := s.Append(ctx, "b", func(seq uint64, prev string) (model.AuditEntry, error) {
		return model.AuditEntry{Sequence: seq, ID: "b", PrevHash: prev, Hash: "h-b", EventType: model.EventExportAllowed}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, "h-a", second.PrevHash)

	_, ok, err := openInMemory(t).Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_TwoLogsShareOneChain(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	a, b := audit.NewLog(s), audit.NewLog(s)

	for _, log := range []*audit.Log{a, b, a} {
		_, err := log.Record(ctx, model.Actor{ID: "u-1"}, model.EventLineageTraced, "pkt", nil)
		require.NoError(t, err)
	}
	assert.NoError(t, b.VerifyChain(ctx))
}

func TestStore_Packets(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p1 := model.VerificationPacket{ID: "pkt-b", ManuscriptID: "ms-1", OverallStatus: model.StatusVerified, VerifiedAt: t0}
	p2 := model.VerificationPacket{ID: "pkt-a", ManuscriptID: "ms-1", OverallStatus: model.StatusConflict, VerifiedAt: t0.Add(time.Second)}
	p3 := model.VerificationPacket{ID: "pkt-c", ManuscriptID: "ms-10", VerifiedAt: t0}
	for _, p := range []model.VerificationPacket{p1, p2, p3} {
		require.NoError(t, s.PutPacket(ctx, p))
	}

	assert.ErrorIs(t, s.PutPacket(ctx, p1), store.ErrPacketExists)

	got, err := s.GetPacket(ctx, "pkt-a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConflict, got.OverallStatus)

	_, err = s.GetPacket(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	list, err := s.ListPackets(ctx, "ms-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pkt-b", list[0].ID)
	assert.Equal(t, "pkt-a", list[1].ID)
}

func TestStore_Lineage(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)

	_, ok, err := s.GetLineage(ctx, "pkt-1")
	require.NoError(t, err)
	assert.False(t, ok)

	entries := []model.LineageEntry{
		{PacketID: "pkt-1", SchemaVariableID: "var-1", TransformationPath: []string{"raw_capture"}},
		{PacketID: "pkt-1", SchemaVariableID: "var-2", TransformationPath: []string{"raw_capture", "aggregation"}},
	}
	require.NoError(t, s.PutLineage(ctx, "pkt-1", entries))
	require.NoError(t, s.PutLineage(ctx, "pkt-1", entries[:1]))

	got, ok, err := s.GetLineage(ctx, "pkt-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entries[:1], got)
}

package shared

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	logs    []AuditLog
	block   chan struct{}
	failErr error
}

func (s *recordingSink) Record(_ context.Context, log AuditLog) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return s.failErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAsyncAuditorDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	auditor := NewAsyncAuditor(sink, quietLogger(), 8)

	for _, id := range []string{"RCP/2405/0001", "RCP/2405/0002"} {
		require.NoError(t, auditor.Record(context.Background(), AuditLog{
			ActorID:  3,
			Action:   "payment.record",
			Status:   AuditSuccess,
			Entity:   "payment",
			EntityID: id,
		}))
	}
	auditor.Close()
	auditor.Close()

	require.Len(t, sink.logs, 2)
	require.Equal(t, "RCP/2405/0001", sink.logs[0].EntityID)
	require.False(t, sink.logs[0].At.IsZero())
}

func TestAsyncAuditorRejectsIncompleteRecord(t *testing.T) {
	auditor := NewAsyncAuditor(&recordingSink{}, quietLogger(), 1)
	defer auditor.Close()

	err := auditor.Record(context.Background(), AuditLog{Action: "bill.cancel"})
	require.Error(t, err)
}

func TestAsyncAuditorDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	auditor := NewAsyncAuditor(sink, quietLogger(), 1)
	log := AuditLog{Action: "voucher.post", Entity: "voucher", EntityID: "JV/GEN/20240501/0001"}

	// The dispatcher holds the first record while the second fills the queue.
	var accepted int
	var dropped error
	for i := 0; i < 3; i++ {
		if err := auditor.Record(context.Background(), log); err != nil {
			dropped = err
			continue
		}
		accepted++
	}
	close(sink.block)
	auditor.Close()

	require.ErrorIs(t, dropped, ErrAuditQueueFull)
	require.Len(t, sink.logs, accepted)
}

func TestAsyncAuditorSurvivesSinkFailure(t *testing.T) {
	sink := &recordingSink{failErr: errors.New("insert failed")}
	auditor := NewAsyncAuditor(sink, quietLogger(), 4)
	require.NoError(t, auditor.Record(context.Background(), AuditLog{Action: "ledger.freeze", Entity: "ledger", EntityID: "9"}))
	require.NoError(t, auditor.Record(context.Background(), AuditLog{Action: "ledger.activate", Entity: "ledger", EntityID: "9"}))
	auditor.Close()
	require.Len(t, sink.logs, 2)
}

func TestIdentityFromContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	require.False(t, ok)

	_, ok = IdentityFromContext(ContextWithIdentity(context.Background(), Identity{ActorID: 0}))
	require.False(t, ok)

	id, ok := IdentityFromContext(ContextWithIdentity(context.Background(), Identity{ActorID: 12, Role: "treasurer"}))
	require.True(t, ok)
	require.Equal(t, int64(12), id.ActorID)
}

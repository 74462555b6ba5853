package retention_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"worldbackup/internal/catalog"
	"worldbackup/internal/faults"
	"worldbackup/internal/logging"
	"worldbackup/internal/retention"
)

// memCatalog frees its records' bytes on a shared fake volume.
type memCatalog struct {
	mu      sync.Mutex
	records []catalog.Record
	disk    *fakeDisk
	failID  string
}

func (m *memCatalog) List() []catalog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]catalog.Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *memCatalog) Remove(_ context.Context, id string) (catalog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.failID {
		return catalog.Record{}, errors.New("permission denied")
	}
	for i, rec := range m.records {
		if rec.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			m.disk.free += rec.SizeBytes
			return rec, nil
		}
	}
	return catalog.Record{}, fmt.Errorf("%s not found", id)
}

type fakeDisk struct {
	free  int64
	calls int
}

func (f *fakeDisk) FreeBytes(context.Context) (int64, error) {
	f.calls++
	return f.free, nil
}

func newEvictor(records []catalog.Record, free int64, policy retention.Policy) (*retention.Evictor, *memCatalog, *fakeDisk) {
	disk := &fakeDisk{free: free}
	cat := &memCatalog{records: slices.Clone(records), disk: disk}
	ev := retention.NewEvictor(cat, disk, policy, logging.NewNop(), retention.WithClock(func() time.Time { return now }))
	return ev, cat, disk
}

func TestEnforceCountScenario(t *testing.T) {
	records := backups(6, now.Add(-24*time.Hour), 100)
	ev, cat, _ := newEvictor(records, 1<<30, retention.Policy{MinKeep: 3, MaxCount: 5, MaxAge: 7 * 24 * time.Hour})

	result, err := ev.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(result.Deleted) != 1 || result.Deleted[0].Record.ID != records[0].ID {
		t.Fatalf("expected oldest deleted, got %+v", result.Deleted)
	}
	if len(cat.List()) != 5 {
		t.Fatalf("expected 5 remaining, got %d", len(cat.List()))
	}
}

func TestEnforceDeletesOldestFirstAcrossSeveralRemovals(t *testing.T) {
	records := backups(6, now, 100)
	ev, cat, _ := newEvictor(records, 1<<30, retention.Policy{MinKeep: 1, MaxCount: 3})

	result, err := ev.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	var deleted []string
	for _, d := range result.Deleted {
		deleted = append(deleted, d.Record.ID)
	}
	want := []string{records[0].ID, records[1].ID, records[2].ID}
	if diff := cmp.Diff(want, deleted); diff != "" {
		t.Fatalf("deleted ids mismatch (-want +got):\n%s", diff)
	}
	var kept []string
	for _, rec := range cat.List() {
		kept = append(kept, rec.ID)
	}
	if diff := cmp.Diff([]string{records[3].ID, records[4].ID, records[5].ID}, kept); diff != "" {
		t.Fatalf("remaining ids mismatch (-want +got):\n%s", diff)
	}
}

func TestEnforceIsIdempotent(t *testing.T) {
	records := backups(12, now.Add(-10*24*time.Hour), 500)
	ev, cat, _ := newEvictor(records, 1000, retention.Policy{MinKeep: 3, MaxCount: 8, MaxAge: 7 * 24 * time.Hour, FreeFloor: 3000})

	first, err := ev.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(first.Deleted) == 0 {
		t.Fatal("expected first run to delete")
	}
	after := cat.List()

	second, err := ev.Enforce(context.Background())
	if err != nil {
		t.Fatalf("second Enforce: %v", err)
	}
	if len(second.Deleted) != 0 {
		t.Fatalf("second run deleted %d backups", len(second.Deleted))
	}
	if diff := cmp.Diff(after, cat.List()); diff != "" {
		t.Fatalf("catalog changed on second run (-first +second):\n%s", diff)
	}
}

func TestEnforceReportsFloorConflictAsWarning(t *testing.T) {
	records := backups(4, now, 100)
	ev, cat, _ := newEvictor(records, 0, retention.Policy{MinKeep: 2, FreeFloor: 1 << 30})

	result, err := ev.Enforce(context.Background())
	if err != nil {
		t.Fatalf("floor conflict must not be an error: %v", err)
	}
	if !result.FloorConflict {
		t.Fatal("expected floor conflict")
	}
	if !errors.Is(result.Warning(), faults.ErrRetentionFloorConflict) {
		t.Fatalf("expected floor conflict warning, got %v", result.Warning())
	}
	if len(cat.List()) != 2 {
		t.Fatalf("expected min keep survivors, got %d", len(cat.List()))
	}
	if result.FreedBytes() != 200 || result.FreeBytes != 200 {
		t.Fatalf("unexpected byte accounting: freed=%d free=%d", result.FreedBytes(), result.FreeBytes)
	}
}

func TestEnforceReplansOnActualFreeSpace(t *testing.T) {
	records := backups(5, now, 100)
	// recorded sizes overstate what the volume actually gets back
	disk := &fakeDisk{free: 0}
	cat := &memCatalog{records: records, disk: disk}
	for i := range cat.records {
		cat.records[i].SizeBytes = 300
	}
	shrinking := &shrinkingCatalog{memCatalog: cat, actual: 100}
	ev := retention.NewEvictor(shrinking, disk, retention.Policy{MinKeep: 1, FreeFloor: 250}, logging.NewNop(),
		retention.WithClock(func() time.Time { return now }))

	result, err := ev.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if len(result.Deleted) != 3 {
		t.Fatalf("expected re-planning to delete 3, got %d", len(result.Deleted))
	}
	if result.FloorConflict {
		t.Fatal("floor reached, no conflict expected")
	}
	if disk.calls < 2 {
		t.Fatalf("expected free space re-read between rounds, got %d reads", disk.calls)
	}
}

type shrinkingCatalog struct {
	*memCatalog
	actual int64
}

func (s *shrinkingCatalog) Remove(ctx context.Context, id string) (catalog.Record, error) {
	rec, err := s.memCatalog.Remove(ctx, id)
	if err == nil {
		s.disk.free += s.actual - rec.SizeBytes
	}
	return rec, err
}

func TestEnforceStopsOnRemoveFailure(t *testing.T) {
	records := backups(5, now, 100)
	ev, cat, _ := newEvictor(records, 0, retention.Policy{MinKeep: 1, MaxCount: 2})
	cat.failID = records[1].ID

	result, err := ev.Enforce(context.Background())
	if err == nil {
		t.Fatal("expected remove failure")
	}
	if len(result.Deleted) != 1 {
		t.Fatalf("expected the first deletion to be reported, got %d", len(result.Deleted))
	}
}

func TestMakeRoomRaisesFloor(t *testing.T) {
	records := backups(5, now, 1000)
	ev, cat, _ := newEvictor(records, 500, retention.Policy{MinKeep: 1})

	result, err := ev.MakeRoom(context.Background(), 2400)
	if err != nil {
		t.Fatalf("MakeRoom: %v", err)
	}
	if len(result.Deleted) != 2 || result.FreeBytes != 2500 {
		t.Fatalf("unexpected make-room result: %+v", result)
	}
	if result.Floor != 2400 {
		t.Fatalf("expected make-room floor 2400, got %d", result.Floor)
	}
	if len(cat.List()) != 3 {
		t.Fatalf("expected 3 remaining, got %d", len(cat.List()))
	}
	if ev.Policy().FreeFloor != 0 {
		t.Fatal("make-room must not change the configured policy")
	}
}

func TestPreviewDoesNotDelete(t *testing.T) {
	records := backups(6, now, 100)
	ev, cat, _ := newEvictor(records, 0, retention.Policy{MinKeep: 1, MaxCount: 2})

	plan, err := ev.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(plan.Delete) != 4 {
		t.Fatalf("expected 4 planned deletions, got %d", len(plan.Delete))
	}
	if len(cat.List()) != 6 {
		t.Fatal("preview must not delete")
	}
}

package retention_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"worldbackup/internal/catalog"
	"worldbackup/internal/retention"
)

var now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

// backups returns n Complete records, the oldest first, spaced one hour apart
// and ending at newest.
func backups(n int, newest time.Time, size int64) []catalog.Record {
	out := make([]catalog.Record, 0, n)
	for i := n - 1; i >= 0; i-- {
		created := newest.Add(-time.Duration(i) * time.Hour)
		id := catalog.FormatID(created)
		out = append(out, catalog.Record{
			ID:        id,
			World:     "world",
			Path:      "/backups/world/" + id + ".tar.gz",
			SizeBytes: size,
			CreatedAt: created,
			Status:    catalog.StatusComplete,
			Format:    catalog.FormatTarGz,
		})
	}
	return out
}

func deletedIDs(plan retention.Plan) []string {
	ids := make([]string, 0, len(plan.Delete))
	for _, d := range plan.Delete {
		ids = append(ids, d.Record.ID)
	}
	return ids
}

func TestEvaluateCountBound(t *testing.T) {
	records := backups(6, now.Add(-24*time.Hour), 100)
	plan := retention.Evaluate(records, retention.Policy{MinKeep: 3, MaxCount: 5, MaxAge: 7 * 24 * time.Hour}, now, 0)

	if diff := cmp.Diff([]string{records[0].ID}, deletedIDs(plan)); diff != "" {
		t.Fatalf("unexpected deletions (-want +got):\n%s", diff)
	}
	if plan.Delete[0].Reason != retention.ReasonCount {
		t.Fatalf("expected count reason, got %s", plan.Delete[0].Reason)
	}
	if len(plan.Keep) != 5 || plan.Keep[0].ID != records[5].ID {
		t.Fatalf("expected 5 kept newest first, got %d starting %s", len(plan.Keep), plan.Keep[0].ID)
	}
}

func TestEvaluateMinKeepBindsAgeBound(t *testing.T) {
	records := backups(10, now.Add(-8*24*time.Hour), 100)
	plan := retention.Evaluate(records, retention.Policy{MinKeep: 3, MaxAge: 7 * 24 * time.Hour}, now, 0)

	if len(plan.Delete) != 7 {
		t.Fatalf("expected 7 deletions, got %d", len(plan.Delete))
	}
	for i, d := range plan.Delete {
		if d.Record.ID != records[i].ID {
			t.Fatalf("deletion %d is %s, want oldest-first %s", i, d.Record.ID, records[i].ID)
		}
		if d.Reason != retention.ReasonAge {
			t.Fatalf("expected age reason, got %s", d.Reason)
		}
	}
	if len(plan.Keep) != 3 {
		t.Fatalf("expected 3 kept, got %d", len(plan.Keep))
	}
	if plan.FloorConflict {
		t.Fatal("no free-space floor configured, no conflict expected")
	}
}

func TestEvaluateFreeSpaceFloor(t *testing.T) {
	records := backups(6, now, 1000)
	policy := retention.Policy{MinKeep: 2, FreeFloor: 2500}

	plan := retention.Evaluate(records, policy, now, 600)
	if len(plan.Delete) != 2 {
		t.Fatalf("expected 2 space deletions, got %d", len(plan.Delete))
	}
	for _, d := range plan.Delete {
		if d.Reason != retention.ReasonSpace {
			t.Fatalf("expected space reason, got %s", d.Reason)
		}
	}
	if plan.PredictedFreeBytes != 2600 || plan.FloorConflict {
		t.Fatalf("unexpected prediction: %+v", plan)
	}

	conflict := retention.Evaluate(records, policy, now, 0)
	if len(conflict.Delete) != 3 {
		t.Fatalf("expected 3 space deletions, got %d", len(conflict.Delete))
	}

	starved := retention.Evaluate(records, retention.Policy{MinKeep: 5, FreeFloor: 1 << 40}, now, 0)
	if len(starved.Delete) != 1 || !starved.FloorConflict {
		t.Fatalf("expected min-keep to bind with a floor conflict, got %+v", starved)
	}
}

func TestEvaluateIgnoresNonCompleteAndBreaksTies(t *testing.T) {
	records := backups(3, now, 10)
	pending := records[0]
	pending.ID = "pending"
	pending.Status = catalog.StatusPending
	twin := records[1]
	twin.ID = records[1].ID + "b"
	records = append(records, pending, twin)

	plan := retention.Evaluate(records, retention.Policy{MinKeep: 1, MaxCount: 2}, now, 0)
	want := []string{records[0].ID, records[1].ID}
	if diff := cmp.Diff(want, deletedIDs(plan)); diff != "" {
		t.Fatalf("unexpected deletions (-want +got):\n%s", diff)
	}
	for _, rec := range plan.Keep {
		if rec.ID == "pending" {
			t.Fatal("non-complete records must not be planned at all")
		}
	}
}

func TestEvaluateEmptyCatalog(t *testing.T) {
	plan := retention.Evaluate(nil, retention.Policy{MinKeep: 3, MaxCount: 1, FreeFloor: 10}, now, 0)
	if len(plan.Delete) != 0 || len(plan.Keep) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
	if !plan.FloorConflict {
		t.Fatal("an unmet floor with nothing to delete is a conflict")
	}
}

func TestEvaluateInvariantsHoldForRandomPolicies(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		n := rng.IntN(15)
		records := backups(n, now.Add(-time.Duration(rng.IntN(400))*time.Hour), int64(1+rng.IntN(1000)))
		policy := retention.Policy{
			MinKeep:   1 + rng.IntN(5),
			MaxCount:  rng.IntN(10),
			MaxAge:    time.Duration(rng.IntN(300)) * time.Hour,
			FreeFloor: int64(rng.IntN(8000)),
		}
		free := int64(rng.IntN(4000))
		name := fmt.Sprintf("case %d: n=%d policy=%+v free=%d", i, n, policy, free)

		plan := retention.Evaluate(records, policy, now, free)
		if len(plan.Delete)+len(plan.Keep) != n {
			t.Fatalf("%s: plan does not partition the catalog", name)
		}
		if len(plan.Keep) < min(n, policy.MinKeep) {
			t.Fatalf("%s: kept %d, below min keep", name, len(plan.Keep))
		}
		for j, d := range plan.Delete {
			if d.Record.ID != records[j].ID {
				t.Fatalf("%s: deletions are not an oldest-first prefix", name)
			}
		}
		wantConflict := policy.FreeFloor > 0 && plan.PredictedFreeBytes < policy.FreeFloor
		if plan.FloorConflict != wantConflict {
			t.Fatalf("%s: conflict=%v want %v", name, plan.FloorConflict, wantConflict)
		}
		if plan.FloorConflict && len(plan.Keep) != min(n, policy.MinKeep) {
			t.Fatalf("%s: conflict reported before reaching min keep", name)
		}

		again := retention.Evaluate(plan.Keep, policy, now, plan.PredictedFreeBytes)
		if len(again.Delete) != 0 {
			t.Fatalf("%s: re-evaluating the kept set deleted %d more", name, len(again.Delete))
		}
	}
}

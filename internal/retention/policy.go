package retention

import (
	"sort"
	"time"

	"worldbackup/internal/catalog"
)

// Reason explains why a backup was selected for deletion.
type Reason string

const (
	ReasonCount Reason = "count"
	ReasonAge   Reason = "age"
	ReasonSpace Reason = "space"
)

// Policy bounds the retained set. Zero MaxCount, MaxAge, or FreeFloor
// disables that bound. MinKeep is clamped to at least one.
type Policy struct {
	MinKeep   int
	MaxCount  int
	MaxAge    time.Duration
	FreeFloor int64
}

// Deletion is one planned eviction.
type Deletion struct {
	Record catalog.Record `json:"record"`
	Reason Reason         `json:"reason"`
}

// Plan is the outcome of evaluating a policy against a catalog snapshot.
type Plan struct {
	// Delete is ordered oldest first.
	Delete []Deletion `json:"delete"`
	// Keep is ordered newest first.
	Keep               []catalog.Record `json:"keep"`
	FreeBytes          int64            `json:"free_bytes"`
	PredictedFreeBytes int64            `json:"predicted_free_bytes"`
	// FloorConflict is set when the minimum-keep floor stops eviction before
	// the free-space floor is reached.
	FloorConflict bool `json:"floor_conflict"`
}

// Evaluate selects the minimal oldest-first prefix of Complete records to
// delete so that the count and age bounds hold and free space reaches the
// floor, never leaving fewer than MinKeep records. It has no side effects.
func Evaluate(records []catalog.Record, policy Policy, now time.Time, freeBytes int64) Plan {
	candidates := make([]catalog.Record, 0, len(records))
	for _, rec := range records {
		if rec.Status == catalog.StatusComplete {
			candidates = append(candidates, rec)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	n := len(candidates)
	minKeep := max(policy.MinKeep, 1)
	eligible := max(n-minKeep, 0)

	countExcess := 0
	if policy.MaxCount > 0 {
		countExcess = max(n-policy.MaxCount, 0)
	}
	ageExcess := 0
	if policy.MaxAge > 0 {
		for _, rec := range candidates {
			if rec.Age(now) <= policy.MaxAge {
				break
			}
			ageExcess++
		}
	}

	plan := Plan{FreeBytes: freeBytes, PredictedFreeBytes: freeBytes}
	k := min(eligible, max(countExcess, ageExcess))
	for i := 0; i < k; i++ {
		reason := ReasonAge
		if i < countExcess {
			reason = ReasonCount
		}
		plan.Delete = append(plan.Delete, Deletion{Record: candidates[i], Reason: reason})
		plan.PredictedFreeBytes += candidates[i].SizeBytes
	}
	if policy.FreeFloor > 0 {
		for plan.PredictedFreeBytes < policy.FreeFloor && k < eligible {
			plan.Delete = append(plan.Delete, Deletion{Record: candidates[k], Reason: ReasonSpace})
			plan.PredictedFreeBytes += candidates[k].SizeBytes
			k++
		}
		plan.FloorConflict = plan.PredictedFreeBytes < policy.FreeFloor
	}

	plan.Keep = make([]catalog.Record, 0, n-k)
	for i := n - 1; i >= k; i-- {
		plan.Keep = append(plan.Keep, candidates[i])
	}
	return plan
}

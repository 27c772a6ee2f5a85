// Package retention decides which archives a backup object no longer needs
// and removes them.
package retention

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/imedwei/collection-backup/internal/model"
)

// BytesPerKB is the size policy unit.
const BytesPerKB = 1000

// SelectForDeletion returns the archives the policy selects for deletion.
// Archives marked keep are never considered. The result is ordered oldest first.
func SelectForDeletion(archives []*model.Archive, by model.PruneBy, value float64, now time.Time) ([]*model.Archive, error) {
	if err := model.ValidatePruneValue(by, value); err != nil {
		return nil, err
	}

	candidates := notKept(archives)
	var selected []*model.Archive

	switch by {
	case model.PruneNone, "":
		return nil, nil

	case model.PruneCount:
		if float64(len(candidates)) <= value {
			return nil, nil
		}
		keep := int(value)
		cutoff := candidates[keep-1].CreatedAt
		for _, a := range candidates {
			if a.CreatedAt.Before(cutoff) {
				selected = append(selected, a)
			}
		}

	case model.PruneSize:
		threshold := int64(math.MaxInt64)
		if bytes := value * BytesPerKB; bytes < float64(math.MaxInt64) {
			threshold = int64(bytes)
		}
		var total int64
		for _, a := range candidates {
			total += a.Size
		}
		for i := len(candidates) - 1; i >= 0 && total > threshold; i-- {
			selected = append([]*model.Archive{candidates[i]}, selected...)
			total -= candidates[i].Size
		}

	case model.PruneTime:
		age := time.Duration(math.MaxInt64)
		if d := value * float64(24*time.Hour); d < float64(math.MaxInt64) {
			age = time.Duration(d)
		}
		threshold := now.Add(-age)
		for _, a := range candidates {
			if a.CreatedAt.Before(threshold) {
				selected = append(selected, a)
			}
		}

	default:
		return nil, fmt.Errorf("%w: unknown policy %q", model.ErrInvalidPruneValue, by)
	}

	oldestFirst(selected)
	return selected, nil
}

// notKept returns the archives without the keep flag, newest first.
func notKept(archives []*model.Archive) []*model.Archive {
	out := make([]*model.Archive, 0, len(archives))
	for _, a := range archives {
		if !a.Keep {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Newer(out[j]) })
	return out
}

func oldestFirst(archives []*model.Archive) {
	sort.SliceStable(archives, func(i, j int) bool { return archives[j].Newer(archives[i]) })
}

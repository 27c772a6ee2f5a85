package retention

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/imedwei/collection-backup/internal/model"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// archive builds an archive created age ago.
func archive(id int64, age time.Duration, size int64, keep bool) *model.Archive {
	return &model.Archive{
		ID:        id,
		ObjectID:  1,
		Name:      "a",
		Size:      size,
		Keep:      keep,
		CreatedAt: now.Add(-age),
	}
}

func ids(archives []*model.Archive) []int64 {
	out := make([]int64, 0, len(archives))
	for _, a := range archives {
		out = append(out, a.ID)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelectForDeletion(t *testing.T) {
	const day = 24 * time.Hour

	tests := []struct {
		name     string
		archives []*model.Archive
		by       model.PruneBy
		value    float64
		want     []int64
		wantErr  error
	}{
		{
			name:     "none selects nothing",
			archives: []*model.Archive{archive(1, 10*day, 100, false)},
			by:       model.PruneNone,
			value:    1,
			want:     []int64{},
		},
		{
			name: "count keeps newest non-kept",
			// A(keep), B, C created in that order
			archives: []*model.Archive{
				archive(1, 3*time.Hour, 10, true),
				archive(2, 2*time.Hour, 10, false),
				archive(3, 1*time.Hour, 10, false),
			},
			by:    model.PruneCount,
			value: 1,
			want:  []int64{2},
		},
		{
			name: "count below limit",
			archives: []*model.Archive{
				archive(1, 2*time.Hour, 10, false),
				archive(2, 1*time.Hour, 10, false),
			},
			by:    model.PruneCount,
			value: 2,
			want:  []int64{},
		},
		{
			name: "count ignores input order",
			archives: []*model.Archive{
				archive(4, 1*time.Hour, 10, false),
				archive(1, 4*time.Hour, 10, false),
				archive(3, 2*time.Hour, 10, false),
				archive(2, 3*time.Hour, 10, false),
			},
			by:    model.PruneCount,
			value: 2,
			want:  []int64{1, 2},
		},
		{
			name:     "count zero is invalid",
			archives: []*model.Archive{archive(1, time.Hour, 10, false)},
			by:       model.PruneCount,
			value:    0,
			wantErr:  model.ErrInvalidPruneValue,
		},
		{
			name:     "count fractional is invalid",
			archives: []*model.Archive{archive(1, time.Hour, 10, false)},
			by:       model.PruneCount,
			value:    2.5,
			wantErr:  model.ErrInvalidPruneValue,
		},
		{
			name: "size deletes oldest first down to threshold",
			archives: []*model.Archive{
				archive(1, 5*time.Hour, 1000, false),
				archive(2, 4*time.Hour, 1000, false),
				archive(3, 3*time.Hour, 1000, false),
				archive(4, 2*time.Hour, 1000, false),
				archive(5, 1*time.Hour, 1000, false),
			},
			by:    model.PruneSize,
			value: 2,
			want:  []int64{1, 2, 3},
		},
		{
			name: "size stops as soon as under threshold",
			archives: []*model.Archive{
				archive(1, 3*time.Hour, 3000, false),
				archive(2, 2*time.Hour, 1500, false),
				archive(3, 1*time.Hour, 500, false),
			},
			by:    model.PruneSize,
			value: 2,
			want:  []int64{1},
		},
		{
			name: "size within threshold",
			archives: []*model.Archive{
				archive(1, 2*time.Hour, 1000, false),
				archive(2, 1*time.Hour, 1000, false),
			},
			by:    model.PruneSize,
			value: 2,
			want:  []int64{},
		},
		{
			name: "size ignores kept archives",
			archives: []*model.Archive{
				archive(1, 3*time.Hour, 9000, true),
				archive(2, 2*time.Hour, 1500, false),
				archive(3, 1*time.Hour, 1000, false),
			},
			by:    model.PruneSize,
			value: 2,
			want:  []int64{2},
		},
		{
			name: "time deletes strictly older than threshold",
			archives: []*model.Archive{
				archive(1, 3*day, 10, false),
				archive(2, 0, 10, false),
				archive(3, day, 10, false),
			},
			by:    model.PruneTime,
			value: 1,
			want:  []int64{1},
		},
		{
			name:     "time negative is invalid",
			archives: []*model.Archive{archive(1, 3*day, 10, false)},
			by:       model.PruneTime,
			value:    -1,
			wantErr:  model.ErrInvalidPruneValue,
		},
		{
			name:     "time NaN is invalid",
			archives: []*model.Archive{archive(1, 3*day, 10, false)},
			by:       model.PruneTime,
			value:    math.NaN(),
			wantErr:  model.ErrInvalidPruneValue,
		},
		{
			name: "count at limit keeps everything",
			archives: []*model.Archive{
				archive(1, 2*time.Hour, 10, false),
				archive(2, 1*time.Hour, 10, false),
			},
			by:    model.PruneCount,
			value: model.MaxPruneCount,
			want:  []int64{},
		},
		{
			name:     "count beyond limit is invalid",
			archives: []*model.Archive{archive(1, time.Hour, 10, false)},
			by:       model.PruneCount,
			value:    1e19,
			wantErr:  model.ErrInvalidPruneValue,
		},
		{
			name: "size at limit keeps everything",
			archives: []*model.Archive{
				archive(1, 2*time.Hour, 1<<40, false),
				archive(2, 1*time.Hour, 1<<40, false),
			},
			by:    model.PruneSize,
			value: model.MaxPruneKB,
			want:  []int64{},
		},
		{
			name:     "size beyond limit is invalid",
			archives: []*model.Archive{archive(1, time.Hour, 10, false)},
			by:       model.PruneSize,
			value:    1e17,
			wantErr:  model.ErrInvalidPruneValue,
		},
		{
			name:     "time at limit keeps everything",
			archives: []*model.Archive{archive(1, 3650*day, 10, false)},
			by:       model.PruneTime,
			value:    model.MaxPruneDays,
			want:     []int64{},
		},
		{
			name:     "time beyond limit is invalid",
			archives: []*model.Archive{archive(1, 3*day, 10, false)},
			by:       model.PruneTime,
			value:    1e6,
			wantErr:  model.ErrInvalidPruneValue,
		},
		{
			name:     "unknown policy",
			archives: []*model.Archive{archive(1, 3*day, 10, false)},
			by:       model.PruneBy("weekly"),
			value:    1,
			wantErr:  model.ErrInvalidPruneValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectForDeletion(tt.archives, tt.by, tt.value, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SelectForDeletion() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectForDeletion() error = %v", err)
			}
			if !equalIDs(ids(got), tt.want) {
				t.Errorf("SelectForDeletion() = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestSelectForDeletion_NeverSelectsKept(t *testing.T) {
	const day = 24 * time.Hour
	archives := []*model.Archive{
		archive(1, 30*day, 5000, true),
		archive(2, 20*day, 5000, true),
		archive(3, 10*day, 5000, false),
		archive(4, 5*day, 5000, false),
	}

	policies := []struct {
		by    model.PruneBy
		value float64
	}{
		{model.PruneCount, 1},
		{model.PruneSize, 0},
		{model.PruneTime, 0},
	}

	for _, p := range policies {
		t.Run(string(p.by), func(t *testing.T) {
			got, err := SelectForDeletion(archives, p.by, p.value, now)
			if err != nil {
				t.Fatal(err)
			}
			for _, a := range got {
				if a.Keep {
					t.Errorf("policy %s selected kept archive %d", p.by, a.ID)
				}
			}
			if len(got) == 0 {
				t.Errorf("policy %s selected nothing", p.by)
			}
		})
	}
}

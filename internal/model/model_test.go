package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestValidatePruneValue(t *testing.T) {
	tests := []struct {
		name    string
		by      PruneBy
		value   float64
		wantErr bool
	}{
		{name: "none ignores value", by: PruneNone, value: -3},
		{name: "count positive integer", by: PruneCount, value: 5},
		{name: "count zero", by: PruneCount, value: 0, wantErr: true},
		{name: "count negative", by: PruneCount, value: -1, wantErr: true},
		{name: "count fractional", by: PruneCount, value: 1.5, wantErr: true},
		{name: "count NaN", by: PruneCount, value: math.NaN(), wantErr: true},
		{name: "size zero", by: PruneSize, value: 0},
		{name: "size fractional", by: PruneSize, value: 2.5},
		{name: "size negative", by: PruneSize, value: -1, wantErr: true},
		{name: "time infinite", by: PruneTime, value: math.Inf(1), wantErr: true},
		{name: "time days", by: PruneTime, value: 30},
		{name: "count at limit", by: PruneCount, value: MaxPruneCount},
		{name: "count huge", by: PruneCount, value: 1e19, wantErr: true},
		{name: "size at limit", by: PruneSize, value: MaxPruneKB},
		{name: "size huge", by: PruneSize, value: 1e17, wantErr: true},
		{name: "time at limit", by: PruneTime, value: MaxPruneDays},
		{name: "time huge", by: PruneTime, value: 1e6, wantErr: true},
		{name: "unknown policy", by: PruneBy("weekly"), value: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePruneValue(tt.by, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePruneValue(%s, %v) error = %v, wantErr %v", tt.by, tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPruneValue) {
				t.Errorf("error %v does not wrap ErrInvalidPruneValue", err)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"GZIP", CompressionGzip, false},
		{" bzip2 ", CompressionBzip2, false},
		{"zstd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompression(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCompression(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if CompressionGzip.Suffix() != ".gz" || CompressionBzip2.Suffix() != ".bz2" || CompressionNone.Suffix() != "" {
		t.Error("unexpected compression suffixes")
	}
}

func TestBackupObject_Validate(t *testing.T) {
	obj := NewBackupObject("polls")
	if err := obj.Validate(); err != nil {
		t.Fatalf("default object should be valid: %v", err)
	}
	if !obj.Include || !obj.UseNaturalKeys || obj.PruneValue != DefaultPruneValue {
		t.Errorf("unexpected defaults: %+v", obj)
	}

	obj.Label = "../etc"
	if err := obj.Validate(); err == nil {
		t.Error("expected error for label with path separator")
	}

	obj = NewBackupObject("polls")
	obj.PruneBy = PruneCount
	obj.PruneValue = 0
	if err := obj.Validate(); !errors.Is(err, ErrInvalidPruneValue) {
		t.Errorf("Validate() error = %v, want ErrInvalidPruneValue", err)
	}
}

func TestArchive_Newer(t *testing.T) {
	now := time.Now()
	a := &Archive{ID: 1, CreatedAt: now}
	b := &Archive{ID: 2, CreatedAt: now.Add(-time.Second)}
	c := &Archive{ID: 3, CreatedAt: now}

	if !a.Newer(b) {
		t.Error("a should be newer than b")
	}
	if !c.Newer(a) {
		t.Error("equal timestamps should order by id")
	}
}

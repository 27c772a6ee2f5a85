// Package model defines the backup objects, archives and their settings.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Compression selects the filter an archive is written through.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
)

// Suffix returns the file extension appended to an archive name.
func (c Compression) Suffix() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionBzip2:
		return ".bz2"
	default:
		return ""
	}
}

// ParseCompression converts a string into a Compression.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case CompressionNone, CompressionGzip, CompressionBzip2:
		return c, nil
	case "":
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown compression %q (must be none, gzip or bzip2)", s)
	}
}

// PruneBy selects the retention policy of a backup object.
type PruneBy string

const (
	PruneNone  PruneBy = "none"
	PruneCount PruneBy = "count"
	PruneSize  PruneBy = "size"
	PruneTime  PruneBy = "time"
)

// ParsePruneBy converts a string into a PruneBy.
func ParsePruneBy(s string) (PruneBy, error) {
	switch p := PruneBy(strings.ToLower(strings.TrimSpace(s))); p {
	case PruneNone, PruneCount, PruneSize, PruneTime:
		return p, nil
	case "":
		return PruneNone, nil
	default:
		return "", fmt.Errorf("unknown prune policy %q (must be none, count, size or time)", s)
	}
}

// Upper bounds of prune values, so policy arithmetic stays in range.
const (
	MaxPruneCount = math.MaxInt32
	MaxPruneKB    = 1e15 // one exabyte
	MaxPruneDays  = 100000
)

// Default settings for a newly registered backup object.
const (
	DefaultPruneValue     = 10
	DefaultUseNaturalKeys = true
)

// BackupObject is one registered collection and its backup settings.
type BackupObject struct {
	ID             int64
	Label          string
	Include        bool
	Compression    Compression
	UseNaturalKeys bool
	PruneBy        PruneBy
	PruneValue     float64
	AutoPrune      bool
	Recipients     []string
	CreatedAt      time.Time
	ModifiedAt     time.Time
}

// NewBackupObject returns an object with default settings.
func NewBackupObject(label string) *BackupObject {
	return &BackupObject{
		Label:          label,
		Include:        true,
		Compression:    CompressionNone,
		UseNaturalKeys: DefaultUseNaturalKeys,
		PruneBy:        PruneNone,
		PruneValue:     DefaultPruneValue,
	}
}

// Validate checks the settings of the object.
func (o *BackupObject) Validate() error {
	if o.Label == "" {
		return fmt.Errorf("label is required")
	}
	if strings.ContainsAny(o.Label, `/\`) || strings.TrimSpace(o.Label) != o.Label {
		return fmt.Errorf("invalid label %q", o.Label)
	}
	if _, err := ParseCompression(string(o.Compression)); err != nil {
		return err
	}
	if _, err := ParsePruneBy(string(o.PruneBy)); err != nil {
		return err
	}
	return ValidatePruneValue(o.PruneBy, o.PruneValue)
}

// ValidatePruneValue checks that value is meaningful for the policy.
func ValidatePruneValue(by PruneBy, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPruneValue, value)
	}
	switch by {
	case PruneNone, "":
		return nil
	case PruneCount:
		if value <= 0 || value != math.Trunc(value) {
			return fmt.Errorf("%w: count must be a positive integer, got %v", ErrInvalidPruneValue, value)
		}
		if value > MaxPruneCount {
			return fmt.Errorf("%w: count must be at most %d, got %v", ErrInvalidPruneValue, MaxPruneCount, value)
		}
	case PruneSize, PruneTime:
		if value < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidPruneValue, by, value)
		}
		limit := float64(MaxPruneKB)
		if by == PruneTime {
			limit = MaxPruneDays
		}
		if value > limit {
			return fmt.Errorf("%w: %s must be at most %v, got %v", ErrInvalidPruneValue, by, limit, value)
		}
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidPruneValue, by)
	}
	return nil
}

// Archive is one produced, fingerprinted artifact of a backup object.
type Archive struct {
	ID          int64
	ObjectID    int64
	Name        string
	Path        string
	Size        int64
	Fingerprint string
	Keep        bool
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Newer reports whether a sorts before b in newest-first order.
func (a *Archive) Newer(b *Archive) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

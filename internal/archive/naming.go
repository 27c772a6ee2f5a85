package archive

import (
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/model"
)

// Namer generates archive names of the form
// {label}_{YYYY}{DDD}-{disambiguator}.{format}[.gz|.bz2], where the
// disambiguator counts microseconds since midnight and never repeats within
// the process.
type Namer struct {
	clock clock.Clock
	last  atomic.Int64 // last unix microsecond handed out
}

// NewNamer creates a namer reading time from clk.
func NewNamer(clk clock.Clock) *Namer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Namer{clock: clk}
}

// Next returns a fresh archive name.
func (n *Namer) Next(label, format string, compression model.Compression) string {
	now := n.clock.Now()
	micro := now.UnixMicro()
	for {
		last := n.last.Load()
		if micro <= last {
			micro = last + 1
		}
		if n.last.CompareAndSwap(last, micro) {
			break
		}
	}

	t := time.UnixMicro(micro).In(now.Location())
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	disambiguator := t.Sub(midnight).Microseconds()

	return fmt.Sprintf("%s_%04d%03d-%d.%s%s", label, t.Year(), t.YearDay(), disambiguator, format, compression.Suffix())
}

// NameInfo is what an archive name encodes.
type NameInfo struct {
	Label         string
	Time          time.Time
	Disambiguator int64
	Format        string
	Compression   model.Compression
}

var namePattern = regexp.MustCompile(`^(.+)_(\d{4})(\d{3})-(\d+)\.([A-Za-z0-9]+)(\.gz|\.bz2)?$`)

// ParseName extracts the label, time and format from an archive name.
func ParseName(name string) (*NameInfo, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, fmt.Errorf("not an archive name: %q", name)
	}

	year, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if day < 1 || day > 366 {
		return nil, fmt.Errorf("invalid day of year in %q", name)
	}
	disambiguator, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid disambiguator in %q: %w", name, err)
	}

	info := &NameInfo{
		Label:         m[1],
		Disambiguator: disambiguator,
		Format:        m[5],
		Compression:   model.CompressionNone,
	}
	switch m[6] {
	case ".gz":
		info.Compression = model.CompressionGzip
	case ".bz2":
		info.Compression = model.CompressionBzip2
	}

	info.Time = time.Date(year, time.January, day, 0, 0, 0, 0, time.Local).
		Add(time.Duration(disambiguator) * time.Microsecond)
	return info, nil
}

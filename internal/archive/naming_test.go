package archive

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/imedwei/collection-backup/internal/model"
)

func TestNamer_Next(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 2, 3, 0, 0, 1, 500_000, time.UTC))
	namer := NewNamer(clk)

	tests := []struct {
		name        string
		format      string
		compression model.Compression
		want        string
	}{
		{name: "plain json", format: "json", compression: model.CompressionNone, want: "polls_2024034-1000500.json"},
		// Same instant, bumped by one microsecond
		{name: "gzip", format: "json", compression: model.CompressionGzip, want: "polls_2024034-1000501.json.gz"},
		{name: "bzip2 yaml", format: "yaml", compression: model.CompressionBzip2, want: "polls_2024034-1000502.yaml.bz2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := namer.Next("polls", tt.format, tt.compression); got != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNamer_UniqueUnderConcurrency(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC))
	namer := NewNamer(clk)

	const n = 200
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		names = make(map[string]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := namer.Next("polls", "json", model.CompressionNone)
			mu.Lock()
			names[name] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(names) != n {
		t.Errorf("got %d unique names, want %d", len(names), n)
	}
	for name := range names {
		if !strings.HasPrefix(name, "polls_2024366-") {
			t.Errorf("unexpected name %s", name)
		}
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name            string
		input           string
		wantLabel       string
		wantDay         int
		wantFormat      string
		wantCompression model.Compression
		wantErr         bool
	}{
		{
			name:            "plain",
			input:           "polls_2024034-1000500.json",
			wantLabel:       "polls",
			wantDay:         34,
			wantFormat:      "json",
			wantCompression: model.CompressionNone,
		},
		{
			name:            "label with underscore",
			input:           "auth_user_2023200-42.yaml.bz2",
			wantLabel:       "auth_user",
			wantDay:         200,
			wantFormat:      "yaml",
			wantCompression: model.CompressionBzip2,
		},
		{
			name:            "gzip",
			input:           "blog_2024001-0.json.gz",
			wantLabel:       "blog",
			wantDay:         1,
			wantFormat:      "json",
			wantCompression: model.CompressionGzip,
		},
		{name: "not an archive", input: "notes.txt", wantErr: true},
		{name: "bad day", input: "polls_2024400-1.json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if info.Label != tt.wantLabel || info.Format != tt.wantFormat || info.Compression != tt.wantCompression {
				t.Errorf("ParseName() = %+v", info)
			}
			if info.Time.YearDay() != tt.wantDay {
				t.Errorf("ParseName() day = %d, want %d", info.Time.YearDay(), tt.wantDay)
			}
		})
	}
}

func TestParseName_RoundTrip(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 7, 15, 13, 45, 30, 123_456_000, time.Local))
	name := NewNamer(clk).Next("polls", "json", model.CompressionGzip)

	info, err := ParseName(name)
	if err != nil {
		t.Fatalf("ParseName(%s) error = %v", name, err)
	}
	if !info.Time.Equal(clk.Now()) {
		t.Errorf("ParseName() time = %v, want %v", info.Time, clk.Now())
	}
}

package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"

	"github.com/imedwei/collection-backup/internal/model"
)

// newWriter wraps w in the compression filter of c. Closing the returned
// writer flushes the filter but leaves w open.
func newWriter(w io.Writer, c model.Compression) (io.WriteCloser, error) {
	switch c {
	case model.CompressionNone, "":
		return nopWriteCloser{w}, nil
	case model.CompressionGzip:
		// Zero header ModTime keeps identical payloads byte-identical
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case model.CompressionBzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

// newReader undoes the compression filter of c.
func newReader(r io.Reader, c model.Compression) (io.ReadCloser, error) {
	switch c {
	case model.CompressionNone, "":
		return io.NopCloser(r), nil
	case model.CompressionGzip:
		return gzip.NewReader(r)
	case model.CompressionBzip2:
		return bzip2.NewReader(r, nil)
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

// compressionOf derives the compression of a stored archive from its name.
func compressionOf(name string) model.Compression {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return model.CompressionGzip
	case strings.HasSuffix(name, ".bz2"):
		return model.CompressionBzip2
	default:
		return model.CompressionNone
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Package fingerprint computes the content hashes archives are deduplicated
// and verified with.
package fingerprint

import (
	"crypto/sha1" //nolint:gosec // content addressing, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/utils"
)

// Size is the length of a hex-encoded fingerprint.
const Size = sha1.Size * 2

// File returns the hex SHA-1 digest of the file at path, read in 4KB chunks.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open %s: %v", model.ErrIO, path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %v", model.ErrIO, path, err)
	}
	return sum, nil
}

// Reader returns the hex SHA-1 digest of everything r yields.
func Reader(r io.Reader) (string, error) {
	h := sha1.New() //nolint:gosec
	buf := utils.ChunkPool.Get()
	defer utils.ChunkPool.Put(buf)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s looks like a fingerprint.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Package fingerprint derives the content key used to deduplicate analyses.
//
// The encoding is order-dependent: screenshots submitted together are read as a
// sequence, so [a, b] and [b, a] are different inputs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strings"
)

const version = "fp1"

// Compute hashes the images in submission order followed by the category and
// advice ids. Overrides, when present, are appended as their own section.
// An override is compared by its trimmed text, and blank trailing overrides
// are dropped, since neither changes what gets analyzed.
func Compute(images [][]byte, categoryID, adviceID string, overrides []string) string {
	h := sha256.New()
	writeField(h, []byte(version))
	writeCount(h, len(images))
	for _, img := range images {
		writeField(h, img)
	}
	writeField(h, []byte(categoryID))
	writeField(h, []byte(adviceID))
	if overrides = significant(overrides); len(overrides) > 0 {
		writeField(h, []byte("overrides"))
		writeCount(h, len(overrides))
		for _, o := range overrides {
			writeField(h, []byte(strings.TrimSpace(o)))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes b so adjacent fields cannot be re-split.
func writeField(h hash.Hash, b []byte) {
	writeCount(h, len(b))
	h.Write(b)
}

func writeCount(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}

// significant drops trailing overrides that are blank after trimming.
func significant(overrides []string) []string {
	n := len(overrides)
	for n > 0 && strings.TrimSpace(overrides[n-1]) == "" {
		n--
	}
	return overrides[:n]
}

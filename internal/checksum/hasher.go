// Package checksum computes integrity digests over canonical dictionary snapshots.
//
// Canonical encoding of one entry, all integers big-endian:
//
//	uint64 id
//	uint32 attribute count
//	per attribute, ascending by name:
//	    uint32 len(name)  name bytes
//	    uint32 len(value) value bytes
//
// Entries are fed in strictly ascending id order; the digest is rendered as
// "<algorithm>:<lowercase hex>".
package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// Supported algorithm names.
const (
	SHA256     = "sha256"
	BLAKE2b256 = "blake2b-256"
	SHA3256    = "sha3-256"
)

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	case SHA3256:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("checksum: unsupported algorithm %q", algorithm)
	}
}

// Algorithm returns the algorithm prefix of a rendered checksum.
func Algorithm(checksum string) string {
	algo, _, ok := strings.Cut(checksum, ":")
	if !ok {
		return ""
	}
	return algo
}

// Hasher accumulates the canonical encoding of a snapshot.
type Hasher struct {
	algorithm string
	h         hash.Hash
	buf       []byte
	lastID    int64
	count     int
}

// NewHasher returns a Hasher for the named algorithm.
func NewHasher(algorithm string) (*Hasher, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}
	return &Hasher{algorithm: algorithm, h: h, buf: make([]byte, 0, 256)}, nil
}

// Add feeds one active entry. Ids must be strictly ascending.
func (h *Hasher) Add(e domain.DictionaryEntry) error {
	if h.count > 0 && e.ID <= h.lastID {
		return fmt.Errorf("checksum: entry %d out of canonical order after %d", e.ID, h.lastID)
	}

	names := e.Attributes.SortedNames()
	b := h.buf[:0]
	b = binary.BigEndian.AppendUint64(b, uint64(e.ID))
	b = binary.BigEndian.AppendUint32(b, uint32(len(names)))
	for _, name := range names {
		value := e.Attributes[name]
		b = binary.BigEndian.AppendUint32(b, uint32(len(name)))
		b = append(b, name...)
		b = binary.BigEndian.AppendUint32(b, uint32(len(value)))
		b = append(b, value...)
	}
	h.h.Write(b)
	h.buf = b

	h.lastID = e.ID
	h.count++
	return nil
}

// Count returns the number of entries fed so far.
func (h *Hasher) Count() int {
	return h.count
}

// Sum renders the digest of everything fed so far.
func (h *Hasher) Sum() string {
	return h.algorithm + ":" + hex.EncodeToString(h.h.Sum(nil))
}

// Of computes the checksum of entries, which must already be in canonical order.
func Of(algorithm string, entries []domain.DictionaryEntry) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if err := h.Add(e); err != nil {
			return "", err
		}
	}
	return h.Sum(), nil
}

package tree

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash is a BLAKE3-256 content digest.
type Hash [32]byte

// HashBytes digests b in one shot.
func HashBytes(b []byte) Hash {
	return blake3.Sum256(b)
}

// String returns the lowercase hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the zero value, used to mark
// "no digest recorded".
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hasher digests streamed content. It wraps a BLAKE3 state and
// implements io.Writer, so content can be hashed while it is copied.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a fresh streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Write feeds p into the digest. It never fails.
func (hs *Hasher) Write(p []byte) (int, error) {
	return hs.h.Write(p)
}

// Sum returns the digest of everything written so far.
func (hs *Hasher) Sum() Hash {
	var out Hash
	sum := hs.h.Sum(nil)
	copy(out[:], sum)
	return out
}

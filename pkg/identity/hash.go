// Package identity names peers. A PeerHash is the fixed-size key used for the
// peer directory and the connection table; it is derived from a libp2p peer ID.
package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// HashSize is the length of a PeerHash in bytes.
const HashSize = sha256.Size

// ErrKeyFormat is matched by every KeyFormatError.
var ErrKeyFormat = errors.New("key format")

// KeyFormatError reports a key or hash whose length is not the fixed expected length.
type KeyFormatError struct {
	What string
	Want int
	Got  int
}

func (e *KeyFormatError) Error() string {
	return fmt.Sprintf("invalid %s: want %d bytes, got %d", e.What, e.Want, e.Got)
}

func (e *KeyFormatError) Is(target error) bool { return target == ErrKeyFormat }

// PeerHash is the global hash of a peer.
type PeerHash [HashSize]byte

// HashFromID hashes the binary form of a peer ID.
func HashFromID(id peer.ID) PeerHash {
	return sha256.Sum256([]byte(id))
}

// ParseHash decodes a hex encoded hash.
func ParseHash(s string) (PeerHash, error) {
	var h PeerHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode peer hash: %w", err)
	}
	if len(raw) != HashSize {
		return h, &KeyFormatError{What: "peer hash", Want: HashSize, Got: len(raw)}
	}
	copy(h[:], raw)
	return h, nil
}

func (h PeerHash) String() string { return hex.EncodeToString(h[:]) }

// Short is the first eight hex characters, for logs.
func (h PeerHash) Short() string { return h.String()[:8] }

func (h PeerHash) IsZero() bool { return h == PeerHash{} }

// Compare orders hashes byte-wise.
func (h PeerHash) Compare(other PeerHash) int { return bytes.Compare(h[:], other[:]) }

func (h PeerHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *PeerHash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

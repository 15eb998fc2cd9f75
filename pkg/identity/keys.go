package identity

import (
	"encoding/base64"
	"errors"
	"fmt"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrKeyType is returned for node keys that are not Ed25519.
var ErrKeyType = errors.New("node keys must be ed25519")

// NodeKey is a distributor's network identity: its Ed25519 key together with
// the peer ID and PeerHash other distributors index it by.
type NodeKey struct {
	Priv libp2pcrypto.PrivKey
	ID   peer.ID
	Hash PeerHash
}

// NewNodeKey generates a fresh identity.
func NewNodeKey() (NodeKey, error) {
	priv, _, err := libp2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		return NodeKey{}, fmt.Errorf("generate node key: %w", err)
	}
	return NodeKeyFrom(priv)
}

// NodeKeyFrom derives the peer ID and hash of priv.
func NodeKeyFrom(priv libp2pcrypto.PrivKey) (NodeKey, error) {
	if _, ok := priv.(*libp2pcrypto.Ed25519PrivateKey); !ok {
		if priv == nil {
			return NodeKey{}, fmt.Errorf("node key: %w: got none", ErrKeyType)
		}
		return NodeKey{}, fmt.Errorf("node key: %w: got %s", ErrKeyType, priv.Type())
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return NodeKey{}, fmt.Errorf("node key peer id: %w", err)
	}
	return NodeKey{Priv: priv, ID: id, Hash: HashFromID(id)}, nil
}

// ParseNodeKey reads the base64 form written by Encode, as found in
// node.private_key.
func ParseNodeKey(b64 string) (NodeKey, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return NodeKey{}, fmt.Errorf("node key base64: %w", err)
	}
	if len(data) == 0 {
		return NodeKey{}, &KeyFormatError{What: "node key", Want: 1, Got: 0}
	}
	priv, err := libp2pcrypto.UnmarshalPrivateKey(data)
	if err != nil {
		return NodeKey{}, fmt.Errorf("node key: %w", err)
	}
	return NodeKeyFrom(priv)
}

// Encode returns the base64 protobuf form accepted by ParseNodeKey.
func (k NodeKey) Encode() (string, error) {
	data, err := libp2pcrypto.MarshalPrivateKey(k.Priv)
	if err != nil {
		return "", fmt.Errorf("encode node key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

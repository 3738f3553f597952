// Package keys generates wallet keypairs and derives did:key identifiers
// from them. Key generation sits behind the Provider interface so the
// wallet logic never depends on a concrete scheme; the default provider
// produces real Ed25519 keypairs.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
)

// ed25519MulticodecPrefix is the multicodec varint prefix for Ed25519 public keys (0xed01).
var ed25519MulticodecPrefix = []byte{0xed, 0x01}

// Keypair holds one identity's key material.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Provider produces keypairs for new identities.
type Provider interface {
	GenerateKeypair() (Keypair, error)
}

// Ed25519Provider is the default Provider, backed by crypto/rand.
type Ed25519Provider struct{}

// GenerateKeypair creates a fresh Ed25519 keypair.
func (Ed25519Provider) GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("keys: generate Ed25519 key: %w", err)
	}
	return Keypair{Public: pub, Private: priv}, nil
}

// ErrInvalidDID reports a DID that could not be parsed or decoded.
type ErrInvalidDID struct {
	DID    string
	Reason string
}

func (e *ErrInvalidDID) Error() string {
	return "keys: invalid DID " + e.DID + ": " + e.Reason
}

// DIDFromPublicKey derives a did:key DID from an Ed25519 public key.
// The full key is encoded (multibase base58btc over the multicodec
// prefix plus key bytes); the derivation is deterministic and lossless,
// so the key can be recovered from the DID for verification.
func DIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("keys: invalid Ed25519 public key length %d", len(pub))
	}
	prefixed := make([]byte, 0, len(ed25519MulticodecPrefix)+len(pub))
	prefixed = append(prefixed, ed25519MulticodecPrefix...)
	prefixed = append(prefixed, pub...)

	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return "", fmt.Errorf("keys: multibase encode: %w", err)
	}
	return "did:key:" + encoded, nil
}

// PublicKeyFromDID decodes the Ed25519 public key embedded in a did:key DID.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, "did:key:") {
		return nil, &ErrInvalidDID{DID: did, Reason: "not a did:key DID"}
	}
	encoded := strings.TrimPrefix(did, "did:key:")

	_, decoded, err := multibase.Decode(encoded)
	if err != nil {
		return nil, &ErrInvalidDID{DID: did, Reason: "multibase decode failed"}
	}
	if len(decoded) < len(ed25519MulticodecPrefix) {
		return nil, &ErrInvalidDID{DID: did, Reason: "decoded bytes too short"}
	}
	for i, b := range ed25519MulticodecPrefix {
		if decoded[i] != b {
			return nil, &ErrInvalidDID{DID: did, Reason: "unexpected multicodec prefix"}
		}
	}
	rawKey := decoded[len(ed25519MulticodecPrefix):]
	if len(rawKey) != ed25519.PublicKeySize {
		return nil, &ErrInvalidDID{DID: did, Reason: fmt.Sprintf("expected %d key bytes, got %d", ed25519.PublicKeySize, len(rawKey))}
	}
	return ed25519.PublicKey(rawKey), nil
}

// Sign produces an Ed25519 signature over doc.
func Sign(priv ed25519.PrivateKey, doc []byte) []byte {
	return ed25519.Sign(priv, doc)
}

// Verifier checks a profile document signature against the key embedded
// in the signer's DID.
type Verifier interface {
	Verify(did string, doc, sig []byte) bool
}

// Ed25519Verifier verifies signatures using the public key recovered
// from a did:key DID. Non-did:key DIDs never verify.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(did string, doc, sig []byte) bool {
	pub, err := PublicKeyFromDID(did)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, doc, sig)
}

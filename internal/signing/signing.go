// Package signing provides the recoverable-signature capability used to
// authorize off-chain-priced payments.
//
// Callers only see Sign(digest) and Recover(digest, signature); the curve
// (secp256k1 compact signatures) is an implementation detail. An identity is
// derived from the signer's public key, so a verifier never needs a key registry:
// whoever can be recovered from a signature is the signer.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/roach88/packsale/internal/core"
)

// SignatureSize is the length of a compact recoverable signature.
const SignatureSize = 65

// ErrMalformedSignature is returned when a signature cannot be recovered.
var ErrMalformedSignature = errors.New("malformed signature")

// Signer signs 32-byte digests.
type Signer interface {
	Identity() core.Identity
	Sign(digest []byte) ([]byte, error)
}

// Verifier recovers the identity that produced a signature.
type Verifier interface {
	Recover(digest, signature []byte) (core.Identity, error)
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key *secp256k1.PrivateKey
	id  core.Identity
}

// NewKeySigner wraps a raw 32-byte private key.
func NewKeySigner(raw []byte) (*KeySigner, error) {
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	return &KeySigner{key: key, id: identityOf(key.PubKey())}, nil
}

// ParseKey decodes a hex private key, with or without a 0x prefix.
func ParseKey(s string) (*KeySigner, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return NewKeySigner(raw)
}

// GenerateKey creates a signer with a fresh random key.
func GenerateKey() (*KeySigner, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeySigner{key: key, id: identityOf(key.PubKey())}, nil
}

// Identity returns the address derived from the public key.
func (s *KeySigner) Identity() core.Identity {
	return s.id
}

// Sign produces a compact recoverable signature over a 32-byte digest.
func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	return ecdsa.SignCompact(s.key, digest, true), nil
}

// Hex returns the private key as hex, for writing key files.
func (s *KeySigner) Hex() string {
	return hex.EncodeToString(s.key.Serialize())
}

// Recoverer is the secp256k1 Verifier.
type Recoverer struct{}

// Recover returns the identity whose key produced signature over digest.
func (Recoverer) Recover(digest, signature []byte) (core.Identity, error) {
	if len(signature) != SignatureSize {
		return core.Zero, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, SignatureSize, len(signature))
	}
	pub, _, err := ecdsa.RecoverCompact(signature, digest)
	if err != nil {
		return core.Zero, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return identityOf(pub), nil
}

// identityOf derives "0x" + hex(sha256(compressed pubkey)[:20]).
func identityOf(pub *secp256k1.PublicKey) core.Identity {
	sum := sha256.Sum256(pub.SerializeCompressed())
	return core.Identity("0x" + hex.EncodeToString(sum[:20]))
}

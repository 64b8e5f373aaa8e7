package testutil

import (
	"crypto/sha256"
	"testing"

	"github.com/roach88/packsale/internal/signing"
)

// Key returns a deterministic signing key derived from name.
func Key(t testing.TB, name string) *signing.KeySigner {
	t.Helper()
	raw := sha256.Sum256([]byte("packsale/testkey/" + name))
	k, err := signing.NewKeySigner(raw[:])
	if err != nil {
		t.Fatalf("Key(%q): %v", name, err)
	}
	return k
}

// MustKey is Key for use outside tests, e.g. in scenario fixtures.
func MustKey(name string) *signing.KeySigner {
	raw := sha256.Sum256([]byte("packsale/testkey/" + name))
	k, err := signing.NewKeySigner(raw[:])
	if err != nil {
		panic(err)
	}
	return k
}

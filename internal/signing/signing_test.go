package signing

import (
	"crypto/sha256"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T, seed string) *KeySigner {
	t.Helper()
	raw := sha256.Sum256([]byte(seed))
	s, err := NewKeySigner(raw[:])
	require.NoError(t, err)
	return s
}

func TestSignRecover_RoundTrip(t *testing.T) {
	s := testSigner(t, "owner")
	digest := sha256.Sum256([]byte("order"))

	sig, err := s.Sign(digest[:])
	require.NoError(t, err)
	assert.Len(t, sig, SignatureSize)

	id, err := Recoverer{}.Recover(digest[:], sig)
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)
	assert.True(t, strings.HasPrefix(string(id), "0x"))
	assert.Len(t, string(id), 42)
}

func TestRecover_DifferentDigestYieldsDifferentIdentity(t *testing.T) {
	s := testSigner(t, "owner")
	digest := sha256.Sum256([]byte("order"))
	other := sha256.Sum256([]byte("tampered"))

	sig, err := s.Sign(digest[:])
	require.NoError(t, err)

	id, err := Recoverer{}.Recover(other[:], sig)
	if err == nil {
		assert.NotEqual(t, s.Identity(), id)
	}
}

func TestRecover_Malformed(t *testing.T) {
	digest := sha256.Sum256([]byte("order"))

	_, err := Recoverer{}.Recover(digest[:], []byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedSignature))

	_, err = Recoverer{}.Recover(digest[:], make([]byte, SignatureSize))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedSignature))
}

func TestSign_RejectsShortDigest(t *testing.T) {
	s := testSigner(t, "owner")
	_, err := s.Sign([]byte("short"))
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	s := testSigner(t, "owner")

	parsed, err := ParseKey("0x" + s.Hex())
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), parsed.Identity())

	_, err = ParseKey("zz")
	assert.Error(t, err)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

func TestGenerateKey_Distinct(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a.Identity(), b.Identity())
}

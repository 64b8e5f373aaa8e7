package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Errorf(KindAlreadyFulfilled, "pack.mint", "rare/0", "commitment fully minted")
	assert.Equal(t, "pack.mint: ALREADY_FULFILLED: commitment fully minted (rare/0)", err.Error())

	bare := &Error{Kind: KindPaused}
	assert.Equal(t, "PAUSED", bare.Error())
}

func TestError_IsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("engine: %w", Errorf(KindNonceReused, "payment.authorize", "nonce=7", "nonce already consumed"))

	assert.True(t, errors.Is(err, ErrNonceReused))
	assert.False(t, errors.Is(err, ErrInvalidSignature))
	assert.True(t, IsKind(err, KindNonceReused))
	assert.Equal(t, KindNonceReused, KindOf(err))
}

func TestKindOf_NonDomainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("disk full")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestCurrency_TextRoundTrip(t *testing.T) {
	for _, c := range []Currency{Native, StableCents} {
		b, err := c.MarshalText()
		assert.NoError(t, err)

		var got Currency
		assert.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, c, got)
	}

	var c Currency
	assert.Error(t, c.UnmarshalText([]byte("doubloons")))
}

func TestOrder_Due(t *testing.T) {
	o := Order{TotalPrice: 1000, AlreadyPaid: 250}
	assert.Equal(t, int64(750), o.Due())
}

func TestCommitment_Remaining(t *testing.T) {
	c := Commitment{ProductQuantity: 6, FulfilledCount: 5}
	assert.Equal(t, int64(1), c.Remaining())
	assert.False(t, c.Fulfilled())

	c.FulfilledCount = 6
	assert.True(t, c.Fulfilled())
}

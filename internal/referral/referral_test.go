package referral

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

func TestSplit_Apply(t *testing.T) {
	s := Default()

	seller, referrer := s.Apply(1000)
	assert.Equal(t, int64(900), seller)
	assert.Equal(t, int64(100), referrer)

	seller, referrer = s.Apply(7)
	assert.Equal(t, int64(7), seller+referrer)
	assert.Equal(t, int64(0), referrer)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(9000, 999)
	assert.Error(t, err)

	_, err = New(-1, 10001)
	assert.Error(t, err)

	s, err := New(8000, 2000)
	require.NoError(t, err)
	assert.Equal(t, Split{SellerBps: 8000, ReferrerBps: 2000}, s)
}

func TestDistribute(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	tests := []struct {
		name         string
		referrer     core.Identity
		wantSeller   int64
		wantReferrer int64
	}{
		{"no referrer", core.Zero, 1000, 0},
		{"self referral ignored", "0xbuyer", 1000, 0},
		{"referrer paid", "0xref", 900, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.WithTx(ctx, func(tx *store.Tx) error {
				seller := core.Identity("0xseller-" + tt.name)
				require.NoError(t, Default().Distribute(ctx, tx, Payout{
					Seller: seller, Referrer: tt.referrer, Buyer: "0xbuyer",
					Currency: core.Native, Amount: 1000, Ref: "rare/0",
				}))

				got, err := tx.Funds(ctx, seller, core.Native)
				require.NoError(t, err)
				assert.Equal(t, tt.wantSeller, got)

				if !tt.referrer.IsZero() {
					got, err := tx.Funds(ctx, tt.referrer, core.Native)
					require.NoError(t, err)
					assert.Equal(t, tt.wantReferrer, got)
				}
				return nil
			})
			require.NoError(t, err)
		})
	}
}

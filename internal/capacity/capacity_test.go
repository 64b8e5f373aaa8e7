package capacity

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

func setup(t *testing.T, capacity int64) (*store.Store, *Registry) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, st.WithTx(context.Background(), func(tx *store.Tx) error {
		if err := tx.EnsureCap(context.Background(), "s1", capacity); err != nil {
			return err
		}
		return r.SetCanUpdate(context.Background(), tx, []core.Identity{"0xrare", "0xepic"}, true)
	}))
	return st, r
}

func TestReserve(t *testing.T) {
	st, r := setup(t, 10)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		return r.Reserve(ctx, tx, "0xrare", "s1", 6)
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return r.Reserve(ctx, tx, "0xepic", "s1", 5)
	})
	assert.True(t, core.IsKind(err, core.KindCapExceeded), "got %v", err)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return r.Reserve(ctx, tx, "0xstranger", "s1", 1)
	})
	assert.True(t, core.IsKind(err, core.KindUnauthorized), "got %v", err)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return r.Reserve(ctx, tx, "0xrare", "missing", 1)
	})
	assert.True(t, core.IsKind(err, core.KindUnknownProduct), "got %v", err)

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		return r.Reserve(ctx, tx, "0xrare", "s1", 0)
	})
	assert.True(t, core.IsKind(err, core.KindInvalidQuantity), "got %v", err)

	require.NoError(t, st.View(ctx, func(tx *store.Tx) error {
		state, err := r.State(ctx, tx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(6), state.Issued)
		return nil
	}))
}

func TestReserve_RevokedUpdater(t *testing.T) {
	st, r := setup(t, 10)
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		return r.SetCanUpdate(ctx, tx, []core.Identity{"0xrare"}, false)
	}))

	err := st.WithTx(ctx, func(tx *store.Tx) error {
		return r.Reserve(ctx, tx, "0xrare", "s1", 1)
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestReserve_ConcurrentNeverExceedsCapacity(t *testing.T) {
	st, r := setup(t, 20)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)
	for i := 0; i < 16; i++ {
		updater := core.Identity("0xrare")
		if i%2 == 1 {
			updater = "0xepic"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithTx(ctx, func(tx *store.Tx) error {
				return r.Reserve(ctx, tx, updater, "s1", 3)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, core.IsKind(err, core.KindCapExceeded), "got %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(6), succeeded)
	require.NoError(t, st.View(ctx, func(tx *store.Tx) error {
		state, err := r.State(ctx, tx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(18), state.Issued)
		assert.LessOrEqual(t, state.Issued, state.Capacity)
		return nil
	}))
}

package migration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

func TestConsume(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	m := New("chimera", 100, slog.New(slog.NewTextHandler(io.Discard, nil)))

	consume := func(key int64) error {
		return st.WithTx(ctx, func(tx *store.Tx) error {
			return m.Consume(ctx, tx, key)
		})
	}

	err = consume(99)
	assert.ErrorIs(t, err, core.ErrBelowCutoff)

	require.NoError(t, consume(100))
	require.NoError(t, consume(250))

	err = consume(100)
	assert.ErrorIs(t, err, core.ErrAlreadyConsumed)
	assert.Contains(t, err.Error(), "chimera/100")

	// A rejected key leaves nothing behind.
	err = consume(99)
	assert.ErrorIs(t, err, core.ErrBelowCutoff)
}

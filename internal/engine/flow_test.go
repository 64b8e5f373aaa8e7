package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	token := UUIDv7Generator{}.Generate()

	parsed, err := uuid.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`, token)
}

func TestUUIDv7Generator_UniqueAcrossGoroutines(t *testing.T) {
	const workers, perWorker = 8, 200
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				tok := UUIDv7Generator{}.Generate()
				mu.Lock()
				seen[tok] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestEventID_Deterministic(t *testing.T) {
	a := EventID("flow-1", 7)
	assert.Equal(t, a, EventID("flow-1", 7))

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestEventID_DistinctPerFlowAndSeq(t *testing.T) {
	seen := map[string]bool{}
	for _, flow := range []string{"flow-1", "flow-2", "flow-1/1"} {
		for seq := int64(1); seq <= 3; seq++ {
			id := EventID(flow, seq)
			assert.False(t, seen[id], "collision for %s/%d", flow, seq)
			seen[id] = true
		}
	}
}

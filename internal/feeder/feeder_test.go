package feeder

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/forms-load-tests/internal/config"
)

func TestNew_EmptyList(t *testing.T) {
	for _, ids := range [][]string{nil, {}, {"", "  "}} {
		f, err := New(ids)
		assert.Nil(t, f)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrConfiguration)
	}
}

func TestNext_WrapsInOrder(t *testing.T) {
	f, err := New([]string{"8921", " 71 ", "33"})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, f.Next())
	}
	assert.Equal(t, []string{"8921", "71", "33", "8921", "71", "33", "8921"}, got)
	assert.Equal(t, 3, f.Len())
}

func TestNext_SingleID(t *testing.T) {
	f, err := New([]string{"1"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "1", f.Next())
	}
}

func TestNext_FairUnderConcurrency(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	f, err := New(ids)
	require.NoError(t, err)

	const workers = 16
	const perWorker = 250 // workers*perWorker is a multiple of len(ids)

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			local := make(map[string]int)
			for i := 0; i < perWorker; i++ {
				local[f.Next()]++
			}
			mu.Lock()
			for id, n := range local {
				counts[id] += n
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	want := workers * perWorker / len(ids)
	for _, id := range ids {
		assert.Equal(t, want, counts[id], "id %s", id)
	}
}

func TestIDs_ReturnsCopy(t *testing.T) {
	f, err := New([]string{"1", "2"})
	require.NoError(t, err)

	ids := f.IDs()
	ids[0] = "changed"
	assert.Equal(t, "1", f.Next())
}

package cmap_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concurrentmap/cmap/pkg/cmap"
)

func Test_ForEachEntry_Visits_Every_Live_Entry_Exactly_Once(t *testing.T) {
	t.Parallel()

	st, err := cmap.Create(cmap.Options{Segments: 4, EntriesPerSegment: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	const n = 1000
	want := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val := []byte(fmt.Sprintf("val-%04d", i))
		want[string(key)] = val

		ctx, qerr := st.Query(key, cmap.LockWrite)
		require.NoError(t, qerr)
		require.NoError(t, ctx.AbsentEntry().Insert(cmap.BytesWriter(val)))
		require.NoError(t, ctx.Close())
	}

	visited := make(map[string][]byte, n)
	err = st.ForEachEntry(func(e cmap.VisitedEntry) {
		visited[string(e.Key)] = append([]byte(nil), e.Value...)
	})
	require.NoError(t, err)

	assert.Len(t, visited, n, "every inserted entry present at scan start should be visited exactly once")
	for k, v := range want {
		assert.Equal(t, v, visited[k], "key %q", k)
	}
}

func Test_ForEachEntryWhile_Stops_Early_When_Visitor_Returns_False(t *testing.T) {
	t.Parallel()

	st, err := cmap.Create(cmap.Options{Segments: 1, EntriesPerSegment: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		ctx, qerr := st.Query(key, cmap.LockWrite)
		require.NoError(t, qerr)
		require.NoError(t, ctx.AbsentEntry().Insert(cmap.BytesWriter(key)))
		require.NoError(t, ctx.Close())
	}

	var seen int
	err = st.ForEachEntryWhile(func(e cmap.VisitedEntry) bool {
		seen++
		return seen < 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen, "iteration should stop as soon as the visitor returns false")
}

func Test_ForEachEntry_Does_Not_Duplicate_Or_Skip_Under_Concurrent_Segment_Inserts(t *testing.T) {
	t.Parallel()

	st, err := cmap.Create(cmap.Options{Segments: 16, EntriesPerSegment: 256})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	const initial = 200
	baseline := make(map[string]struct{}, initial)
	for i := 0; i < initial; i++ {
		key := []byte(fmt.Sprintf("base-%04d", i))
		baseline[string(key)] = struct{}{}
		ctx, qerr := st.Query(key, cmap.LockWrite)
		require.NoError(t, qerr)
		require.NoError(t, ctx.AbsentEntry().Insert(cmap.BytesWriter(key)))
		require.NoError(t, ctx.Close())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			key := []byte(fmt.Sprintf("extra-%04d", i))
			ctx, qerr := st.Query(key, cmap.LockWrite)
			if qerr != nil {
				return
			}
			if a := ctx.AbsentEntry(); a != nil {
				_ = a.Insert(cmap.BytesWriter(key))
			}
			_ = ctx.Close()
		}
	}()

	counts := make(map[string]int)
	var mu sync.Mutex
	err = st.ForEachEntry(func(e cmap.VisitedEntry) {
		mu.Lock()
		counts[string(e.Key)]++
		mu.Unlock()
	})
	require.NoError(t, err)
	wg.Wait()

	for k := range baseline {
		assert.LessOrEqualf(t, counts[k], 1, "entry %q must not be visited more than once", k)
		assert.GreaterOrEqualf(t, counts[k], 1, "entry %q present before the scan began must not be skipped", k)
	}
	for k, c := range counts {
		assert.LessOrEqualf(t, c, 1, "entry %q visited more than once", k)
	}
}

func Test_Len_Reflects_Inserts_And_Removes(t *testing.T) {
	t.Parallel()

	st, err := cmap.Create(cmap.Options{Segments: 2, EntriesPerSegment: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	assert.EqualValues(t, 0, st.Len())

	ctx, err := st.Query([]byte("a"), cmap.LockWrite)
	require.NoError(t, err)
	require.NoError(t, ctx.AbsentEntry().Insert(cmap.BytesWriter([]byte("1"))))
	require.NoError(t, ctx.Close())
	assert.EqualValues(t, 1, st.Len())

	ctx, err = st.Query([]byte("a"), cmap.LockWrite)
	require.NoError(t, err)
	require.NoError(t, ctx.Remove())
	require.NoError(t, ctx.Close())
	assert.EqualValues(t, 0, st.Len())
}

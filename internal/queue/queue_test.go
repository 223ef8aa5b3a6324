package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueIsIdempotentAndOrdered(t *testing.T) {
	q := New()
	assert.Equal(t, 1, q.Enqueue("a"))
	assert.Equal(t, 2, q.Enqueue("b"))
	assert.Equal(t, 1, q.Enqueue("a"))
	assert.Equal(t, 3, q.Enqueue("c"))
	assert.Equal(t, 3, q.Len())

	pos, err := q.PositionOf("b")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestTiesBreakByInsertionOrder(t *testing.T) {
	q := New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return at }
	q.Enqueue("first")
	q.Enqueue("second")

	id, ok := q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "first", id)
}

func TestRestoreOrdersByEnqueueTime(t *testing.T) {
	q := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Restore("late", base.Add(2*time.Minute))
	q.Restore("early", base)
	q.Restore("middle", base.Add(time.Minute))

	snap := q.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "early", snap[0].SessionID)
	assert.Equal(t, "middle", snap[1].SessionID)
	assert.Equal(t, "late", snap[2].SessionID)
	assert.Equal(t, 3, snap[2].Position)
}

func TestDequeueAndPositionsShift(t *testing.T) {
	q := New()
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	id, ok := q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "a", id)

	_, err := q.PositionOf("a")
	assert.ErrorIs(t, err, ErrNotQueued)
	pos, err := q.PositionOf("c")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	q.Remove("b")
	q.Remove("missing")
	pos, err = q.PositionOf("c")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestDequeueEmpty(t *testing.T) {
	q := New()
	id, ok := q.DequeueNext()
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestTake(t *testing.T) {
	q := New()
	q.Enqueue("a")
	q.Enqueue("b")
	assert.True(t, q.Take("b"))
	assert.False(t, q.Take("b"))
	assert.Equal(t, 1, q.Len())
}

func TestQuarantineSkipsEntry(t *testing.T) {
	q := New()
	q.Enqueue("bad")
	q.Enqueue("good")

	require.True(t, q.Quarantine("bad"))
	assert.Equal(t, 1, q.Len())
	_, err := q.PositionOf("bad")
	assert.ErrorIs(t, err, ErrNotQueued)
	pos, err := q.PositionOf("good")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.False(t, q.Take("bad"))

	id, ok := q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "good", id)
	_, ok = q.DequeueNext()
	assert.False(t, ok)

	require.True(t, q.Release("bad"))
	id, ok = q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "bad", id)
}

func TestClaimKeepsPositionUntilTaken(t *testing.T) {
	q := New()
	q.Enqueue("a")
	q.Enqueue("b")

	id, ok := q.Claim()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.True(t, q.Claimed("a"))

	pos, err := q.PositionOf("a")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2, q.Len())
	assert.True(t, q.Snapshot()[0].Claimed)

	id, ok = q.Claim()
	require.True(t, ok)
	assert.Equal(t, "b", id)
	_, ok = q.Claim()
	assert.False(t, ok)
	_, ok = q.DequeueNext()
	assert.False(t, ok)

	require.True(t, q.Unclaim("b"))
	assert.False(t, q.Unclaim("b"))
	assert.True(t, q.Take("a"))
	assert.False(t, q.Claimed("a"))
	pos, err = q.PositionOf("b")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestQuarantineDropsClaim(t *testing.T) {
	q := New()
	q.Enqueue("a")
	_, ok := q.Claim()
	require.True(t, ok)
	require.True(t, q.Quarantine("a"))
	assert.False(t, q.Claimed("a"))
	require.True(t, q.Release("a"))
	assert.False(t, q.Release("a"))

	id, ok := q.Claim()
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestConcurrentDequeueHandsOutEachSessionOnce(t *testing.T) {
	q := New()
	const n = 200
	for i := 0; i < n; i++ {
		q.Enqueue(fmt.Sprintf("s-%d", i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok := q.DequeueNext()
				if !ok {
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
}

package registry

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkInvariants asserts symmetry and queue consistency on the raw tables.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.queue))
	for _, id := range r.queue {
		require.False(t, seen[id], "duplicate %s in queue", id)
		seen[id] = true
		p, ok := r.peers[id]
		require.True(t, ok, "queued peer %s not registered", id)
		require.Equal(t, StateWaiting, p.state, "queued peer %s", id)
	}
	for id, p := range r.peers {
		switch p.state {
		case StateWaiting:
			require.True(t, seen[id], "waiting peer %s missing from queue", id)
		case StatePaired:
			require.NotEqual(t, id, p.partner, "peer %s paired with itself", id)
			partner, ok := r.peers[p.partner]
			require.True(t, ok, "partner %s of %s missing", p.partner, id)
			require.Equal(t, StatePaired, partner.state)
			require.Equal(t, id, partner.partner)
			require.Equal(t, p.room, partner.room)
		case StateIdle:
			require.Empty(t, p.partner)
			require.Empty(t, p.room)
		}
	}
}

func pair(r *Registry, a, b, room string) {
	r.Update(func(tx *Txn) { tx.Pair(a, b, room) })
}

func dequeue(r *Registry) (first, second string, ok bool) {
	r.Update(func(tx *Txn) { first, second, ok = tx.DequeueTwoOldest() })
	return first, second, ok
}

func TestRegister(t *testing.T) {
	r := New()
	assert.True(t, r.Register("a"))
	require.NoError(t, r.EnqueueWaiting("a"))

	// A duplicate register must not reset the existing state.
	assert.False(t, r.Register("a"))
	p, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, StateWaiting, p.State)
	checkInvariants(t, r)
}

func TestEnqueueWaiting(t *testing.T) {
	r := New()
	r.Register("a")
	r.Register("b")
	r.Register("c")

	require.NoError(t, r.EnqueueWaiting("a"))
	assert.ErrorIs(t, r.EnqueueWaiting("a"), ErrAlreadyWaitingOrPaired)
	assert.ErrorIs(t, r.EnqueueWaiting("nobody"), ErrUnknownPeer)

	require.NoError(t, r.EnqueueWaiting("b"))
	first, second, ok := dequeue(r)
	require.True(t, ok)
	pair(r, first, second, "room-1")
	assert.ErrorIs(t, r.EnqueueWaiting("b"), ErrAlreadyWaitingOrPaired)

	require.NoError(t, r.EnqueueWaiting("c"))
	assert.Equal(t, 1, r.Stats().Waiting)
	checkInvariants(t, r)
}

func TestDequeueTwoOldestIsFIFO(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		r.Register(id)
		require.NoError(t, r.EnqueueWaiting(id))
	}

	first, second, ok := dequeue(r)
	require.True(t, ok)
	assert.Equal(t, "a", first)
	assert.Equal(t, "b", second)
	pair(r, first, second, "room-ab")

	first, second, ok = dequeue(r)
	require.True(t, ok)
	assert.Equal(t, "c", first)
	assert.Equal(t, "d", second)
	pair(r, first, second, "room-cd")

	_, _, ok = dequeue(r)
	assert.False(t, ok)
	checkInvariants(t, r)
}

func TestDequeueTwoOldestNeedsTwo(t *testing.T) {
	r := New()
	r.Register("a")
	require.NoError(t, r.EnqueueWaiting("a"))

	_, _, ok := dequeue(r)
	assert.False(t, ok)

	p, _ := r.Lookup("a")
	assert.Equal(t, StateWaiting, p.State)
	checkInvariants(t, r)
}

func TestPairIsSymmetric(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New()
	r.now = func() time.Time { return at }
	r.Register("a")
	r.Register("b")
	pair(r, "a", "b", "room-1")

	pa, _ := r.Lookup("a")
	pb, _ := r.Lookup("b")
	assert.Equal(t, Peer{ID: "a", State: StatePaired, PartnerID: "b", RoomID: "room-1", PairedAt: at}, pa)
	assert.Equal(t, Peer{ID: "b", State: StatePaired, PartnerID: "a", RoomID: "room-1", PairedAt: at}, pb)
	checkInvariants(t, r)
}

func TestPairPanicsOnInvalidPeers(t *testing.T) {
	r := New()
	r.Register("a")
	r.Register("b")
	r.Register("c")
	pair(r, "a", "b", "room-1")

	assert.Panics(t, func() { pair(r, "c", "c", "room-2") })
	assert.Panics(t, func() { pair(r, "a", "c", "room-2") })
	assert.Panics(t, func() { pair(r, "c", "ghost", "room-2") })
	assert.Panics(t, func() { pair(r, "c", "d", "") })

	require.NoError(t, r.EnqueueWaiting("c"))
	r.Register("d")
	assert.Panics(t, func() { pair(r, "c", "d", "room-3") })
}

func TestUnlink(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		r.Register(id)
	}
	pair(r, "a", "b", "room-1")
	require.NoError(t, r.EnqueueWaiting("c"))

	u, ok := r.Unlink("a")
	require.True(t, ok)
	assert.Equal(t, "b", u.PartnerID)
	assert.Equal(t, "room-1", u.RoomID)
	assert.False(t, u.PairedAt.IsZero())
	for _, id := range []string{"a", "b"} {
		p, _ := r.Lookup(id)
		assert.Equal(t, StateIdle, p.State, id)
	}

	// Second unlink is a no-op.
	_, ok = r.Unlink("a")
	assert.False(t, ok)
	_, ok = r.Unlink("b")
	assert.False(t, ok)

	// Waiting peers leave the queue without reporting a partner.
	_, ok = r.Unlink("c")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Stats().Waiting)

	_, ok = r.Unlink("ghost")
	assert.False(t, ok)
	checkInvariants(t, r)
}

func TestRemove(t *testing.T) {
	r := New()
	r.Register("a")
	r.Register("b")
	pair(r, "a", "b", "room-1")

	u, ok := r.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "b", u.PartnerID)
	assert.False(t, r.Known("a"))
	assert.True(t, r.Known("b"))

	_, ok = r.Remove("a")
	assert.False(t, ok)
	checkInvariants(t, r)
}

func TestRemoveFromMiddleOfQueue(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		r.Register(id)
		require.NoError(t, r.EnqueueWaiting(id))
	}
	r.Remove("b")
	checkInvariants(t, r)

	first, second, ok := dequeue(r)
	require.True(t, ok)
	assert.Equal(t, "a", first)
	assert.Equal(t, "c", second)
}

func TestCountOthersAvailable(t *testing.T) {
	r := New()
	r.Register("a")
	assert.Equal(t, 0, r.CountOthersAvailable("a"))

	r.Register("b")
	assert.Equal(t, 0, r.CountOthersAvailable("a"), "idle peers are not available")

	pair(r, "a", "b", "room-1")
	assert.Equal(t, 1, r.CountOthersAvailable("a"), "own partner counts")
	assert.Equal(t, 1, r.CountOthersAvailable("b"))

	r.Register("c")
	r.Register("d")
	pair(r, "c", "d", "room-2")
	assert.Equal(t, 2, r.CountOthersAvailable("a"), "a pair counts once")

	r.Register("e")
	require.NoError(t, r.EnqueueWaiting("e"))
	assert.Equal(t, 3, r.CountOthersAvailable("a"))
	assert.Equal(t, 2, r.CountOthersAvailable("e"))
}

func TestStats(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		r.Register(id)
	}
	pair(r, "a", "b", "room-1")
	require.NoError(t, r.EnqueueWaiting("c"))

	assert.Equal(t, Stats{Online: 4, Idle: 1, Waiting: 1, Sessions: 1}, r.Stats())
}

func TestConcurrentOperationsKeepInvariants(t *testing.T) {
	r := New()
	const peers = 64

	var wg sync.WaitGroup
	for i := 0; i < peers; i++ {
		id := fmt.Sprintf("peer-%d", i)
		wg.Add(1)
		go func(id string, seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			r.Register(id)
			for j := 0; j < 200; j++ {
				switch rng.Intn(4) {
				case 0, 1:
					r.Update(func(tx *Txn) {
						if err := tx.EnqueueWaiting(id); err != nil {
							return
						}
						if a, b, ok := tx.DequeueTwoOldest(); ok {
							tx.Pair(a, b, fmt.Sprintf("room-%s-%s", a, b))
						}
					})
				case 2:
					r.Unlink(id)
				case 3:
					r.Remove(id)
					r.Register(id)
				}
			}
		}(id, int64(i))
	}
	wg.Wait()

	checkInvariants(t, r)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "paired", StatePaired.String())
	assert.Equal(t, "state(9)", State(9).String())
}

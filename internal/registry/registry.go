package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrUnknownPeer            = errors.New("unknown peer")
	ErrAlreadyWaitingOrPaired = errors.New("already waiting or in a chat")
)

// State is the matchmaking state of a single peer.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePaired:
		return "paired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Peer is a snapshot of one connected client. PartnerID and RoomID are only
// set while State is StatePaired.
type Peer struct {
	ID        string
	State     State
	PartnerID string
	RoomID    string
	PairedAt  time.Time
}

// Unlinked describes a pairing that was torn down.
type Unlinked struct {
	PartnerID string
	RoomID    string
	PairedAt  time.Time
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Online   int `json:"online"`
	Idle     int `json:"idle"`
	Waiting  int `json:"waiting"`
	Sessions int `json:"sessions"`
}

type peer struct {
	state   State
	partner string
	room    string
	since   time.Time
}

func (p *peer) reset() {
	p.state, p.partner, p.room, p.since = StateIdle, "", "", time.Time{}
}

// Registry is the single source of truth for peer state and the waiting
// queue. Every method runs under one mutex; multi-step units go through
// Update so that callers never see an intermediate state. DequeueTwoOldest
// and Pair exist only on Txn because a dequeued peer must be paired in the
// same critical section.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*peer
	queue []string
	now   func() time.Time
}

func New() *Registry {
	return &Registry{
		peers: make(map[string]*peer),
		now:   time.Now,
	}
}

// Txn is the view of the registry handed to Update callbacks. It must not be
// retained after the callback returns.
type Txn struct {
	r *Registry
}

// Update runs fn with the registry locked.
func (r *Registry) Update(fn func(tx *Txn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&Txn{r: r})
}

func (r *Registry) Register(id string) bool {
	var added bool
	r.Update(func(tx *Txn) { added = tx.Register(id) })
	return added
}

func (r *Registry) EnqueueWaiting(id string) error {
	var err error
	r.Update(func(tx *Txn) { err = tx.EnqueueWaiting(id) })
	return err
}

func (r *Registry) Unlink(id string) (Unlinked, bool) {
	var (
		u  Unlinked
		ok bool
	)
	r.Update(func(tx *Txn) { u, ok = tx.Unlink(id) })
	return u, ok
}

func (r *Registry) Remove(id string) (Unlinked, bool) {
	var (
		u  Unlinked
		ok bool
	)
	r.Update(func(tx *Txn) { u, ok = tx.Remove(id) })
	return u, ok
}

func (r *Registry) CountOthersAvailable(excluding string) int {
	var n int
	r.Update(func(tx *Txn) { n = tx.CountOthersAvailable(excluding) })
	return n
}

func (r *Registry) Known(id string) bool {
	var ok bool
	r.Update(func(tx *Txn) { ok = tx.Known(id) })
	return ok
}

func (r *Registry) Lookup(id string) (Peer, bool) {
	var (
		p  Peer
		ok bool
	)
	r.Update(func(tx *Txn) { p, ok = tx.Lookup(id) })
	return p, ok
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{Online: len(r.peers), Waiting: len(r.queue)}
	paired := 0
	for _, p := range r.peers {
		switch p.state {
		case StateIdle:
			st.Idle++
		case StatePaired:
			paired++
		}
	}
	st.Sessions = paired / 2
	return st
}

// Register inserts id as an Idle peer. It returns false and leaves the
// existing entry untouched if id is already known.
func (tx *Txn) Register(id string) bool {
	if _, exists := tx.r.peers[id]; exists {
		return false
	}
	tx.r.peers[id] = &peer{state: StateIdle}
	return true
}

func (tx *Txn) Known(id string) bool {
	_, ok := tx.r.peers[id]
	return ok
}

func (tx *Txn) Lookup(id string) (Peer, bool) {
	p, ok := tx.r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return Peer{ID: id, State: p.state, PartnerID: p.partner, RoomID: p.room, PairedAt: p.since}, true
}

// EnqueueWaiting moves an Idle peer to the tail of the waiting queue.
func (tx *Txn) EnqueueWaiting(id string) error {
	p, ok := tx.r.peers[id]
	if !ok {
		return fmt.Errorf("enqueue %s: %w", id, ErrUnknownPeer)
	}
	if p.state != StateIdle {
		return fmt.Errorf("enqueue %s: %w", id, ErrAlreadyWaitingOrPaired)
	}
	p.state = StateWaiting
	tx.r.queue = append(tx.r.queue, id)
	return nil
}

// DequeueTwoOldest pops the two longest-waiting peers. Both are left Idle
// and are expected to be paired before the enclosing Update returns.
func (tx *Txn) DequeueTwoOldest() (first, second string, ok bool) {
	if len(tx.r.queue) < 2 {
		return "", "", false
	}
	first, second = tx.r.queue[0], tx.r.queue[1]
	tx.r.queue[0], tx.r.queue[1] = "", ""
	tx.r.queue = tx.r.queue[2:]
	tx.r.peers[first].state = StateIdle
	tx.r.peers[second].state = StateIdle
	return first, second, true
}

// Pair links two Idle peers into room. Any other precondition is a caller
// bug and panics rather than leaving the table asymmetric.
func (tx *Txn) Pair(a, b, room string) {
	if a == b {
		panic(fmt.Sprintf("registry: pair %s with itself", a))
	}
	pa, okA := tx.r.peers[a]
	pb, okB := tx.r.peers[b]
	if !okA || !okB {
		panic(fmt.Sprintf("registry: pair unknown peer (%s known=%t, %s known=%t)", a, okA, b, okB))
	}
	if pa.state != StateIdle || pb.state != StateIdle {
		panic(fmt.Sprintf("registry: pair %s (%s) with %s (%s)", a, pa.state, b, pb.state))
	}
	if room == "" {
		panic("registry: pair with empty room id")
	}
	now := tx.r.now()
	pa.state, pa.partner, pa.room, pa.since = StatePaired, b, room, now
	pb.state, pb.partner, pb.room, pb.since = StatePaired, a, room, now
}

// Unlink returns id to Idle. For a paired peer the partner is also returned
// to Idle and reported; waiting, idle and unknown peers report nothing.
func (tx *Txn) Unlink(id string) (Unlinked, bool) {
	p, ok := tx.r.peers[id]
	if !ok {
		return Unlinked{}, false
	}

	switch p.state {
	case StateWaiting:
		tx.removeFromQueue(id)
		p.state = StateIdle
		return Unlinked{}, false
	case StatePaired:
		u := Unlinked{PartnerID: p.partner, RoomID: p.room, PairedAt: p.since}
		if partner, ok := tx.r.peers[p.partner]; ok {
			partner.reset()
		}
		p.reset()
		return u, true
	default:
		return Unlinked{}, false
	}
}

// Remove unlinks id and forgets it.
func (tx *Txn) Remove(id string) (Unlinked, bool) {
	u, ok := tx.Unlink(id)
	delete(tx.r.peers, id)
	return u, ok
}

// CountOthersAvailable counts the peers other than excluding that are
// waiting or paired, each pair once. The partner of excluding counts as its
// own pair.
func (tx *Txn) CountOthersAvailable(excluding string) int {
	n := 0
	for _, id := range tx.r.queue {
		if id != excluding {
			n++
		}
	}
	paired, partner := 0, 0
	for id, p := range tx.r.peers {
		if p.state != StatePaired || id == excluding {
			continue
		}
		if p.partner == excluding {
			partner = 1
			continue
		}
		paired++
	}
	return n + paired/2 + partner
}

func (tx *Txn) removeFromQueue(id string) {
	q := tx.r.queue
	for i, queued := range q {
		if queued == id {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = ""
			tx.r.queue = q[:len(q)-1]
			return
		}
	}
}

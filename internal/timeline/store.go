package timeline

import (
	"sync"
	"time"
)

// Direction selects the query window for Query.
type Direction string

const (
	DirectionTail  Direction = "tail"
	DirectionAfter Direction = "after"
)

// Projection selects how in-flight tool_call updates are collapsed.
type Projection string

const (
	ProjectionRaw       Projection = "raw"
	ProjectionProjected Projection = "projected"
)

// QueryOptions parameterizes Store.Query.
type QueryOptions struct {
	Direction  Direction
	Cursor     Cursor
	Limit      int
	Projection Projection
}

// QueryResult is the result of Store.Query.
type QueryResult struct {
	Entries     []Entry
	Truncated   bool
	EpochBumped bool
	NextCursor  Cursor
}

// subscriber receives every Entry appended after it was registered.
type subscriber struct {
	ch chan Entry
}

// Store is a single agent's append-only timeline: one writer (the turn
// loop), many readers taking immutable cursor-addressed snapshots.
type Store struct {
	mu               sync.RWMutex
	entries          []Entry
	epoch            int
	seq              int
	maxItemsPerEpoch int
	truncated        bool
	subs             map[*subscriber]struct{}
}

// NewStore creates an empty, in-memory timeline store. maxItemsPerEpoch
// bounds the number of retained entries, counted across all epochs; the
// oldest are dropped first and Truncated is set. 0 disables rotation.
func NewStore(maxItemsPerEpoch int) *Store {
	return &Store{
		maxItemsPerEpoch: maxItemsPerEpoch,
		subs:             make(map[*subscriber]struct{}),
	}
}

// Append writes item at the next seq in the current epoch and fans it out to
// live subscribers. Returns the assigned cursor.
func (s *Store) Append(item Item) Cursor {
	s.mu.Lock()
	s.seq++
	cursor := Cursor{Epoch: s.epoch, Seq: s.seq}
	entry := Entry{Cursor: cursor, Item: item, CreatedAt: time.Now().UTC()}
	s.entries = append(s.entries, entry)

	if s.maxItemsPerEpoch > 0 && len(s.entries) > s.maxItemsPerEpoch {
		drop := len(s.entries) - s.maxItemsPerEpoch
		s.entries = s.entries[drop:]
		s.truncated = true
	}

	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- entry:
		default:
			// slow subscriber: drop rather than block the single writer.
		}
	}

	return cursor
}

// BumpEpoch resets seq to 0 and increments epoch, used on provider
// rehydration after a crash. Returns the new epoch.
func (s *Store) BumpEpoch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.seq = 0
	s.truncated = false
	return s.epoch
}

// Cursor returns the current high-water-mark cursor.
func (s *Store) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Cursor{Epoch: s.epoch, Seq: s.seq}
}

// Query implements the tail/after query contract of spec §4.2.
func (s *Store) Query(opts QueryOptions) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Entry
	epochBumped := false

	switch opts.Direction {
	case DirectionTail:
		n := opts.Limit
		if n <= 0 || n > len(s.entries) {
			n = len(s.entries)
		}
		result = append(result, s.entries[len(s.entries)-n:]...)

	case DirectionAfter:
		priorEpoch := opts.Cursor.Epoch != s.epoch
		if priorEpoch {
			epochBumped = true
		}
		for _, e := range s.entries {
			// A cursor from a prior epoch is satisfied by every entry in
			// the current epoch; a same-epoch cursor only by later seqs.
			if priorEpoch {
				if e.Cursor.Epoch != s.epoch {
					continue
				}
			} else if !opts.Cursor.Less(e.Cursor) {
				continue
			}
			result = append(result, e)
			if opts.Limit > 0 && len(result) >= opts.Limit {
				break
			}
		}
	}

	if opts.Projection == ProjectionProjected {
		result = project(result)
	}

	next := Cursor{Epoch: s.epoch, Seq: s.seq}
	if len(result) > 0 {
		next = result[len(result)-1].Cursor
	}

	return QueryResult{
		Entries:     result,
		Truncated:   s.truncated,
		EpochBumped: epochBumped,
		NextCursor:  next,
	}
}

// project collapses in-flight tool_call updates into their latest state per
// callId, preserving the position of the item's first occurrence.
func project(entries []Entry) []Entry {
	latest := make(map[string]int) // callId -> index in out
	out := make([]Entry, 0, len(entries))

	for _, e := range entries {
		if e.Item.Type != ItemToolCall || e.Item.CallID == "" {
			out = append(out, e)
			continue
		}
		if idx, ok := latest[e.Item.CallID]; ok {
			out[idx] = e
			continue
		}
		latest[e.Item.CallID] = len(out)
		out = append(out, e)
	}
	return out
}

// Subscribe returns a channel of every Entry appended after this call, and
// an unsubscribe function. The channel is closed by Unsubscribe only.
// Append delivers with a non-blocking send, so an entry is dropped for a
// subscriber whose 64-entry buffer is full.
func (s *Store) Subscribe() (<-chan Entry, func()) {
	sub := &subscriber{ch: make(chan Entry, 64)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, unsubscribe
}

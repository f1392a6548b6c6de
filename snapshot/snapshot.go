package snapshot

import (
	"sort"
	"time"
)

// Snapshot is an immutable, timestamped view of register words.
//
// A Snapshot obtained from a Store is never modified afterwards and may be
// shared between goroutines without synchronisation.
type Snapshot struct {
	words     map[int]uint16
	timestamp time.Time
	version   uint64
}

var empty = &Snapshot{words: map[int]uint16{}}

// Empty returns the snapshot every Store starts with.
func Empty() *Snapshot {
	return empty
}

// Word returns the word stored at addr.
func (s *Snapshot) Word(addr int) (uint16, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.words[addr]
	return v, ok
}

// Words returns count consecutive words starting at start. The result is
// all-or-nothing: if any address is missing the second return is false.
func (s *Snapshot) Words(start, count int) ([]uint16, bool) {
	if s == nil || count < 1 {
		return nil, false
	}
	out := make([]uint16, count)
	for i := range out {
		v, ok := s.words[start+i]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Timestamp returns the time the snapshot was published. It is zero for the
// initial empty snapshot.
func (s *Snapshot) Timestamp() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.timestamp
}

// Version counts successful commits on the owning Store.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// Len returns the number of populated addresses.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}

// Addresses returns the populated addresses in ascending order.
func (s *Snapshot) Addresses() []int {
	if s == nil {
		return nil
	}
	out := make([]int, 0, len(s.words))
	for addr := range s.words {
		out = append(out, addr)
	}
	sort.Ints(out)
	return out
}

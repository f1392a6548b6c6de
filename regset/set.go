package regset

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConfiguration marks invalid static declarations such as a non-positive
// maximum range length or a malformed address set.
var ErrConfiguration = errors.New("configuration error")

// Range is a contiguous block of register addresses.
type Range struct {
	Start  int
	Length int
}

// End returns the last address covered by the range.
func (r Range) End() int {
	return r.Start + r.Length - 1
}

// Contains reports whether addr lies inside the range.
func (r Range) Contains(addr int) bool {
	return addr >= r.Start && addr <= r.End()
}

func (r Range) String() string {
	if r.Length == 1 {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End())
}

// AddressSet is an unordered, deduplicated set of register addresses.
//
// Sets are built once per device type by chaining Add, AddRange and Union.
// Malformed input (negative addresses, non-positive lengths) is recorded and
// reported by Validate instead of failing the builder chain.
type AddressSet struct {
	addrs map[int]struct{}
	errs  []string
}

// NewAddressSet builds a set holding the supplied scalar addresses.
func NewAddressSet(addrs ...int) *AddressSet {
	s := &AddressSet{addrs: make(map[int]struct{}, len(addrs))}
	return s.Add(addrs...)
}

// Add inserts scalar addresses.
func (s *AddressSet) Add(addrs ...int) *AddressSet {
	if s.addrs == nil {
		s.addrs = make(map[int]struct{}, len(addrs))
	}
	for _, addr := range addrs {
		if addr < 0 {
			s.errs = append(s.errs, fmt.Sprintf("negative address %d", addr))
			continue
		}
		s.addrs[addr] = struct{}{}
	}
	return s
}

// AddRange inserts length consecutive addresses starting at start.
func (s *AddressSet) AddRange(start, length int) *AddressSet {
	if start < 0 || length < 1 {
		s.errs = append(s.errs, fmt.Sprintf("invalid range start=%d length=%d", start, length))
		return s
	}
	if s.addrs == nil {
		s.addrs = make(map[int]struct{}, length)
	}
	for addr := start; addr < start+length; addr++ {
		s.addrs[addr] = struct{}{}
	}
	return s
}

// AddRanges inserts every address covered by ranges.
func (s *AddressSet) AddRanges(ranges ...Range) *AddressSet {
	for _, r := range ranges {
		s.AddRange(r.Start, r.Length)
	}
	return s
}

// Union inserts all addresses of other into s.
func (s *AddressSet) Union(other *AddressSet) *AddressSet {
	if other == nil {
		return s
	}
	if s.addrs == nil {
		s.addrs = make(map[int]struct{}, len(other.addrs))
	}
	for addr := range other.addrs {
		s.addrs[addr] = struct{}{}
	}
	s.errs = append(s.errs, other.errs...)
	return s
}

// Contains reports whether addr is a member.
func (s *AddressSet) Contains(addr int) bool {
	if s == nil {
		return false
	}
	_, ok := s.addrs[addr]
	return ok
}

// Len returns the number of distinct addresses.
func (s *AddressSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.addrs)
}

// Sorted returns the members in ascending order.
func (s *AddressSet) Sorted() []int {
	if s == nil || len(s.addrs) == 0 {
		return nil
	}
	out := make([]int, 0, len(s.addrs))
	for addr := range s.addrs {
		out = append(out, addr)
	}
	sort.Ints(out)
	return out
}

// Validate reports malformed declarations collected while building the set.
func (s *AddressSet) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: address set is nil", ErrConfiguration)
	}
	if len(s.errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(s.errs, "; "))
	}
	return nil
}

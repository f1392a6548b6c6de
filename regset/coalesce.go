package regset

import "fmt"

// Mode selects how an address set is turned into read ranges.
type Mode int

const (
	// ModeReduceRequests bridges gaps to issue as few reads as possible.
	ModeReduceRequests Mode = iota
	// ModeStrict reads exactly the requested addresses and nothing else.
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeReduceRequests:
		return "reduce_requests"
	case ModeStrict:
		return "strict"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode normalises the textual representation of a planning mode.
func ParseMode(value string) (Mode, error) {
	switch value {
	case "", "reduce_requests", "combine", "gap_bridging":
		return ModeReduceRequests, nil
	case "strict", "covering":
		return ModeStrict, nil
	default:
		return 0, fmt.Errorf("%w: unknown planning mode %q", ErrConfiguration, value)
	}
}

// Plan turns set into read ranges of at most maxLength words using mode.
func Plan(set *AddressSet, mode Mode, maxLength int) ([]Range, error) {
	switch mode {
	case ModeReduceRequests:
		return CombineToReduceSize(set, maxLength)
	case ModeStrict:
		return CoveringRanges(set, maxLength)
	default:
		return nil, fmt.Errorf("%w: unsupported planning mode %s", ErrConfiguration, mode)
	}
}

// CombineToReduceSize coalesces set into ascending ranges of at most
// maxLength words, bridging holes between addresses whenever the resulting
// span still fits. Addresses inside a bridged hole are read even though they
// were not requested.
//
// The walk is a single left-to-right greedy pass: a range is closed only when
// the next address would push its span past maxLength. It is a local
// heuristic and makes no claim of producing the global minimum for other cost
// models (for example one that also charges for bridged words).
func CombineToReduceSize(set *AddressSet, maxLength int) ([]Range, error) {
	return CombineWithMaxGap(set, maxLength, -1)
}

// CombineWithMaxGap behaves like CombineToReduceSize but never bridges a hole
// of more than maxGap unrequested words. A negative maxGap disables the limit.
func CombineWithMaxGap(set *AddressSet, maxLength, maxGap int) ([]Range, error) {
	addrs, err := prepare(set, maxLength)
	if err != nil || len(addrs) == 0 {
		return nil, err
	}
	out := make([]Range, 0)
	start, end := addrs[0], addrs[0]
	for _, addr := range addrs[1:] {
		gap := addr - end - 1
		if addr-start+1 > maxLength || (maxGap >= 0 && gap > maxGap) {
			out = append(out, Range{Start: start, Length: end - start + 1})
			start = addr
		}
		end = addr
	}
	out = append(out, Range{Start: start, Length: end - start + 1})
	return out, nil
}

// CoveringRanges partitions set into its maximal gap-free runs and splits any
// run longer than maxLength into consecutive chunks. The union of the result
// is exactly set.
func CoveringRanges(set *AddressSet, maxLength int) ([]Range, error) {
	addrs, err := prepare(set, maxLength)
	if err != nil || len(addrs) == 0 {
		return nil, err
	}
	out := make([]Range, 0)
	start, end := addrs[0], addrs[0]
	for _, addr := range addrs[1:] {
		if addr == end+1 {
			end = addr
			continue
		}
		out = appendChunks(out, start, end, maxLength)
		start, end = addr, addr
	}
	return appendChunks(out, start, end, maxLength), nil
}

func appendChunks(out []Range, start, end, maxLength int) []Range {
	for start <= end {
		length := end - start + 1
		if length > maxLength {
			length = maxLength
		}
		out = append(out, Range{Start: start, Length: length})
		start += length
	}
	return out
}

func prepare(set *AddressSet, maxLength int) ([]int, error) {
	if maxLength < 1 {
		return nil, fmt.Errorf("%w: maximum range length must be >0, got %d", ErrConfiguration, maxLength)
	}
	if set == nil {
		return nil, nil
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set.Sorted(), nil
}

// Covers reports whether every address of set lies inside one of ranges.
func Covers(ranges []Range, set *AddressSet) bool {
	for _, addr := range set.Sorted() {
		found := false
		for _, r := range ranges {
			if r.Contains(addr) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

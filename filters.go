package cansocket

import "fmt"

// Frame predicates for user-space routing (see Mux) and kernel-side
// receive filters (see Socket.SetFilters).

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByIDs returns a filter that matches any of the provided identifiers.
func ByIDs(ids ...uint32) FrameFilter {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(f Frame) bool {
		_, ok := set[f.ID]
		return ok
	}
}

// ByRange matches frames whose ID is within [minID, maxID], inclusive.
func ByRange(minID, maxID uint32) FrameFilter {
	if maxID < minID {
		minID, maxID = maxID, minID
	}
	return func(f Frame) bool { return f.ID >= minID && f.ID <= maxID }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// StandardOnly matches standard (11-bit) identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// ExtendedOnly matches extended (29-bit) identifiers.
func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// RTROnly matches remote transmission request frames.
func RTROnly() FrameFilter {
	return func(f Frame) bool { return f.RTR }
}

// LenAtMost matches frames with data length <= n.
func LenAtMost(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len <= n }
}

// LenExactly matches frames with data length == n.
func LenExactly(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len == n }
}

// And composes two filters; the result matches when both match.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) && b(f) }
	}
}

// Or composes two filters; the result matches when either matches.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) || b(f) }
	}
}

// Not inverts a filter.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(Frame) bool { return true }
	}
	return func(f Frame) bool { return !a(f) }
}

// Masks for kernel receive filters.
const (
	// Exact compares every identifier bit plus the EFF and RTR flags.
	Exact uint32 = ^FlagERR
	// All accepts any identifier.
	All uint32 = 0
)

// Filter is a kernel-side receive filter (struct can_filter). A frame with raw
// identifier r is accepted when r&Mask == ID&Mask, or the opposite when
// Inverted is set.
type Filter struct {
	ID       uint32
	Mask     uint32
	Inverted bool
}

var (
	// FilterAny accepts every frame.
	FilterAny = Filter{ID: 0, Mask: All}
	// FilterNone rejects every frame.
	FilterNone = Filter{ID: 0, Mask: All, Inverted: true}
)

// ExactFilter returns a filter accepting only the given raw identifier.
func ExactFilter(raw uint32) Filter {
	return Filter{ID: raw, Mask: Exact}
}

// Match applies the filter the same way the kernel does.
func (f Filter) Match(raw uint32) bool {
	ok := f.ID&f.Mask == raw&f.Mask
	if f.Inverted {
		return !ok
	}
	return ok
}

// FrameFilter exposes the kernel filter as a user-space predicate.
func (f Filter) FrameFilter() FrameFilter {
	return func(fr Frame) bool { return f.Match(fr.RawID()) }
}

// kernelID returns the can_filter.can_id value including CAN_INV_FILTER.
func (f Filter) kernelID() uint32 {
	if f.Inverted {
		return f.ID | FlagERR
	}
	return f.ID &^ FlagERR
}

func (f Filter) String() string {
	inv := ""
	if f.Inverted {
		inv = "~"
	}
	return fmt.Sprintf("%s%08X:%08X", inv, f.ID, f.Mask)
}

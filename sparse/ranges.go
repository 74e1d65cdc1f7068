package sparse

import "sort"

////////////////////////////////////////////////////////////////////////////////

// Extent is a half-open byte range [Offset, Offset+Length).
type Extent struct {
	Offset uint64
	Length uint64
}

// End returns the exclusive end of the extent.
func (e Extent) End() uint64 { return e.Offset + e.Length }

// Empty reports whether the extent covers zero bytes.
func (e Extent) Empty() bool { return e.Length == 0 }

////////////////////////////////////////////////////////////////////////////////

// normalizeRanges sorts ranges by offset and merges overlapping or
// touching extents, producing the "sorted, non-overlapping" sequence the
// Stream.StoredRanges contract requires.
func normalizeRanges(ranges []Extent) []Extent {
	filtered := make([]Extent, 0, len(ranges))
	for _, r := range ranges {
		if !r.Empty() {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Offset < filtered[j].Offset
	})

	merged := make([]Extent, 0, len(filtered))
	cur := filtered[0]
	for _, r := range filtered[1:] {
		if r.Offset <= cur.End() {
			if r.End() > cur.End() {
				cur.Length = r.End() - cur.Offset
			}
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	return merged
}

////////////////////////////////////////////////////////////////////////////////

// clipToWindow returns the portion of each range in ranges that overlaps
// window, clipped to window's bounds. ranges must already be sorted and
// non-overlapping.
func clipToWindow(ranges []Extent, window Extent) []Extent {
	var out []Extent
	for _, r := range ranges {
		start := max64(r.Offset, window.Offset)
		end := min64(r.End(), window.End())
		if start < end {
			out = append(out, Extent{Offset: start, Length: end - start})
		}
	}
	return out
}

// subtractRanges returns a minus b: the portions of a not covered by any
// range in b. Both inputs must be sorted and non-overlapping.
func subtractRanges(a []Extent, b []Extent) []Extent {
	var out []Extent
	for _, ra := range a {
		cur := ra
		for _, rb := range b {
			if rb.End() <= cur.Offset || rb.Offset >= cur.End() {
				continue
			}
			if rb.Offset > cur.Offset {
				out = append(out, Extent{Offset: cur.Offset, Length: rb.Offset - cur.Offset})
			}
			if rb.End() > cur.Offset {
				cur.Offset = rb.End()
				if cur.Offset >= cur.End() {
					cur.Length = 0
					break
				}
				cur.Length = ra.End() - cur.Offset
			}
		}
		if cur.Length > 0 {
			out = append(out, cur)
		}
	}
	return out
}

// unionRanges merges two already-normalized range lists into one
// normalized list.
func unionRanges(a, b []Extent) []Extent {
	combined := make([]Extent, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return normalizeRanges(combined)
}

////////////////////////////////////////////////////////////////////////////////

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

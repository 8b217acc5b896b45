// ABOUTME: Byte-range bookkeeping for partially cached streams
// ABOUTME: Maintains a sorted, coalesced set of [start, end) intervals
package cachestore

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ByteRange is a half-open interval [Start, End) of stream bytes.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes covered by the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

// Contains reports whether [start, end) falls entirely inside r.
func (r ByteRange) Contains(start, end int64) bool {
	return start >= r.Start && end <= r.End
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// RangeSet tracks which byte ranges of a stream are present on disk.
// Ranges are kept sorted by Start, non-overlapping and non-adjacent:
// touching or overlapping inserts are coalesced into one range.
type RangeSet struct {
	ranges []ByteRange
}

// Insert adds [start, end) to the set, merging with any ranges it
// overlaps or touches. Empty and inverted intervals are ignored.
func (s *RangeSet) Insert(start, end int64) {
	if end <= start {
		return
	}

	// Find the first range that could merge with the new one.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End >= start
	})

	merged := ByteRange{Start: start, End: end}
	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= end {
		if s.ranges[j].Start < merged.Start {
			merged.Start = s.ranges[j].Start
		}
		if s.ranges[j].End > merged.End {
			merged.End = s.ranges[j].End
		}
		j++
	}

	out := make([]ByteRange, 0, len(s.ranges)-(j-i)+1)
	out = append(out, s.ranges[:i]...)
	out = append(out, merged)
	out = append(out, s.ranges[j:]...)
	s.ranges = out
}

// Covered reports whether every byte of [start, end) is in the set.
func (s *RangeSet) Covered(start, end int64) bool {
	if end <= start {
		return true
	}
	for _, r := range s.ranges {
		if r.Contains(start, end) {
			return true
		}
	}
	return false
}

// Missing returns the sub-intervals of [start, end) not present in the
// set, in ascending order. These are the gaps a fetcher must fill.
func (s *RangeSet) Missing(start, end int64) []ByteRange {
	if end <= start {
		return nil
	}

	var gaps []ByteRange
	pos := start
	for _, r := range s.ranges {
		if r.End <= pos {
			continue
		}
		if r.Start >= end {
			break
		}
		if r.Start > pos {
			gaps = append(gaps, ByteRange{Start: pos, End: r.Start})
		}
		if r.End > pos {
			pos = r.End
		}
	}
	if pos < end {
		gaps = append(gaps, ByteRange{Start: pos, End: end})
	}
	return gaps
}

// Total returns the number of bytes covered by the whole set.
func (s *RangeSet) Total() int64 {
	var n int64
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Ranges returns a copy of the covered intervals in ascending order.
func (s *RangeSet) Ranges() []ByteRange {
	out := make([]ByteRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// MarshalJSON flattens the set to its interval list.
func (s RangeSet) MarshalJSON() ([]byte, error) {
	if s.ranges == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ranges)
}

// UnmarshalJSON rebuilds the set through Insert so a hand-edited or
// corrupted index still yields a valid sorted, coalesced set.
func (s *RangeSet) UnmarshalJSON(data []byte) error {
	var ranges []ByteRange
	if err := json.Unmarshal(data, &ranges); err != nil {
		return err
	}
	s.ranges = nil
	for _, r := range ranges {
		s.Insert(r.Start, r.End)
	}
	return nil
}

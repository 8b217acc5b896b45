// ABOUTME: Tests for the byte-range interval set
// ABOUTME: Verifies coalescing, coverage queries, and gap computation
package cachestore

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRangeSetInsertCoalesces(t *testing.T) {
	tests := []struct {
		name    string
		inserts [][2]int64
		want    []ByteRange
	}{
		{
			name:    "disjoint stay separate",
			inserts: [][2]int64{{0, 10}, {20, 30}},
			want:    []ByteRange{{0, 10}, {20, 30}},
		},
		{
			name:    "overlapping merge",
			inserts: [][2]int64{{0, 10}, {5, 15}},
			want:    []ByteRange{{0, 15}},
		},
		{
			name:    "adjacent merge",
			inserts: [][2]int64{{0, 10}, {10, 20}},
			want:    []ByteRange{{0, 20}},
		},
		{
			name:    "bridge three into one",
			inserts: [][2]int64{{0, 10}, {20, 30}, {8, 22}},
			want:    []ByteRange{{0, 30}},
		},
		{
			name:    "contained no-op",
			inserts: [][2]int64{{0, 100}, {40, 60}},
			want:    []ByteRange{{0, 100}},
		},
		{
			name:    "out of order inserts sort",
			inserts: [][2]int64{{50, 60}, {0, 10}, {30, 40}},
			want:    []ByteRange{{0, 10}, {30, 40}, {50, 60}},
		},
		{
			name:    "empty interval ignored",
			inserts: [][2]int64{{0, 10}, {5, 5}, {8, 3}},
			want:    []ByteRange{{0, 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s RangeSet
			for _, in := range tt.inserts {
				s.Insert(in[0], in[1])
			}
			if got := s.Ranges(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Ranges() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRangeSetCovered(t *testing.T) {
	var s RangeSet
	s.Insert(0, 100)
	s.Insert(200, 300)

	tests := []struct {
		start, end int64
		want       bool
	}{
		{0, 100, true},
		{10, 90, true},
		{0, 101, false},
		{150, 160, false},
		{200, 300, true},
		{90, 210, false}, // spans the gap
		{50, 50, true},   // empty range is trivially covered
	}

	for _, tt := range tests {
		if got := s.Covered(tt.start, tt.end); got != tt.want {
			t.Errorf("Covered(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestRangeSetMissing(t *testing.T) {
	var s RangeSet
	s.Insert(10, 20)
	s.Insert(30, 40)

	tests := []struct {
		name       string
		start, end int64
		want       []ByteRange
	}{
		{"before everything", 0, 5, []ByteRange{{0, 5}}},
		{"straddles first", 5, 15, []ByteRange{{5, 10}}},
		{"gap between", 15, 35, []ByteRange{{20, 30}}},
		{"whole window", 0, 50, []ByteRange{{0, 10}, {20, 30}, {40, 50}}},
		{"fully covered", 12, 18, nil},
		{"empty window", 10, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Missing(tt.start, tt.end); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Missing(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestRangeSetTotal(t *testing.T) {
	var s RangeSet
	s.Insert(0, 10)
	s.Insert(20, 25)
	if got := s.Total(); got != 15 {
		t.Errorf("Total() = %d, want 15", got)
	}
}

func TestRangeSetJSONRoundTrip(t *testing.T) {
	var s RangeSet
	s.Insert(0, 10)
	s.Insert(20, 30)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	var back RangeSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back.Ranges(), s.Ranges()) {
		t.Errorf("round trip = %v, want %v", back.Ranges(), s.Ranges())
	}
}

func TestRangeSetJSONRebuildsFromOverlaps(t *testing.T) {
	raw := `[{"start":5,"end":15},{"start":0,"end":10}]`
	var s RangeSet
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatal(err)
	}
	want := []ByteRange{{0, 15}}
	if got := s.Ranges(); !reflect.DeepEqual(got, want) {
		t.Errorf("Ranges() = %v, want %v", got, want)
	}
}

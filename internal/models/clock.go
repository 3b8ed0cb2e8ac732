package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tarungka/monsoon/internal/utils"
)

// Clock names a consistent cut of the input stream: one offset per spout
// partition. Clocks form a join-semilattice under pointwise maximum.
type Clock map[string]uint64

// EmptyClock returns the bottom element of the clock lattice.
func EmptyClock() Clock {
	return Clock{}
}

// Copy returns a deep copy of the clock.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for p, o := range c {
		out[p] = o
	}
	return out
}

// Join returns the pointwise maximum of c and other.
func (c Clock) Join(other Clock) Clock {
	out := c.Copy()
	for p, o := range other {
		if cur, ok := out[p]; !ok || o > cur {
			out[p] = o
		}
	}
	return out
}

// Equal reports pointwise equality.
func (c Clock) Equal(other Clock) bool {
	if len(c) != len(other) {
		return false
	}
	for p, o := range c {
		oo, ok := other[p]
		if !ok || oo != o {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the clock carries no offsets.
func (c Clock) IsEmpty() bool {
	return len(c) == 0
}

// Covers reports whether the clock has exactly one entry per given partition.
func (c Clock) Covers(partitions []string) bool {
	if len(c) != len(partitions) {
		return false
	}
	for _, p := range partitions {
		if _, ok := c[p]; !ok {
			return false
		}
	}
	return true
}

// AtOrBefore reports whether every offset in c is <= the corresponding offset
// in cut. Partitions absent from cut count as beyond it.
func (c Clock) AtOrBefore(cut Clock) bool {
	for p, o := range c {
		co, ok := cut[p]
		if !ok || o > co {
			return false
		}
	}
	return true
}

// Beyond reports whether some offset in c is > the corresponding offset in
// cut. A payload whose clock is beyond the cut must not be folded into a
// snapshot taken at that cut.
func (c Clock) Beyond(cut Clock) bool {
	return !c.AtOrBefore(cut)
}

// Canonical returns a stable textual rendering, partitions in lexicographic
// order. Used as part of snapshot store keys.
func (c Clock) Canonical() string {
	parts := make([]string, 0, len(c))
	for p := range c {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%d", p, c[p])
	}
	return sb.String()
}

func (c Clock) String() string {
	return "{" + c.Canonical() + "}"
}

// MarshalClock encodes a clock for the wire.
func MarshalClock(c Clock) ([]byte, error) {
	buf, err := utils.EncodeMsgPack(map[string]uint64(c))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalClock decodes a clock encoded by MarshalClock.
func UnmarshalClock(b []byte) (Clock, error) {
	var m map[string]uint64
	if err := utils.DecodeMsgPack(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]uint64{}
	}
	return Clock(m), nil
}

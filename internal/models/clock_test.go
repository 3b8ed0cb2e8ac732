package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockJoinPointwiseMax(t *testing.T) {
	a := Clock{"p0": 10, "p1": 5}
	b := Clock{"p0": 7, "p1": 9, "p2": 1}
	j := a.Join(b)
	require.Equal(t, Clock{"p0": 10, "p1": 9, "p2": 1}, j)
	// join is commutative
	require.True(t, j.Equal(b.Join(a)))
	// join is idempotent
	require.True(t, j.Equal(j.Join(j)))
}

func TestClockEqual(t *testing.T) {
	require.True(t, Clock{"p0": 1}.Equal(Clock{"p0": 1}))
	require.False(t, Clock{"p0": 1}.Equal(Clock{"p0": 2}))
	require.False(t, Clock{"p0": 1}.Equal(Clock{"p0": 1, "p1": 1}))
	require.True(t, EmptyClock().Equal(Clock{}))
}

func TestClockCovers(t *testing.T) {
	c := Clock{"p0": 1, "p1": 2}
	require.True(t, c.Covers([]string{"p0", "p1"}))
	require.False(t, c.Covers([]string{"p0"}))
	require.False(t, c.Covers([]string{"p0", "p1", "p2"}))
	require.False(t, Clock{"p0": 1, "px": 2}.Covers([]string{"p0", "p1"}))
}

func TestClockAtOrBeforeAndBeyond(t *testing.T) {
	cut := Clock{"p0": 10, "p1": 20}
	require.True(t, Clock{"p0": 10}.AtOrBefore(cut))
	require.True(t, Clock{"p0": 9, "p1": 20}.AtOrBefore(cut))
	require.False(t, Clock{"p0": 11}.AtOrBefore(cut))
	require.False(t, Clock{"p2": 1}.AtOrBefore(cut))

	require.True(t, Clock{"p0": 11}.Beyond(cut))
	require.False(t, Clock{"p0": 10, "p1": 20}.Beyond(cut))
}

func TestClockCanonicalOrdersPartitions(t *testing.T) {
	c := Clock{"pb": 2, "pa": 1, "pc": 3}
	require.Equal(t, "pa=1,pb=2,pc=3", c.Canonical())
}

func TestClockCopyIsDeep(t *testing.T) {
	a := Clock{"p0": 1}
	b := a.Copy()
	b["p0"] = 99
	require.Equal(t, uint64(1), a["p0"])
}

func TestClockRoundTrip(t *testing.T) {
	for _, c := range []Clock{
		EmptyClock(),
		{"p0": 0},
		{"p0": 73},
		{"p0": 1, "p1": 1 << 40},
	} {
		b, err := MarshalClock(c)
		require.NoError(t, err)
		got, err := UnmarshalClock(b)
		require.NoError(t, err)
		require.True(t, c.Equal(got), "round trip of %s", c)
	}
}

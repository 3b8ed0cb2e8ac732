package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessorStateRoundTrip(t *testing.T) {
	c := Clock{"p0": 73}
	states := []ProcessorState{
		UnspecifiedState{},
		SpoutRunning{},
		SpoutPaused{Partition: "p0", Offset: 73},
		BoltRunning{},
		BoltLoaded{Clock: c},
		BoltLoaded{Clock: EmptyClock()},
		BoltSaved{Clock: c},
		SinkRunning{},
	}
	for _, st := range states {
		b, err := MarshalProcessorState(st)
		require.NoError(t, err)
		got, err := UnmarshalProcessorState(b)
		require.NoError(t, err)
		require.Equal(t, st.String(), got.String())
	}
}

func TestMasterStateRoundTrip(t *testing.T) {
	c := Clock{"p0": 73, "p1": 12}
	states := []MasterState{
		Unavailable{},
		Initialization{},
		SpoutsRewind{Clock: c},
		SpoutsRewind{Clock: EmptyClock()},
		SpoutsPaused{},
		Flowing{},
		Flowing{Snapshot: &c},
	}
	for _, st := range states {
		b, err := MarshalMasterState(st)
		require.NoError(t, err)
		got, err := UnmarshalMasterState(b)
		require.NoError(t, err)
		require.Equal(t, st.String(), got.String())
	}
}

func TestFlowingNothingVsJust(t *testing.T) {
	b, err := MarshalMasterState(Flowing{})
	require.NoError(t, err)
	got, err := UnmarshalMasterState(b)
	require.NoError(t, err)
	require.Nil(t, got.(Flowing).Snapshot)

	c := Clock{"p0": 1}
	b, err = MarshalMasterState(Flowing{Snapshot: &c})
	require.NoError(t, err)
	got, err = UnmarshalMasterState(b)
	require.NoError(t, err)
	require.NotNil(t, got.(Flowing).Snapshot)
	require.True(t, got.(Flowing).Snapshot.Equal(c))
}

func TestUnmarshalMalformedStates(t *testing.T) {
	_, err := UnmarshalProcessorState(nil)
	require.ErrorIs(t, err, ErrMalformedState)
	_, err = UnmarshalProcessorState([]byte{0xff})
	require.ErrorIs(t, err, ErrMalformedState)
	_, err = UnmarshalProcessorState([]byte{tagSpoutPaused, 0xc1}) // 0xc1 is never valid msgpack
	require.ErrorIs(t, err, ErrMalformedState)

	_, err = UnmarshalMasterState(nil)
	require.ErrorIs(t, err, ErrMalformedState)
	_, err = UnmarshalMasterState([]byte{0x7f})
	require.ErrorIs(t, err, ErrMalformedState)
}

func TestSpoutPausedCarriesPartitionAndOffset(t *testing.T) {
	b, err := MarshalProcessorState(SpoutPaused{Partition: "topic-3", Offset: 9001})
	require.NoError(t, err)
	got, err := UnmarshalProcessorState(b)
	require.NoError(t, err)
	paused := got.(SpoutPaused)
	require.Equal(t, "topic-3", paused.Partition)
	require.Equal(t, uint64(9001), paused.Offset)
}

func TestProcessorIdRoundTrip(t *testing.T) {
	for _, id := range []ProcessorId{
		{Name: "src", Instance: 0},
		{Name: "agg", Instance: 12},
		{Name: "word-count", Instance: 3},
		NegotiatorId(),
	} {
		parsed, err := ParseProcessorId(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}
}

func TestParseProcessorIdRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "noinstance", "-0", "name-", "name-x"} {
		_, err := ParseProcessorId(s)
		require.Error(t, err, "input %q", s)
	}
}

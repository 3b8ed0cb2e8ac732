package coord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterEphemeralCAS(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	s1 := mem.NewSession()
	s2 := mem.NewSession()

	require.NoError(t, s1.RegisterEphemeral(ctx, "/living_processors/src-0", []byte("a")))
	err := s2.RegisterEphemeral(ctx, "/living_processors/src-0", []byte("b"))
	require.ErrorIs(t, err, ErrNodeExists)
}

func TestEphemeralVanishesOnSessionEnd(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	owner := mem.NewSession()
	observer := mem.NewSession()

	require.NoError(t, owner.RegisterEphemeral(ctx, "/living_processors/src-0", []byte("a")))
	children, err := observer.Children(ctx, "/living_processors")
	require.NoError(t, err)
	require.Len(t, children, 1)

	ch, err := observer.WatchChildren(ctx, "/living_processors")
	require.NoError(t, err)

	owner.Expire()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("children watch did not fire on session expiry")
	}
	children, err = observer.Children(ctx, "/living_processors")
	require.NoError(t, err)
	require.Empty(t, children)
}

func TestPersistentSurvivesSessionEnd(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	creator := mem.NewSession()
	require.NoError(t, creator.CreatePersistent(ctx, "/master_state", []byte{0}))
	creator.Close()

	other := mem.NewSession()
	data, _, err := other.Get(ctx, "/master_state")
	require.NoError(t, err)
	require.Equal(t, []byte{0}, data)
}

func TestCreatePersistentIdempotenceIsCallerChoice(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	s := mem.NewSession()
	require.NoError(t, s.CreatePersistent(ctx, "/master_state", []byte{0}))
	require.ErrorIs(t, s.CreatePersistent(ctx, "/master_state", []byte{1}), ErrNodeExists)
	// the original value is preserved
	data, _, err := s.Get(ctx, "/master_state")
	require.NoError(t, err)
	require.Equal(t, []byte{0}, data)
}

func TestSetGetAndVersions(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	s := mem.NewSession()

	_, err := s.Set(ctx, "/missing", []byte("x"))
	require.ErrorIs(t, err, ErrNoNode)
	_, _, err = s.Get(ctx, "/missing")
	require.ErrorIs(t, err, ErrNoNode)

	require.NoError(t, s.CreatePersistent(ctx, "/node", []byte("v1")))
	stat, err := s.Set(ctx, "/node", []byte("v2"))
	require.NoError(t, err)
	require.Greater(t, stat.Version, int64(1))

	data, _, err := s.Get(ctx, "/node")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), data)
}

func TestWatchDataCoalesces(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	writer := mem.NewSession()
	reader := mem.NewSession()

	require.NoError(t, writer.CreatePersistent(ctx, "/master_state", []byte{0}))
	ch, err := reader.WatchData(ctx, "/master_state")
	require.NoError(t, err)

	for i := byte(1); i <= 5; i++ {
		_, err := writer.Set(ctx, "/master_state", []byte{i})
		require.NoError(t, err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("data watch did not fire")
	}
	// After the (possibly coalesced) notification, a re-read sees the
	// latest value.
	data, _, err := reader.Get(ctx, "/master_state")
	require.NoError(t, err)
	require.Equal(t, []byte{5}, data)
}

func TestChildrenListsDirectOnly(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	s := mem.NewSession()
	require.NoError(t, s.CreatePersistent(ctx, "/a/x", []byte("1")))
	require.NoError(t, s.CreatePersistent(ctx, "/a/y", []byte("2")))
	require.NoError(t, s.CreatePersistent(ctx, "/a/y/z", []byte("3")))

	children, err := s.Children(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, []byte("1"), children["x"])
	require.Equal(t, []byte("2"), children["y"])
}

func TestExpiredSessionRefusesCalls(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	s := mem.NewSession()
	s.Expire()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after expiry")
	}
	require.ErrorIs(t, s.RegisterEphemeral(ctx, "/x", nil), ErrSessionExpired)
	_, _, err := s.Get(ctx, "/x")
	require.ErrorIs(t, err, ErrSessionExpired)
}

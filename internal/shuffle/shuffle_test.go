package shuffle

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/topology"
)

func startListener(t *testing.T) (*Listener, topology.Addr, context.CancelFunc) {
	t.Helper()
	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Serve(ctx)

	tcpAddr := l.Addr().(*net.TCPAddr)
	addr := topology.Addr{Host: "127.0.0.1", Port: tcpAddr.Port}
	t.Cleanup(func() {
		cancel()
		l.Close()
	})
	return l, addr, cancel
}

func collect(t *testing.T, l *Listener, n int) []Delivery {
	t.Helper()
	out := make([]Delivery, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case d := <-l.Deliveries():
			out = append(out, d)
		case <-timeout:
			t.Fatalf("timed out after %d of %d deliveries", len(out), n)
		}
	}
	return out
}

func TestSendReceiveRoundTrip(t *testing.T) {
	l, addr, _ := startListener(t)
	pool := NewPool()
	defer pool.Close()

	want := models.Payload{Tuple: []byte("word\t7"), Clock: models.Clock{"p0": 7}}
	require.NoError(t, pool.Send(addr, want))

	got := collect(t, l, 1)[0]
	require.Equal(t, want.Tuple, got.Payload.Tuple)
	require.True(t, want.Clock.Equal(got.Payload.Clock))
}

// FIFO per (upstream, downstream) pair: one pool connection delivers in
// send order and keeps a single connection id.
func TestFIFOAndConnectionReuse(t *testing.T) {
	l, addr, _ := startListener(t)
	pool := NewPool()
	defer pool.Close()

	const n = 200
	for i := 0; i < n; i++ {
		p := models.Payload{
			Tuple: []byte(fmt.Sprintf("t\t%d", i)),
			Clock: models.Clock{"p0": uint64(i + 1)},
		}
		require.NoError(t, pool.Send(addr, p))
	}

	got := collect(t, l, n)
	connID := got[0].Conn
	for i, d := range got {
		require.Equal(t, connID, d.Conn, "pooled sends must reuse one connection")
		require.Equal(t, uint64(i+1), d.Payload.Clock["p0"], "delivery out of order")
	}
}

func TestMarkersTravelInBand(t *testing.T) {
	l, addr, _ := startListener(t)
	pool := NewPool()
	defer pool.Close()

	cut := models.Clock{"p0": 3}
	require.NoError(t, pool.Send(addr, models.Payload{Tuple: []byte("a\t1"), Clock: models.Clock{"p0": 3}}))
	require.NoError(t, pool.Send(addr, models.Marker(cut)))
	require.NoError(t, pool.Send(addr, models.Payload{Tuple: []byte("b\t1"), Clock: models.Clock{"p0": 4}}))

	got := collect(t, l, 3)
	require.False(t, got[0].Payload.IsMarker())
	require.True(t, got[1].Payload.IsMarker())
	require.True(t, got[1].Payload.Clock.Equal(cut))
	require.False(t, got[2].Payload.IsMarker())
}

// Two upstream pools are two connections: the listener tags them apart.
func TestDistinctUpstreamsDistinctConns(t *testing.T) {
	l, addr, _ := startListener(t)
	p1 := NewPool()
	defer p1.Close()
	p2 := NewPool()
	defer p2.Close()

	require.NoError(t, p1.Send(addr, models.Payload{Tuple: []byte("one"), Clock: models.Clock{}}))
	require.NoError(t, p2.Send(addr, models.Payload{Tuple: []byte("two"), Clock: models.Clock{}}))

	got := collect(t, l, 2)
	require.NotEqual(t, got[0].Conn, got[1].Conn)
}

func TestSendEvictsDeadConnection(t *testing.T) {
	l, addr, cancel := startListener(t)
	pool := NewPool()
	defer pool.Close()

	require.NoError(t, pool.Send(addr, models.Payload{Tuple: []byte("x"), Clock: models.Clock{}}))
	collect(t, l, 1)

	cancel()
	l.Close()
	// The dead connection may take a send or two to surface; the pool must
	// eventually report the failure instead of silently dropping.
	var err error
	for i := 0; i < 10; i++ {
		err = pool.Send(addr, models.Payload{Tuple: []byte("y"), Clock: models.Clock{}})
		if err != nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.Error(t, err)
}

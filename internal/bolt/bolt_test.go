package bolt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tarungka/monsoon/internal/cluster"
	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/shuffle"
	"github.com/tarungka/monsoon/internal/snapshot"
	"github.com/tarungka/monsoon/internal/topology"
	"github.com/tarungka/monsoon/internal/utils"
)

// twoUpstreamTopology has two spout instances feeding one bolt, so the bolt
// aligns cuts across two marker-bearing connections.
func twoUpstreamTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.New(map[string]topology.ProcessorSpec{
		"src": {Kind: topology.KindSpout, Parallelism: 2, Downstreams: []string{"agg"}, Partitions: []string{"p0", "p1"}},
		"agg": {Kind: topology.KindBolt, Parallelism: 1},
	}, map[models.ProcessorId]topology.Addr{
		{Name: "src", Instance: 0}: {Host: "127.0.0.1", Port: 7980},
		{Name: "src", Instance: 1}: {Host: "127.0.0.1", Port: 7981},
		{Name: "agg", Instance: 0}: {Host: "127.0.0.1", Port: 7982},
	})
	require.NoError(t, err)
	return topo
}

type boltHarness struct {
	mem        *coord.MemStore
	writer     *coord.MemSession
	deliveries chan shuffle.Delivery
	snaps      snapshot.Store
	id         models.ProcessorId
	errCh      chan error
}

func startBolt(ctx context.Context, t *testing.T) *boltHarness {
	t.Helper()
	h := &boltHarness{
		mem:        coord.NewMemStore(),
		deliveries: make(chan shuffle.Delivery, 64),
		id:         models.ProcessorId{Name: "agg", Instance: 0},
		errCh:      make(chan error, 1),
	}
	h.writer = h.mem.NewSession()
	require.NoError(t, cluster.InitMasterState(context.Background(), h.writer))

	snaps, err := snapshot.New(&snapshot.Config{Backend: "badgerdb", Dir: ""})
	require.NoError(t, err)
	t.Cleanup(func() { snaps.Close() })
	h.snaps = snaps

	session := h.mem.NewSession()
	data, err := models.MarshalProcessorState(models.UnspecifiedState{})
	require.NoError(t, err)
	require.NoError(t, session.RegisterEphemeral(ctx, cluster.ProcessorPath(h.id), data))

	b := New(h.id, twoUpstreamTopology(t), session, snaps, NewCountFormula(), h.deliveries, shuffle.NewPool())
	go func() {
		h.errCh <- b.Run(ctx)
	}()
	return h
}

func (h *boltHarness) state(t *testing.T) models.ProcessorState {
	t.Helper()
	states, err := cluster.GetAllProcessorStates(context.Background(), h.writer)
	require.NoError(t, err)
	return states[h.id]
}

func (h *boltHarness) waitState(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.state(t)
		return st != nil && st.String() == want
	}, 5*time.Second, 5*time.Millisecond, "waiting for %s", want)
}

func (h *boltHarness) deliver(conn uint64, tuple string, clock models.Clock) {
	h.deliveries <- shuffle.Delivery{
		Payload: models.Payload{Tuple: []byte(tuple), Clock: clock},
		Conn:    conn,
	}
}

func (h *boltHarness) deliverMarker(conn uint64, cut models.Clock) {
	h.deliveries <- shuffle.Delivery{Payload: models.Marker(cut), Conn: conn}
}

func (h *boltHarness) counts(t *testing.T, cut models.Clock) map[string]uint64 {
	t.Helper()
	state, err := h.snaps.Load(h.id, cut)
	require.NoError(t, err)
	var counts map[string]uint64
	require.NoError(t, utils.DecodeMsgPack(state, &counts))
	return counts
}

func TestBoltLoadsEmptyAtStartup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startBolt(ctx, t)
	h.waitState(t, models.BoltLoaded{Clock: models.EmptyClock()}.String())
}

func TestBoltAlignsCutAcrossUpstreams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startBolt(ctx, t)
	h.waitState(t, models.BoltLoaded{Clock: models.EmptyClock()}.String())

	cut := models.Clock{"p0": 2, "p1": 1}

	// Pre-cut records from both upstream connections.
	h.deliver(1, "storm\t1", models.Clock{"p0": 1})
	h.deliver(1, "rain\t1", models.Clock{"p0": 2})
	h.deliver(2, "storm\t1", models.Clock{"p1": 1})
	h.waitState(t, models.BoltRunning{}.String())

	// Conn 1 passes the cut; records behind its marker are held back.
	h.deliverMarker(1, cut)
	h.deliver(1, "storm\t1", models.Clock{"p0": 3}) // post-cut, must not enter the snapshot

	// Nothing saved until the second upstream aligns.
	time.Sleep(50 * time.Millisecond)
	_, err := h.snaps.Load(h.id, cut)
	require.ErrorIs(t, err, snapshot.ErrNoSnapshot)

	h.deliverMarker(2, cut)
	h.waitState(t, models.BoltSaved{Clock: cut}.String())

	// The snapshot reflects exactly the pre-cut stream.
	counts := h.counts(t, cut)
	require.Equal(t, uint64(2), counts["storm"])
	require.Equal(t, uint64(1), counts["rain"])

	// The held post-cut record folds in after the save: the next cut's
	// snapshot includes it.
	cut2 := models.Clock{"p0": 3, "p1": 1}
	h.deliverMarker(1, cut2)
	h.deliverMarker(2, cut2)
	h.waitState(t, models.BoltSaved{Clock: cut2}.String())
	require.Equal(t, uint64(3), h.counts(t, cut2)["storm"])
}

func TestBoltSecondCut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startBolt(ctx, t)
	h.waitState(t, models.BoltLoaded{Clock: models.EmptyClock()}.String())

	cut1 := models.Clock{"p0": 1, "p1": 1}
	h.deliver(1, "a\t1", models.Clock{"p0": 1})
	h.deliver(2, "a\t1", models.Clock{"p1": 1})
	h.deliverMarker(1, cut1)
	h.deliverMarker(2, cut1)
	h.waitState(t, models.BoltSaved{Clock: cut1}.String())

	cut2 := models.Clock{"p0": 2, "p1": 2}
	h.deliver(1, "a\t1", models.Clock{"p0": 2})
	h.deliver(2, "b\t1", models.Clock{"p1": 2})
	h.deliverMarker(1, cut2)
	h.deliverMarker(2, cut2)
	h.waitState(t, models.BoltSaved{Clock: cut2}.String())

	require.Equal(t, uint64(3), h.counts(t, cut2)["a"])
	require.Equal(t, uint64(1), h.counts(t, cut2)["b"])
	// The first cut is still readable: the store is append-only.
	require.Equal(t, uint64(2), h.counts(t, cut1)["a"])
}

func TestBoltReloadsOnInitialization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startBolt(ctx, t)
	h.waitState(t, models.BoltLoaded{Clock: models.EmptyClock()}.String())

	cut := models.Clock{"p0": 1, "p1": 1}
	h.deliver(1, "a\t1", models.Clock{"p0": 1})
	h.deliver(2, "a\t1", models.Clock{"p1": 1})
	h.deliverMarker(1, cut)
	h.deliverMarker(2, cut)
	h.waitState(t, models.BoltSaved{Clock: cut}.String())

	// The negotiator records the completed cut, then the cluster drops back
	// into initialization: the bolt reloads from that cut.
	require.NoError(t, cluster.SetLastCompleteSnapshot(ctx, h.writer, cut))
	require.NoError(t, cluster.SetMasterState(ctx, h.writer, models.Initialization{}))
	h.waitState(t, models.BoltLoaded{Clock: cut}.String())

	// New records fold into the restored state, not a fresh one.
	cut2 := models.Clock{"p0": 2, "p1": 1}
	h.deliver(1, "a\t1", models.Clock{"p0": 2})
	h.deliverMarker(1, cut2)
	h.deliverMarker(2, cut2)
	h.waitState(t, models.BoltSaved{Clock: cut2}.String())
	require.Equal(t, uint64(3), h.counts(t, cut2)["a"])
}

func TestBoltSupersedesStaleCut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startBolt(ctx, t)
	h.waitState(t, models.BoltLoaded{Clock: models.EmptyClock()}.String())

	// A marker for a cut that was aborted by a membership change arrives on
	// one connection only; the next real cut must still complete.
	stale := models.Clock{"p0": 1, "p1": 1}
	h.deliverMarker(1, stale)

	real := models.Clock{"p0": 5, "p1": 5}
	h.deliver(1, "x\t1", models.Clock{"p0": 4})
	h.deliverMarker(1, real)
	h.deliverMarker(2, real)
	h.waitState(t, models.BoltSaved{Clock: real}.String())
	require.Equal(t, uint64(1), h.counts(t, real)["x"])
}

func TestCountFormulaRoundTrip(t *testing.T) {
	f := NewCountFormula()
	out, err := f.Apply([]byte("storm\tx"))
	require.NoError(t, err)
	require.Equal(t, "storm\t1", string(out[0]))
	out, err = f.Apply([]byte("storm\ty"))
	require.NoError(t, err)
	require.Equal(t, "storm\t2", string(out[0]))

	snap, err := f.Snapshot()
	require.NoError(t, err)

	restored := NewCountFormula()
	require.NoError(t, restored.Restore(snap))
	out, err = restored.Apply([]byte("storm\tz"))
	require.NoError(t, err)
	require.Equal(t, "storm\t3", string(out[0]))
}

func TestIdentityFormula(t *testing.T) {
	f := IdentityFormula{}
	out, err := f.Apply([]byte("pass"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("pass")}, out)
	require.NoError(t, f.Restore(nil))
}

func TestNewFormula(t *testing.T) {
	_, err := NewFormula("identity")
	require.NoError(t, err)
	_, err = NewFormula("count")
	require.NoError(t, err)
	_, err = NewFormula("quantum")
	require.Error(t, err)
}

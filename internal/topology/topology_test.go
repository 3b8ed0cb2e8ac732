package topology

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tarungka/monsoon/internal/models"
)

func testTopology(t *testing.T) *Topology {
	t.Helper()
	processors := map[string]ProcessorSpec{
		"src": {Kind: KindSpout, Parallelism: 2, Downstreams: []string{"agg"}, Partitions: []string{"p0", "p1"}},
		"agg": {Kind: KindBolt, Parallelism: 3, Downstreams: []string{"out"}},
		"out": {Kind: KindSink, Parallelism: 1},
	}
	addresses := make(map[models.ProcessorId]Addr)
	port := 7000
	for name, spec := range processors {
		for i := 0; i < spec.Parallelism; i++ {
			addresses[models.ProcessorId{Name: name, Instance: i}] = Addr{Host: "127.0.0.1", Port: port}
			port++
		}
	}
	topo, err := New(processors, addresses)
	require.NoError(t, err)
	return topo
}

func TestDerivedSets(t *testing.T) {
	topo := testTopology(t)
	require.Equal(t, 6, topo.NumProcessors())
	require.Equal(t, []models.ProcessorId{{Name: "src", Instance: 0}, {Name: "src", Instance: 1}}, topo.SpoutIds())
	require.Equal(t, []models.ProcessorId{
		{Name: "agg", Instance: 0}, {Name: "agg", Instance: 1}, {Name: "agg", Instance: 2},
	}, topo.BoltIds())
	require.Equal(t, []models.ProcessorId{{Name: "out", Instance: 0}}, topo.SinkIds())
	require.Equal(t, []string{"p0", "p1"}, topo.SpoutPartitions())
}

func TestPartitionFor(t *testing.T) {
	topo := testTopology(t)
	p, ok := topo.PartitionFor(models.ProcessorId{Name: "src", Instance: 1})
	require.True(t, ok)
	require.Equal(t, "p1", p)
	_, ok = topo.PartitionFor(models.ProcessorId{Name: "agg", Instance: 0})
	require.False(t, ok)
}

func TestUpstreams(t *testing.T) {
	topo := testTopology(t)
	require.Equal(t, []string{"src"}, topo.Upstreams("agg"))
	require.Equal(t, []string{"agg"}, topo.Upstreams("out"))
	require.Empty(t, topo.Upstreams("src"))
	require.Equal(t, 2, topo.UpstreamInstanceCount("agg"))
	require.Equal(t, 3, topo.UpstreamInstanceCount("out"))
}

// Routing is keyed: the same key always lands on the same downstream
// instance, whichever upstream routes it.
func TestDownstreamAddressesKeyed(t *testing.T) {
	topo := testTopology(t)
	for i := 0; i < 20; i++ {
		p := models.Payload{Tuple: []byte(fmt.Sprintf("key-%d\tv", i))}
		first, err := topo.DownstreamAddresses("src", p)
		require.NoError(t, err)
		require.Len(t, first, 1)
		again, err := topo.DownstreamAddresses("src", p)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestDownstreamAddressesSpreadsKeys(t *testing.T) {
	topo := testTopology(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p := models.Payload{Tuple: []byte(fmt.Sprintf("key-%d\tv", i))}
		addrs, err := topo.DownstreamAddresses("src", p)
		require.NoError(t, err)
		seen[addrs[0].String()] = true
	}
	// 100 distinct keys across 3 instances must hit more than one instance.
	require.Greater(t, len(seen), 1)
}

func TestAllDownstreamAddresses(t *testing.T) {
	topo := testTopology(t)
	require.Len(t, topo.AllDownstreamAddresses("src"), 3)
	require.Len(t, topo.AllDownstreamAddresses("agg"), 1)
	require.Empty(t, topo.AllDownstreamAddresses("out"))
}

func TestNewValidation(t *testing.T) {
	addr := map[models.ProcessorId]Addr{{Name: "a", Instance: 0}: {Host: "h", Port: 1}}

	_, err := New(map[string]ProcessorSpec{"a": {Kind: KindBolt, Parallelism: 0}}, addr)
	require.Error(t, err)

	_, err = New(map[string]ProcessorSpec{
		"a": {Kind: KindSpout, Parallelism: 1, Partitions: []string{"p0", "p1"}},
	}, addr)
	require.Error(t, err)

	_, err = New(map[string]ProcessorSpec{
		"a": {Kind: KindBolt, Parallelism: 1, Downstreams: []string{"ghost"}},
	}, addr)
	require.Error(t, err)

	_, err = New(map[string]ProcessorSpec{
		"a": {Kind: KindBolt, Parallelism: 2},
	}, addr)
	require.Error(t, err, "missing address for second instance")
}

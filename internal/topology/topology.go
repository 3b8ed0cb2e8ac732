package topology

import (
	"fmt"
	"sort"

	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/partitioner"
)

// Kind classifies a processor within the DAG.
type Kind int

const (
	KindSpout Kind = iota
	KindBolt
	KindSink
)

func (k Kind) String() string {
	switch k {
	case KindSpout:
		return "spout"
	case KindBolt:
		return "bolt"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// ProcessorSpec describes one named operator.
type ProcessorSpec struct {
	Kind        Kind
	Parallelism int
	// Downstreams are operator names this operator shuffles to.
	Downstreams []string
	// Partitions are the input partitions a spout owns, one per spout instance:
	// instance i reads Partitions[i].
	Partitions []string
}

// Addr is the shuffle endpoint of one processor instance.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Topology is the static, read-only description of the operator DAG,
// replicated verbatim to every processor.
type Topology struct {
	processors map[string]ProcessorSpec
	addresses  map[models.ProcessorId]Addr
}

// New validates the static tables and builds a topology.
func New(processors map[string]ProcessorSpec, addresses map[models.ProcessorId]Addr) (*Topology, error) {
	for name, spec := range processors {
		if spec.Parallelism <= 0 {
			return nil, fmt.Errorf("processor %q has parallelism %d", name, spec.Parallelism)
		}
		if spec.Kind == KindSpout && len(spec.Partitions) != spec.Parallelism {
			return nil, fmt.Errorf("spout %q has %d partitions for parallelism %d",
				name, len(spec.Partitions), spec.Parallelism)
		}
		if spec.Kind == KindSink && len(spec.Downstreams) != 0 {
			return nil, fmt.Errorf("sink %q has downstreams", name)
		}
		for _, d := range spec.Downstreams {
			if _, ok := processors[d]; !ok {
				return nil, fmt.Errorf("processor %q routes to unknown processor %q", name, d)
			}
		}
		for i := 0; i < spec.Parallelism; i++ {
			id := models.ProcessorId{Name: name, Instance: i}
			if _, ok := addresses[id]; !ok {
				return nil, fmt.Errorf("no address for %s", id)
			}
		}
	}
	return &Topology{processors: processors, addresses: addresses}, nil
}

// LookupProcessor returns the spec for a named operator.
func (t *Topology) LookupProcessor(name string) (ProcessorSpec, bool) {
	spec, ok := t.processors[name]
	return spec, ok
}

// Parallelism returns the instance count of a named operator, 0 if unknown.
func (t *Topology) Parallelism(name string) int {
	return t.processors[name].Parallelism
}

// Downstreams returns the operator names downstream of name.
func (t *Topology) Downstreams(name string) []string {
	return t.processors[name].Downstreams
}

// AddressFor returns the shuffle endpoint of an instance.
func (t *Topology) AddressFor(id models.ProcessorId) (Addr, bool) {
	a, ok := t.addresses[id]
	return a, ok
}

// NumProcessors is the sum of parallelisms across all operators. The
// negotiator is not included.
func (t *Topology) NumProcessors() int {
	n := 0
	for _, spec := range t.processors {
		n += spec.Parallelism
	}
	return n
}

func (t *Topology) idsOfKind(k Kind) []models.ProcessorId {
	names := make([]string, 0)
	for name, spec := range t.processors {
		if spec.Kind == k {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	ids := make([]models.ProcessorId, 0)
	for _, name := range names {
		for i := 0; i < t.processors[name].Parallelism; i++ {
			ids = append(ids, models.ProcessorId{Name: name, Instance: i})
		}
	}
	return ids
}

// SpoutIds returns every spout instance, ordered by name then instance.
func (t *Topology) SpoutIds() []models.ProcessorId {
	return t.idsOfKind(KindSpout)
}

// BoltIds returns every bolt instance, ordered by name then instance.
func (t *Topology) BoltIds() []models.ProcessorId {
	return t.idsOfKind(KindBolt)
}

// SinkIds returns every sink instance, ordered by name then instance.
func (t *Topology) SinkIds() []models.ProcessorId {
	return t.idsOfKind(KindSink)
}

// SpoutPartitions returns the input partitions owned by spouts, one per
// spout instance, ordered like SpoutIds.
func (t *Topology) SpoutPartitions() []string {
	parts := make([]string, 0)
	for _, id := range t.SpoutIds() {
		parts = append(parts, t.processors[id.Name].Partitions[id.Instance])
	}
	return parts
}

// PartitionFor returns the input partition a spout instance owns.
func (t *Topology) PartitionFor(id models.ProcessorId) (string, bool) {
	spec, ok := t.processors[id.Name]
	if !ok || spec.Kind != KindSpout || id.Instance >= len(spec.Partitions) {
		return "", false
	}
	return spec.Partitions[id.Instance], true
}

// Upstreams returns the operator names that shuffle into name, sorted.
func (t *Topology) Upstreams(name string) []string {
	ups := make([]string, 0)
	for candidate, spec := range t.processors {
		for _, d := range spec.Downstreams {
			if d == name {
				ups = append(ups, candidate)
				break
			}
		}
	}
	sort.Strings(ups)
	return ups
}

// UpstreamInstanceCount returns how many upstream instances shuffle into
// name. Receivers use this as the number of marker-bearing connections to
// align on during a snapshot cut.
func (t *Topology) UpstreamInstanceCount(name string) int {
	n := 0
	for _, up := range t.Upstreams(name) {
		n += t.processors[up].Parallelism
	}
	return n
}

// AllDownstreamAddresses returns the address of every instance of every
// downstream operator of name. Markers are broadcast to all of them, while
// data payloads go to the keyed instance only.
func (t *Topology) AllDownstreamAddresses(name string) []Addr {
	addrs := make([]Addr, 0)
	for _, down := range t.processors[name].Downstreams {
		for i := 0; i < t.processors[down].Parallelism; i++ {
			if a, ok := t.addresses[models.ProcessorId{Name: down, Instance: i}]; ok {
				addrs = append(addrs, a)
			}
		}
	}
	return addrs
}

// DownstreamAddresses picks, for each downstream operator of upstreamName,
// the instance that receives the payload. The instance is selected by an
// FNV-1a hash of the payload key so every upstream routes a given key to the
// same downstream instance.
func (t *Topology) DownstreamAddresses(upstreamName string, p models.Payload) ([]Addr, error) {
	spec, ok := t.processors[upstreamName]
	if !ok {
		return nil, fmt.Errorf("unknown processor %q", upstreamName)
	}
	addrs := make([]Addr, 0, len(spec.Downstreams))
	for _, down := range spec.Downstreams {
		n := t.processors[down].Parallelism
		instance := partitioner.Pick(p.Key(), n)
		id := models.ProcessorId{Name: down, Instance: instance}
		a, ok := t.addresses[id]
		if !ok {
			return nil, fmt.Errorf("no address for %s", id)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

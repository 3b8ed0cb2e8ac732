package models

import (
	"errors"
	"fmt"

	"github.com/tarungka/monsoon/internal/utils"
)

var (
	// ErrMalformedState is returned when a state blob read from the
	// coordination store cannot be decoded.
	ErrMalformedState = errors.New("malformed state encoding")
)

// Wire tags for ProcessorState. The tag byte leads the encoding so the
// schema can grow without breaking old readers.
const (
	tagUnspecified  byte = 0x00
	tagSpoutRunning byte = 0x01
	tagSpoutPaused  byte = 0x02
	tagBoltRunning  byte = 0x03
	tagBoltLoaded   byte = 0x04
	tagBoltSaved    byte = 0x05
	tagSinkRunning  byte = 0x06
)

// Wire tags for MasterState.
const (
	tagUnavailable    byte = 0x00
	tagInitialization byte = 0x01
	tagSpoutsRewind   byte = 0x02
	tagSpoutsPaused   byte = 0x03
	tagFlowing        byte = 0x04
)

// ProcessorState is the value a live processor publishes under its
// /living_processors node.
type ProcessorState interface {
	processorState()
	String() string
}

// UnspecifiedState is the pre-registration sentinel.
type UnspecifiedState struct{}

// SpoutRunning means the spout is emitting normally.
type SpoutRunning struct{}

// SpoutPaused means the spout stopped reading at (Partition, Offset); the
// next record it emits has offset > Offset.
type SpoutPaused struct {
	Partition string
	Offset    uint64
}

// BoltRunning means the bolt is processing between snapshots.
type BoltRunning struct{}

// BoltLoaded means the bolt finished loading the snapshot taken at Clock.
type BoltLoaded struct {
	Clock Clock
}

// BoltSaved means the bolt durably wrote the snapshot for Clock.
type BoltSaved struct {
	Clock Clock
}

// SinkRunning means the sink is consuming.
type SinkRunning struct{}

func (UnspecifiedState) processorState() {}
func (SpoutRunning) processorState()     {}
func (SpoutPaused) processorState()      {}
func (BoltRunning) processorState()      {}
func (BoltLoaded) processorState()       {}
func (BoltSaved) processorState()        {}
func (SinkRunning) processorState()      {}

func (UnspecifiedState) String() string { return "unspecified" }
func (SpoutRunning) String() string     { return "spout_running" }
func (s SpoutPaused) String() string {
	return fmt.Sprintf("spout_paused(%s,%d)", s.Partition, s.Offset)
}
func (BoltRunning) String() string  { return "bolt_running" }
func (b BoltLoaded) String() string { return "bolt_loaded" + b.Clock.String() }
func (b BoltSaved) String() string  { return "bolt_saved" + b.Clock.String() }
func (SinkRunning) String() string  { return "sink_running" }

// MasterState is the authoritative global mode, written only by the
// negotiator.
type MasterState interface {
	masterState()
	String() string
}

// Unavailable means fewer than the expected number of processors are
// registered.
type Unavailable struct{}

// Initialization means all processors are registered and the negotiator is
// waiting for bolts to load.
type Initialization struct{}

// SpoutsRewind orders spouts to seek to the clock's offsets and pause.
type SpoutsRewind struct {
	Clock Clock
}

// SpoutsPaused means a snapshot cut is in progress; spouts pause at their
// next boundary.
type SpoutsPaused struct{}

// Flowing is normal operation. A non-nil Snapshot clock means a snapshot at
// that clock is currently being saved by the bolts.
type Flowing struct {
	Snapshot *Clock
}

func (Unavailable) masterState()    {}
func (Initialization) masterState() {}
func (SpoutsRewind) masterState()   {}
func (SpoutsPaused) masterState()   {}
func (Flowing) masterState()        {}

func (Unavailable) String() string    { return "unavailable" }
func (Initialization) String() string { return "initialization" }
func (s SpoutsRewind) String() string { return "spouts_rewind" + s.Clock.String() }
func (SpoutsPaused) String() string   { return "spouts_paused" }
func (f Flowing) String() string {
	if f.Snapshot == nil {
		return "flowing"
	}
	return "flowing" + f.Snapshot.String()
}

// spoutPausedWire and the clock wrappers are the msgpack payload shapes that
// follow the tag byte.
type spoutPausedWire struct {
	Partition string
	Offset    uint64
}

type clockWire struct {
	Clock map[string]uint64
}

// MarshalProcessorState encodes a processor state as tag byte + msgpack
// payload. Variants without attributes encode as the bare tag.
func MarshalProcessorState(s ProcessorState) ([]byte, error) {
	switch v := s.(type) {
	case UnspecifiedState:
		return []byte{tagUnspecified}, nil
	case SpoutRunning:
		return []byte{tagSpoutRunning}, nil
	case SpoutPaused:
		return appendPayload(tagSpoutPaused, spoutPausedWire{Partition: v.Partition, Offset: v.Offset})
	case BoltRunning:
		return []byte{tagBoltRunning}, nil
	case BoltLoaded:
		return appendPayload(tagBoltLoaded, clockWire{Clock: v.Clock})
	case BoltSaved:
		return appendPayload(tagBoltSaved, clockWire{Clock: v.Clock})
	case SinkRunning:
		return []byte{tagSinkRunning}, nil
	default:
		return nil, fmt.Errorf("unknown processor state %T", s)
	}
}

// UnmarshalProcessorState reverses MarshalProcessorState.
func UnmarshalProcessorState(b []byte) (ProcessorState, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty processor state", ErrMalformedState)
	}
	switch b[0] {
	case tagUnspecified:
		return UnspecifiedState{}, nil
	case tagSpoutRunning:
		return SpoutRunning{}, nil
	case tagSpoutPaused:
		var w spoutPausedWire
		if err := utils.DecodeMsgPack(b[1:], &w); err != nil {
			return nil, fmt.Errorf("%w: spout_paused: %s", ErrMalformedState, err)
		}
		return SpoutPaused{Partition: w.Partition, Offset: w.Offset}, nil
	case tagBoltRunning:
		return BoltRunning{}, nil
	case tagBoltLoaded:
		c, err := decodeClockPayload(b[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: bolt_loaded: %s", ErrMalformedState, err)
		}
		return BoltLoaded{Clock: c}, nil
	case tagBoltSaved:
		c, err := decodeClockPayload(b[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: bolt_saved: %s", ErrMalformedState, err)
		}
		return BoltSaved{Clock: c}, nil
	case tagSinkRunning:
		return SinkRunning{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown processor state tag 0x%02x", ErrMalformedState, b[0])
	}
}

// MarshalMasterState encodes a master state as tag byte + msgpack payload.
func MarshalMasterState(s MasterState) ([]byte, error) {
	switch v := s.(type) {
	case Unavailable:
		return []byte{tagUnavailable}, nil
	case Initialization:
		return []byte{tagInitialization}, nil
	case SpoutsRewind:
		return appendPayload(tagSpoutsRewind, clockWire{Clock: v.Clock})
	case SpoutsPaused:
		return []byte{tagSpoutsPaused}, nil
	case Flowing:
		if v.Snapshot == nil {
			return []byte{tagFlowing}, nil
		}
		return appendPayload(tagFlowing, clockWire{Clock: *v.Snapshot})
	default:
		return nil, fmt.Errorf("unknown master state %T", s)
	}
}

// UnmarshalMasterState reverses MarshalMasterState.
func UnmarshalMasterState(b []byte) (MasterState, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty master state", ErrMalformedState)
	}
	switch b[0] {
	case tagUnavailable:
		return Unavailable{}, nil
	case tagInitialization:
		return Initialization{}, nil
	case tagSpoutsRewind:
		c, err := decodeClockPayload(b[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: spouts_rewind: %s", ErrMalformedState, err)
		}
		return SpoutsRewind{Clock: c}, nil
	case tagSpoutsPaused:
		return SpoutsPaused{}, nil
	case tagFlowing:
		if len(b) == 1 {
			return Flowing{}, nil
		}
		c, err := decodeClockPayload(b[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: flowing: %s", ErrMalformedState, err)
		}
		return Flowing{Snapshot: &c}, nil
	default:
		return nil, fmt.Errorf("%w: unknown master state tag 0x%02x", ErrMalformedState, b[0])
	}
}

func appendPayload(tag byte, payload interface{}) ([]byte, error) {
	buf, err := utils.EncodeMsgPack(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+buf.Len())
	out = append(out, tag)
	out = append(out, buf.Bytes()...)
	return out, nil
}

func decodeClockPayload(b []byte) (Clock, error) {
	var w clockWire
	if err := utils.DecodeMsgPack(b, &w); err != nil {
		return nil, err
	}
	if w.Clock == nil {
		w.Clock = map[string]uint64{}
	}
	return Clock(w.Clock), nil
}

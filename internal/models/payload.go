package models

import (
	"bufio"
	"bytes"
	"fmt"
)

// Shuffle line framing: <tuple> 0x01 <clock> '\n'. Both fields pass through
// an escape layer so arbitrary tuple bytes and msgpack clocks survive the
// delimiters.
const (
	fieldSep byte = 0x01
	lineEnd  byte = '\n'
	escape   byte = 0x1b
)

// Payload is an opaque user tuple paired with the clock of the input
// record(s) it derives from.
type Payload struct {
	Tuple []byte
	Clock Clock
}

// Marker builds a snapshot marker for the given cut. Markers carry an empty
// tuple; data payloads always carry a non-empty one, so an empty tuple is
// reserved and spouts drop empty input records.
func Marker(cut Clock) Payload {
	return Payload{Clock: cut}
}

// IsMarker reports whether the payload is a snapshot marker.
func (p Payload) IsMarker() bool {
	return len(p.Tuple) == 0
}

// Key returns the routing key of the payload. Tuples are treated as
// "key<TAB>rest" when a tab is present, otherwise the whole tuple is the key.
func (p Payload) Key() []byte {
	if i := bytes.IndexByte(p.Tuple, '\t'); i >= 0 {
		return p.Tuple[:i]
	}
	return p.Tuple
}

func escapeInto(dst *bytes.Buffer, b []byte) {
	for _, c := range b {
		switch c {
		case fieldSep:
			dst.WriteByte(escape)
			dst.WriteByte('S')
		case lineEnd:
			dst.WriteByte(escape)
			dst.WriteByte('N')
		case escape:
			dst.WriteByte(escape)
			dst.WriteByte('E')
		default:
			dst.WriteByte(c)
		}
	}
}

func unescape(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != escape {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(b) {
			return nil, fmt.Errorf("truncated escape sequence")
		}
		switch b[i] {
		case 'S':
			out = append(out, fieldSep)
		case 'N':
			out = append(out, lineEnd)
		case 'E':
			out = append(out, escape)
		default:
			return nil, fmt.Errorf("unknown escape sequence 0x%02x", b[i])
		}
	}
	return out, nil
}

// MarshalPayload frames a payload as one shuffle line, including the
// trailing newline.
func MarshalPayload(p Payload) ([]byte, error) {
	clockBytes, err := MarshalClock(p.Clock)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(p.Tuple) + len(clockBytes) + 2)
	escapeInto(&buf, p.Tuple)
	buf.WriteByte(fieldSep)
	escapeInto(&buf, clockBytes)
	buf.WriteByte(lineEnd)
	return buf.Bytes(), nil
}

// UnmarshalPayload decodes one shuffle line. The line may or may not carry
// its trailing newline.
func UnmarshalPayload(line []byte) (Payload, error) {
	line = bytes.TrimSuffix(line, []byte{lineEnd})
	i := bytes.IndexByte(line, fieldSep)
	if i < 0 {
		return Payload{}, fmt.Errorf("payload line missing field separator")
	}
	tuple, err := unescape(line[:i])
	if err != nil {
		return Payload{}, fmt.Errorf("payload tuple: %w", err)
	}
	clockBytes, err := unescape(line[i+1:])
	if err != nil {
		return Payload{}, fmt.Errorf("payload clock: %w", err)
	}
	clock, err := UnmarshalClock(clockBytes)
	if err != nil {
		return Payload{}, fmt.Errorf("payload clock: %w", err)
	}
	return Payload{Tuple: tuple, Clock: clock}, nil
}

// ReadPayload reads one framed payload from r.
func ReadPayload(r *bufio.Reader) (Payload, error) {
	line, err := r.ReadBytes(lineEnd)
	if err != nil {
		return Payload{}, err
	}
	return UnmarshalPayload(line)
}

package bolt

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/tarungka/monsoon/internal/utils"
)

// Formula is the user-supplied tuple function a bolt hosts. Formulas are
// deterministic: replaying the same tuples from a restored snapshot must
// reproduce the same outputs.
type Formula interface {
	// Apply folds one tuple into the operator state and returns the output
	// tuples, if any.
	Apply(tuple []byte) ([][]byte, error)

	// Snapshot serializes the operator state.
	Snapshot() ([]byte, error)

	// Restore replaces the operator state. A nil snapshot means empty state.
	Restore(snapshot []byte) error
}

// NewFormula builds one of the built-in formulas by name.
func NewFormula(name string) (Formula, error) {
	switch name {
	case "identity":
		return &IdentityFormula{}, nil
	case "count":
		return NewCountFormula(), nil
	default:
		return nil, fmt.Errorf("unknown formula %q", name)
	}
}

// IdentityFormula passes tuples through unchanged and holds no state.
type IdentityFormula struct{}

func (IdentityFormula) Apply(tuple []byte) ([][]byte, error) {
	return [][]byte{tuple}, nil
}

func (IdentityFormula) Snapshot() ([]byte, error) {
	return []byte{}, nil
}

func (IdentityFormula) Restore(snapshot []byte) error {
	return nil
}

// CountFormula counts tuples per key and emits the running count as
// "key<TAB>count". Its state is the key->count table.
type CountFormula struct {
	counts map[string]uint64
}

func NewCountFormula() *CountFormula {
	return &CountFormula{counts: make(map[string]uint64)}
}

func (c *CountFormula) Apply(tuple []byte) ([][]byte, error) {
	key := tuple
	if i := bytes.IndexByte(tuple, '\t'); i >= 0 {
		key = tuple[:i]
	}
	c.counts[string(key)]++
	out := append([]byte(nil), key...)
	out = append(out, '\t')
	out = strconv.AppendUint(out, c.counts[string(key)], 10)
	return [][]byte{out}, nil
}

func (c *CountFormula) Snapshot() ([]byte, error) {
	buf, err := utils.EncodeMsgPack(c.counts)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *CountFormula) Restore(snapshot []byte) error {
	c.counts = make(map[string]uint64)
	if len(snapshot) == 0 {
		return nil
	}
	return utils.DecodeMsgPack(snapshot, &c.counts)
}

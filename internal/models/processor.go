package models

import (
	"fmt"
	"strconv"
	"strings"
)

// NegotiatorName is the reserved processor name of the cluster negotiator.
// The negotiator registers as "negotiator-0" next to the topology processors.
const NegotiatorName = "negotiator"

// ProcessorId identifies one instance of a named operator.
type ProcessorId struct {
	Name     string
	Instance int
}

// NegotiatorId returns the id the single negotiator registers under.
func NegotiatorId() ProcessorId {
	return ProcessorId{Name: NegotiatorName, Instance: 0}
}

// String renders the id the way it is keyed in the coordination store,
// "{name}-{instance}".
func (p ProcessorId) String() string {
	return fmt.Sprintf("%s-%d", p.Name, p.Instance)
}

// ParseProcessorId reverses String. The instance index is everything after
// the last dash, so operator names may themselves contain dashes.
func ParseProcessorId(s string) (ProcessorId, error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return ProcessorId{}, fmt.Errorf("malformed processor id %q", s)
	}
	instance, err := strconv.Atoi(s[i+1:])
	if err != nil || instance < 0 {
		return ProcessorId{}, fmt.Errorf("malformed processor instance in %q", s)
	}
	return ProcessorId{Name: s[:i], Instance: instance}, nil
}

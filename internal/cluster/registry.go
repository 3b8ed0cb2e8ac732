// Package cluster layers processor registration and the master-state channel
// on the coordination store. Every live processor holds one ephemeral node
// under /living_processors carrying its current state; /master_state is the
// single node the negotiator drives the cluster through.
package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/logger"
	"github.com/tarungka/monsoon/internal/models"
)

const (
	// LivingProcessorsPath is the container of per-processor ephemerals.
	LivingProcessorsPath = "/living_processors"

	// MasterStatePath is the single master-state node.
	MasterStatePath = "/master_state"
)

var (
	// ErrDuplicateNegotiator is returned when a second negotiator attempts
	// to register. Fatal: exactly one negotiator-0 may be live.
	ErrDuplicateNegotiator = errors.New("another negotiator is already registered")

	// ErrDuplicateProcessor is returned when a processor id is already
	// registered by a live session. Fatal for the caller.
	ErrDuplicateProcessor = errors.New("processor id already registered")
)

// ProcessorPath returns the ephemeral path of a processor id.
func ProcessorPath(id models.ProcessorId) string {
	return LivingProcessorsPath + "/" + id.String()
}

// RegisterProcessor creates the caller's ephemeral registration and runs
// body under it. Whatever body returns, the session is torn down afterwards
// so the ephemeral vanishes and the negotiator's children-watch observes the
// departure.
func RegisterProcessor(ctx context.Context, store coord.Store, id models.ProcessorId,
	initial models.ProcessorState, body func(ctx context.Context) error) error {

	log := logger.GetLogger("registry")
	defer store.Close()

	data, err := models.MarshalProcessorState(initial)
	if err != nil {
		return err
	}
	if err := store.RegisterEphemeral(ctx, ProcessorPath(id), data); err != nil {
		if errors.Is(err, coord.ErrNodeExists) {
			if id.Name == models.NegotiatorName {
				return ErrDuplicateNegotiator
			}
			return ErrDuplicateProcessor
		}
		return err
	}
	log.Info().Str("processor", id.String()).Msg("registered")

	return body(ctx)
}

// SetProcessorState publishes the caller's state on its ephemeral node.
func SetProcessorState(ctx context.Context, store coord.Store, id models.ProcessorId,
	state models.ProcessorState) error {

	data, err := models.MarshalProcessorState(state)
	if err != nil {
		return err
	}
	if _, err := store.Set(ctx, ProcessorPath(id), data); err != nil {
		return err
	}
	return nil
}

// GetAllProcessorStates reads every registered processor's state in one
// pass. A malformed child is an invariant violation and reported as
// ErrUnexpectedStore.
func GetAllProcessorStates(ctx context.Context, store coord.Store) (map[models.ProcessorId]models.ProcessorState, error) {
	children, err := store.Children(ctx, LivingProcessorsPath)
	if err != nil {
		return nil, err
	}
	out := make(map[models.ProcessorId]models.ProcessorState, len(children))
	for name, data := range children {
		id, err := models.ParseProcessorId(name)
		if err != nil {
			return nil, fmt.Errorf("%w: child %q: %s", coord.ErrUnexpectedStore, name, err)
		}
		st, err := models.UnmarshalProcessorState(data)
		if err != nil {
			return nil, fmt.Errorf("%w: child %q: %s", coord.ErrUnexpectedStore, name, err)
		}
		out[id] = st
	}
	return out, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/knadh/koanf/v2"

	"github.com/tarungka/monsoon/internal/cluster"
	"github.com/tarungka/monsoon/internal/coord"
)

// runInit creates the persistent coordination roots. Safe to repeat: an
// existing root is left as it is.
func runInit(ctx context.Context, ko *koanf.Koanf) error {
	store, err := connectStore(ctx, ko)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreatePersistent(ctx, cluster.LivingProcessorsPath, nil); err != nil &&
		!errors.Is(err, coord.ErrNodeExists) {
		return err
	}
	if err := cluster.InitMasterState(ctx, store); err != nil {
		return err
	}
	fmt.Println("coordination roots created")
	return nil
}

// runShow dumps the coordination state.
func runShow(ctx context.Context, ko *koanf.Koanf) error {
	store, err := connectStore(ctx, ko)
	if err != nil {
		return err
	}
	defer store.Close()

	master, err := cluster.GetMasterState(ctx, store)
	if err != nil {
		return err
	}
	fmt.Printf("master_state: %s\n", master.String())

	if last, err := cluster.GetLastCompleteSnapshot(ctx, store); err == nil && last != nil {
		fmt.Printf("last_complete_snapshot: %s\n", last.String())
	}

	states, err := cluster.GetAllProcessorStates(ctx, store)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(states))
	for id, st := range states {
		lines = append(lines, fmt.Sprintf("  %s: %s", id.String(), st.String()))
	}
	sort.Strings(lines)
	fmt.Printf("living_processors (%d):\n", len(lines))
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

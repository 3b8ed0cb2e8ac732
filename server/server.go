// Package server exposes a per-processor HTTP status surface: a health
// check and a read-only view of the cluster's coordination state.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/tarungka/monsoon/internal/cluster"
	"github.com/tarungka/monsoon/internal/coord"
	"github.com/tarungka/monsoon/internal/topology"
)

// Run serves the status API on port until the listener fails. Meant to be
// run on its own goroutine.
func Run(port string, store coord.Store, topo *topology.Topology) {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)
	router.Use(middleware.RequestID)

	router.Get("/status", statusHandler(store, topo))

	log.Info().Msgf("running the status server on port: %s", port)
	log.Error().Msg(http.ListenAndServe(":"+port, router).Error())
}

func statusHandler(store coord.Store, topo *topology.Topology) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		master, err := cluster.GetMasterState(ctx, store)
		if err != nil {
			SendResponse(w, false, nil, err.Error())
			return
		}
		states, err := cluster.GetAllProcessorStates(ctx, store)
		if err != nil {
			SendResponse(w, false, nil, err.Error())
			return
		}
		processors := make(map[string]string, len(states))
		for id, st := range states {
			processors[id.String()] = st.String()
		}
		status := StatusModel{
			MasterState: master.String(),
			Processors:  processors,
			NumExpected: topo.NumProcessors() + 1,
			NumPresent:  len(states),
		}
		if last, err := cluster.GetLastCompleteSnapshot(ctx, store); err == nil && last != nil {
			status.LastSnapshot = last.String()
		}
		SendResponse(w, true, status, "")
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tarungka/monsoon/internal/logger"
)

var (
	buildString = "unknown"
	ko          = koanf.New(".")
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: monsoon <command> [flags]

commands:
  zk_init             create the persistent coordination roots
  zk_show             dump the coordination state
  run_processors      start named processor instances: --topology <name> <id> ...
  run_sample          run the sample topology in one process
  run_sample_emitter  produce sample traffic to the kafka input topic`)
	os.Exit(2)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	rest := initFlags(ko, os.Args[2:])

	if ko.Bool("version") {
		fmt.Println(buildString)
		os.Exit(0)
	}
	if ko.Bool("dev") {
		logger.SetDevelopment(true)
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	var err error
	switch command {
	case "zk_init":
		err = runInit(ctx, ko)
	case "zk_show":
		err = runShow(ctx, ko)
	case "run_processors":
		if len(rest) == 0 {
			log.Fatal().Msg("run_processors needs at least one processor id")
		}
		err = runProcessors(ctx, ko, rest)
	case "run_sample":
		err = runSample(ctx, ko)
	case "run_sample_emitter":
		err = runSampleEmitter(ctx, ko)
	default:
		usage()
	}

	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("command", command).Msg("fatal")
		os.Exit(1)
	}
}

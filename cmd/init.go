package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func initFlags(ko *koanf.Koanf, args []string) []string {
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.StringSlice("config", nil, "path to one or more config files (will be merged in order)")
	f.String("connect", "127.0.0.1:2379", "coordination store endpoints, comma separated")
	f.String("broker", "127.0.0.1:9092", "kafka bootstrap servers")
	f.String("topic", "monsoon", "kafka topic for the input stream")
	f.String("kafka-timeout", "10s", "kafka poll timeout")
	f.Bool("use-kafka", false, "read input from kafka instead of a file")
	f.String("store", "badgerdb", "snapshot store backend: badgerdb or boltdb")
	f.String("store-dir", "", "snapshot store directory (empty for in-memory badger)")
	f.String("file", "", "input file for file-backed spouts")
	f.String("topology", "", "name of the topology to run")
	f.String("port", "", "port for the status server (disabled when empty)")
	f.String("snapshot-interval", "10s", "time between snapshot cuts")
	f.Int("emit-count", 100, "records produced by run_sample_emitter")
	f.Bool("dev", false, "development mode logging")
	f.Bool("version", false, "show current version of the build")

	if err := f.Parse(args); err != nil {
		log.Fatal().Msgf("error loading flags: %v", err)
	}

	configs, _ := f.GetStringSlice("config")
	for _, c := range configs {
		log.Debug().Msgf("reading config from %s", c)
		var parser koanf.Parser
		switch c[strings.LastIndex(c, ".")+1:] {
		case "yaml", "yml":
			parser = yaml.Parser()
		case "json":
			parser = json.Parser()
		default:
			log.Fatal().Msgf("unsupported config file extension: %s", c)
		}
		if err := ko.Load(file.Provider(c), parser); err != nil {
			log.Fatal().Msgf("error reading config: %v", err)
		}
	}

	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		log.Fatal().Msgf("error reading flag config: %v", err)
	}

	return f.Args()
}

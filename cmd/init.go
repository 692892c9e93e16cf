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

// initFlags parses the command line and layers the config files under it.
// Flag values win over file values.
func initFlags(ko *koanf.Koanf) {
	f := flag.NewFlagSet("weave", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.StringSlice("config", []string{".config/pipeline.yaml"}, "path to one or more config files (will be merged in order)")
	f.String("port", "8080", "port to host the inspection server on")
	f.Bool("version", false, "show current version of the build")
	f.Bool("debug", false, "enable trace logging")
	f.Bool("pretty", false, "human readable console logs")

	if err := f.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("error loading flags")
	}

	// Asking for the version must not require a readable config file.
	if version, _ := f.GetBool("version"); !version {
		configs, _ := f.GetStringSlice("config")
		for _, path := range configs {
			var parser koanf.Parser
			switch ext := path[strings.LastIndex(path, ".")+1:]; ext {
			case "yaml", "yml":
				parser = yaml.Parser()
			case "json":
				parser = json.Parser()
			default:
				log.Fatal().Msgf("unsupported config extension %q", ext)
			}
			if err := ko.Load(file.Provider(path), parser); err != nil {
				log.Fatal().Err(err).Msgf("error reading config %s", path)
			}
		}
	}

	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		log.Fatal().Err(err).Msg("error reading flag config")
	}
}

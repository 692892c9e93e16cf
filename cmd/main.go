package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/pipeline"
	"github.com/tarungka/weave/server"
	"github.com/tarungka/weave/tree"
)

var (
	buildString = "unknown"
	ko          = koanf.New(".")
)

func main() {
	initFlags(ko)

	if ko.Bool("version") {
		fmt.Println(buildString)
		os.Exit(0)
	}

	if ko.Bool("debug") {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logger.SetDevelopment(ko.Bool("pretty"))
	logFile, err := os.OpenFile("weave.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		defer logFile.Close()
		logger.SetLogFile(logFile)
	}

	lg := logger.GetLogger("main")
	if err != nil {
		lg.Error().Err(err).Msg("failed to open log file")
	}
	lg.Info().Str("build", buildString).Msg("starting weave")

	tr, err := pipeline.Build(ko)
	if err != nil {
		lg.Fatal().Err(err).Msg("building pipeline")
	}
	if err := tr.Prepare(); err != nil {
		lg.Fatal().Err(err).Msg("preparing pipeline")
	}
	it, err := tree.NewIterator(tr)
	if err != nil {
		lg.Fatal().Err(err).Msg("opening iterator")
	}

	srv := server.New(tr, ko.String("port"))
	go func() {
		if err := srv.Run(); err != nil {
			lg.Error().Err(err).Msg("http server")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		lg.Info().Msg("received interrupt signal; shutting down")
		tr.Shutdown(nil)
	}()

	if err := tr.Launch(); err != nil {
		lg.Fatal().Err(err).Msg("launching pipeline")
	}

	rows, drainErr := it.Drain()
	if drainErr != nil {
		lg.Warn().Err(drainErr).Msg("stream ended early")
	}

	waitErr := tr.Wait()
	tr.Shutdown(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Error().Err(err).Msg("http server shutdown")
	}

	if waitErr != nil {
		lg.Fatal().Err(waitErr).Msg("pipeline failed")
	}
	lg.Info().Int64("rows", rows).Msg("pipeline finished")
}

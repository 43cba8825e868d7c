package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ddoubleg123/carrot-worker-sub002/internal"
	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the worker. Configuration comes from a
// YAML file when -config is provided, and from the environment
// otherwise; env vars always win over file values.
func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	} else {
		logger.SetMinLoggingLevel(logger.INFO.Level())
	}

	config := internal.WorkerConfig{}
	var err error
	if *configPath != "" {
		err = config.LoadFromFile(*configPath)
	} else {
		err = config.LoadFromEnv()
	}
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Worker stopped with error: %v\n", err)
		os.Exit(1)
	}
}

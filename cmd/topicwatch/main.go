// Package main hosts the topicwatch service entrypoint.
//
// Flags select the config file and an optional .env file; everything else
// comes from YAML and TOPICWATCH_ environment overrides.
//
//	topicwatch --config config.yaml --env-file .env --seed topics.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/JakeFAU/topicwatch/internal/config"
	"github.com/JakeFAU/topicwatch/internal/server"
)

type options struct {
	Config  string `short:"c" long:"config" env:"TOPICWATCH_CONFIG" description:"Path to a YAML config file"`
	EnvFile string `long:"env-file" default:".env" description:"Optional .env file loaded before configuration"`
	Seed    string `long:"seed" description:"YAML topic seed file; overrides seed_file"`
	Port    int    `short:"p" long:"port" env:"PORT" description:"HTTP port; overrides server.port"`
	Debug   bool   `long:"debug" description:"Development logging at debug level"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "topicwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, ok, err := parseOptions(args)
	if err != nil || !ok {
		return err
	}

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return err
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	return app.Run(ctx)
}

// parseOptions returns ok=false when help was printed.
func parseOptions(args []string) (options, bool, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return opts, false, nil
		}
		return opts, false, fmt.Errorf("parse flags: %w", err)
	}
	return opts, true, nil
}

// loadEnvFile loads path into the environment, leaving existing variables
// untouched. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyOverrides(cfg *config.Config, opts options) {
	if opts.Seed != "" {
		cfg.SeedFile = opts.Seed
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Debug {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
}

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// defaultHistoryLimit is used by a bare --history.
const defaultHistoryLimit = 20

var errUsage = errors.New("usage")

// Options holds the parsed command line.
type Options struct {
	App         string
	Version     string
	Environment string
	ConfigPath  string
	History     int // > 0 lists that many records instead of deploying
	ShowBuild   bool

	Flags *pflag.FlagSet
}

// ParseFlags parses args. Usage is written to stderr for every error.
func ParseFlags(args []string, stderr io.Writer) (*Options, error) {
	opts := &Options{}

	fs := pflag.NewFlagSet("hostdeploy", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: hostdeploy --app=<name> --version=<version> --env=<environment> [options]\n")
		fmt.Fprintf(stderr, "       hostdeploy --app=<name> --history[=N]\n\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.App, "app", "", "application name (required)")
	fs.StringVar(&opts.Version, "version", "", "version to deploy (required)")
	fs.StringVar(&opts.Environment, "env", "", "target environment (required)")
	fs.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	fs.IntVar(&opts.History, "history", 0, "list the last N deployments of --app and exit")
	fs.Lookup("history").NoOptDefVal = fmt.Sprint(defaultHistoryLimit)
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text, json")
	fs.BoolVar(&opts.ShowBuild, "build-info", false, "print build information and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, errUsage
		}
		return nil, usageError(stderr, fs, err)
	}
	opts.Flags = fs

	if opts.ShowBuild {
		return opts, nil
	}

	if fs.NArg() > 0 {
		return nil, usageError(stderr, fs, fmt.Errorf("unexpected argument %q", fs.Arg(0)))
	}
	if opts.History < 0 {
		return nil, usageError(stderr, fs, errors.New("--history must be positive"))
	}

	required := []string{"app"}
	if opts.History == 0 {
		required = append(required, "version", "env")
	}
	for _, name := range required {
		if f := fs.Lookup(name); f.Value.String() == "" {
			return nil, usageError(stderr, fs, fmt.Errorf("missing required flag --%s", name))
		}
	}

	return opts, nil
}

func usageError(stderr io.Writer, fs *pflag.FlagSet, err error) error {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	fs.Usage()
	return err
}

// Package main is a checker for trigger expressions. It compiles each
// expression given on the command line and reports parse and filter
// errors; with -emit it additionally dry-runs a dispatch so filter and
// capture behavior can be inspected without writing a program.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dshills/pulse"
	"github.com/dshills/pulse/descriptor"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

type options struct {
	configPath string
	emit       string
	data       string
	text       string
	strs       string
}

func run() int {
	opts := parseFlags()

	var busOpts []pulse.Option
	if opts.configPath != "" {
		cfg, err := pulse.LoadConfig(opts.configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		busOpts = append(busOpts, pulse.WithConfig(cfg))
	}

	bus, err := pulse.New(busOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer bus.Close()

	exprs := flag.Args()
	if len(exprs) == 0 {
		flag.Usage()
		return 1
	}

	failed := false
	for i, expr := range exprs {
		n := i
		_, err := bus.On(expr, func(ctx context.Context, data any, captures ...string) (pulse.Result, error) {
			fmt.Printf("match %d: %q data=%v captures=%v\n", n, exprs[n], data, captures)
			return pulse.Continue, nil
		})
		if err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%q: %v\n", expr, err)
			continue
		}
		fmt.Printf("ok %d: %q\n", n, expr)
	}
	if failed {
		return 1
	}
	if opts.emit == "" {
		return 0
	}

	var data any
	if opts.data != "" {
		if err := json.Unmarshal([]byte(opts.data), &data); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -data: %v\n", err)
			return 1
		}
	}
	var desc descriptor.Provider
	if opts.strs != "" {
		desc = descriptor.Single(opts.emit, strings.Split(opts.strs, ",")...)
	}

	var args []any
	if opts.text != "" {
		args = append(args, opts.text)
	}
	if data != nil {
		args = append(args, data)
	}

	res, err := bus.EmitNow(context.Background(), opts.emit, desc, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: emit failed: %v\n", err)
		return 1
	}
	fmt.Printf("result: %s\n", res)
	return 0
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.emit, "emit", "", "Event name to dry-run against the expressions")
	flag.StringVar(&opts.data, "data", "", "JSON payload for the dry-run event")
	flag.StringVar(&opts.text, "text", "", "Text payload for the dry-run event")
	flag.StringVar(&opts.strs, "strings", "", "Comma-separated discriminator strings for the dry-run event")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pulsecheck - trigger expression checker\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pulsecheck [options] expression...\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pulsecheck 'orderPlaced[amount > 100]'\n")
		fmt.Fprintf(os.Stderr, "  pulsecheck -emit orderPlaced -data '{\"amount\":150}' 'orderPlaced[amount > 100]'\n")
		fmt.Fprintf(os.Stderr, "  pulsecheck -emit logLine -strings 'ERROR disk full' 'await logLine[/ERROR (\\w+)/]'\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("pulsecheck %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		os.Exit(0)
	}

	return opts
}

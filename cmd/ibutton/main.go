// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Command ibutton reads, writes and emulates iButton keys on a GPIO line
// or a serial 1-Wire adapter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-ibutton"
	"github.com/ZaparooProject/go-ibutton/worker"
)

const defaultConfigPath = "ibutton.yaml"

var errUsage = errors.New("usage: ibutton [flags] read|write|copy|emulate|info [args]")

type cliOptions struct {
	configPath     string
	serial         string
	pin            string
	comparator     string
	logDir         string
	output         string
	command        string
	args           []string
	readTimeout    time.Duration
	debug          bool
	continuous     bool
	configExplicit bool
}

func parseArgs(args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := flag.NewFlagSet("ibutton", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "YAML configuration file")
	fs.StringVar(&opts.serial, "serial", "", "Serial 1-Wire adapter port or \"auto\" (overrides bus.serial)")
	fs.StringVar(&opts.pin, "pin", "", "1-Wire data GPIO name (overrides bus.pin)")
	fs.StringVar(&opts.comparator, "comparator", "", "Comparator GPIO name for Cyfral/Metakom keys")
	fs.StringVar(&opts.logDir, "log", "", "Write a session log into this directory")
	fs.StringVar(&opts.output, "o", "", "read: save the key to this file")
	fs.DurationVar(&opts.readTimeout, "timeout", 0, "read: give up after this long")
	fs.BoolVar(&opts.continuous, "continuous", false, "read: keep reading keys until interrupted")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug output")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(fs.Output(), errUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			opts.configExplicit = true
		}
	})

	if fs.NArg() == 0 {
		return nil, errUsage
	}
	opts.command = fs.Arg(0)
	opts.args = fs.Args()[1:]

	want := 1
	switch opts.command {
	case "read":
		want = 0
	case "write", "copy", "emulate", "info":
	default:
		return nil, fmt.Errorf("unknown command %q: %w", opts.command, errUsage)
	}
	if len(opts.args) != want {
		return nil, fmt.Errorf("%s: %w", opts.command, errUsage)
	}
	return opts, nil
}

// apply lays the flags over the file configuration.
func (o *cliOptions) apply(cfg *config) {
	if o.serial != "" {
		cfg.Bus.Serial = o.serial
	}
	if o.pin != "" {
		cfg.Bus.Pin = o.pin
	}
	if o.comparator != "" {
		cfg.Comparator.Pin = o.comparator
	}
	if o.logDir != "" {
		cfg.LogDir = o.logDir
	}
	if o.readTimeout > 0 {
		cfg.Worker.ReadTimeout = o.readTimeout
	}
	if o.debug {
		cfg.Debug = true
	}
}

func run(ctx context.Context, opts *cliOptions, out io.Writer) error {
	cfg, err := loadConfig(opts.configPath, !opts.configExplicit)
	if err != nil {
		return err
	}
	opts.apply(cfg)

	if cfg.Debug {
		ibutton.SetDebugEnabled(true)
	}
	if cfg.LogDir != "" {
		path, err := ibutton.InitSessionLog(cfg.LogDir)
		if err != nil {
			return err
		}
		defer func() { _ = ibutton.CloseSessionLog() }()
		_, _ = fmt.Fprintf(out, "Session log: %s\n", path)
	}

	registry := newRegistry(cfg)
	if opts.command == "info" {
		return runInfo(registry, opts.args[0], out)
	}

	var key *ibutton.Key
	if opts.command != "read" {
		key = ibutton.NewKey()
		if err := registry.LoadFile(opts.args[0], key); err != nil {
			return err
		}
	}

	hw, err := openHardware(ctx, cfg, opts.command == "emulate")
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close hardware: %v\n", err)
		}
	}()

	var pub publisher = nopPublisher{}
	if opts.command == "read" {
		if pub, err = newPublisher(cfg.MQTT); err != nil {
			return err
		}
		defer pub.Close()
	}

	w := worker.New(registry, hw.env, worker.WithConfig(cfg.workerConfig()))
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Close()

	a := &app{registry: registry, worker: w, pub: pub, out: out, now: time.Now}
	switch opts.command {
	case "read":
		return a.read(ctx, opts.output, opts.continuous)
	case "write":
		return a.write(ctx, key, false)
	case "copy":
		return a.write(ctx, key, true)
	default:
		return a.emulate(ctx, key)
	}
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	opts, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, opts, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

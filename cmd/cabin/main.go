// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// cabin is a terminal chat client for cabals: peer-to-peer chat
// networks named by a shared key. One process can take part in several
// cabals at once, each with its own listeners, peer connections and
// channels.
//
// The interactive screen is used when stdin is a terminal. Otherwise,
// or with --plain, commands are read line by line from stdin and every
// new window line is printed to stdout, which makes cabin scriptable:
//
//	printf '/cabal add %s\n/listen 4000\n' "$KEY" | cabin --plain
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/cabin-chat/cabin/lib/clock"
	"github.com/cabin-chat/cabin/lib/config"
	"github.com/cabin-chat/cabin/lib/identity"
	"github.com/cabin-chat/cabin/lib/logging"
	"github.com/cabin-chat/cabin/lib/version"
	"github.com/cabin-chat/cabin/session"
	"github.com/cabin-chat/cabin/transport"
	"github.com/cabin-chat/cabin/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

// usageError is a bad invocation; it exits with status 2.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
func (e *usageError) ExitCode() int { return 2 }

// options are the command-line flags. Empty values leave the
// configuration untouched.
type options struct {
	configPath string
	logLevel   string
	nick       string
	dataDir    string
	store      string
	plain      bool
	noColor    bool
	version    bool
	help       bool
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet("cabin", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: $"+config.EnvConfig+", else built-in defaults)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (default: $"+logging.EnvLevel+", else log_level)")
	flagSet.StringVarP(&opts.nick, "nick", "n", "", "nickname announced to every cabal")
	flagSet.StringVar(&opts.dataDir, "data-dir", "", "directory for the identity, post store and log file")
	flagSet.StringVar(&opts.store, "store", "", "post store: memory or disk")
	flagSet.BoolVar(&opts.plain, "plain", false, "line-oriented mode: read commands from stdin, print window lines to stdout")
	flagSet.BoolVar(&opts.noColor, "no-color", false, "disable colours in the terminal UI")
	flagSet.BoolVar(&opts.version, "version", false, "print version information and exit")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show this help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			opts.help = true
			return &opts, flagSet, nil
		}
		return nil, flagSet, &usageError{err: err}
	}
	if flagSet.NArg() > 0 {
		return nil, flagSet, &usageError{err: fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))}
	}
	return &opts, flagSet, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `cabin: peer-to-peer terminal chat.

Usage:
  cabin [flags]

Inside cabin, type /help for the command list.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if opts.dataDir != "" {
		dataDir, err := homedir.Expand(opts.dataDir)
		if err != nil {
			return nil, &usageError{err: fmt.Errorf("expanding --data-dir: %w", err)}
		}
		if cfg.LogFile == filepath.Join(cfg.DataDir, "cabin.log") {
			cfg.LogFile = filepath.Join(dataDir, "cabin.log")
		}
		cfg.DataDir = dataDir
	}
	if opts.nick != "" {
		cfg.Nick = opts.nick
	}
	if opts.store != "" {
		cfg.Store = opts.store
	}
	if opts.noColor {
		cfg.Color = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() error {
	opts, flagSet, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	if opts.help {
		printHelp(flagSet)
		return nil
	}
	if opts.version {
		version.Print(os.Stdout, "cabin")
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	level, err := logging.ResolveLevel(opts.logLevel, cfg.LogLevel)
	if err != nil {
		return &usageError{err: err}
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	plain := opts.plain || !term.IsTerminal(int(os.Stdin.Fd()))

	var logger *slog.Logger
	var logHandler *tui.LogHandler
	switch {
	case plain:
		logger = logging.New(os.Stderr, level)
	case cfg.LogFile == "-":
		logHandler = tui.NewLogHandler(max(level, slog.LevelWarn))
		logger = slog.New(logHandler)
	default:
		fileLogger, logFile, err := logging.OpenFile(cfg.LogFile, level)
		if err != nil {
			return err
		}
		defer logFile.Close()
		logHandler = tui.NewLogHandler(max(level, slog.LevelWarn))
		logger = slog.New(logging.Fanout(fileLogger.Handler(), logHandler))
	}

	self, created, err := identity.LoadOrCreate(filepath.Join(cfg.DataDir, identity.FileName), os.Getenv(identity.EnvPassphrase))
	if err != nil {
		return err
	}
	if created {
		logger.Info("created identity", "peer", self.PeerID().String(), "data_dir", cfg.DataDir)
	}

	realClock := clock.Real()
	var renderer session.Renderer
	var programRenderer *tui.ProgramRenderer
	if plain {
		renderer = tui.NewPlain(os.Stdout, nil)
	} else {
		programRenderer = &tui.ProgramRenderer{}
		renderer = programRenderer
	}

	orchestrator, err := session.New(session.Config{
		Signer:           self,
		Engines:          engineFactory(cfg, self, realClock, logger),
		Dialer:           &transport.TCPDialer{Timeout: cfg.DialTimeout},
		Renderer:         renderer,
		Clock:            realClock,
		Logger:           logger,
		Nick:             cfg.Nick,
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		DeadTimeout:      cfg.DeadTimeout,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		OutboundQueue:    cfg.OutboundQueue,
	})
	if err != nil {
		return err
	}
	bus := orchestrator.Bus()
	for _, line := range startupCommands(cfg) {
		bus.Publish(session.UserInput{Line: line})
	}

	var program *tea.Program
	if !plain {
		profile := tui.ColorProfile(os.Stdout, cfg.Color)
		model := tui.NewModel(tui.Config{
			Submit:   func(line string) { bus.Publish(session.UserInput{Line: line}) },
			Renderer: tui.NewRenderer(os.Stdout, profile),
		})
		program = tea.NewProgram(model, tea.WithAltScreen())
		programRenderer.SetProgram(program)
		logHandler.SetProgram(program)
	}

	signalContext, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	runContext, cancel := context.WithCancel(signalContext)
	defer cancel()
	group, groupContext := errgroup.WithContext(runContext)

	group.Go(func() error {
		defer cancel()
		if program != nil {
			defer program.Quit()
		}
		return orchestrator.Run(groupContext)
	})
	group.Go(func() error {
		return session.RunTicker(groupContext, realClock, cfg.TickInterval, bus)
	})
	if plain {
		// Reading stdin cannot be interrupted, so the reader is not
		// waited for; it ends with the process.
		go func() {
			if err := tui.ReadInput(groupContext, os.Stdin, bus); err != nil {
				logger.Warn("input ended", "error", err)
			}
		}()
	} else {
		group.Go(func() error {
			defer cancel()
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("terminal ui: %w", err)
			}
			return nil
		})
	}

	return group.Wait()
}

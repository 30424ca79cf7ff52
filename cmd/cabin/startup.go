// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cabin-chat/cabin/lib/clock"
	"github.com/cabin-chat/cabin/lib/config"
	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/protocol"
	"github.com/cabin-chat/cabin/session"
)

// startupCommands turns the configured cabals and endpoints into the
// command lines a user would type, so startup goes through the same
// dispatch and error reporting as interactive use. The first cabal is
// left active.
func startupCommands(cfg *config.Config) []string {
	var lines []string
	for _, key := range cfg.Cabals {
		lines = append(lines, "/cabal add "+key.String())
	}
	current := ref.CabalKey{}
	if len(cfg.Cabals) > 0 {
		current = cfg.Cabals[len(cfg.Cabals)-1]
	}
	use := func(key ref.CabalKey) {
		if key != current {
			lines = append(lines, "/cabal set "+key.String())
			current = key
		}
	}
	for _, endpoint := range cfg.Listen {
		use(cfg.CabalFor(endpoint))
		lines = append(lines, "/listen "+endpoint.Address)
	}
	for _, endpoint := range cfg.Connect {
		use(cfg.CabalFor(endpoint))
		lines = append(lines, "/connect "+endpoint.Address)
	}
	if len(cfg.Cabals) > 0 {
		use(cfg.Cabals[0])
	}
	return lines
}

// engineFactory builds a gossip engine per cabal with the configured
// post store. Disk stores live under <data_dir>/cabals/<key>.
func engineFactory(cfg *config.Config, signer protocol.Signer, c clock.Clock, logger *slog.Logger) session.EngineFactory {
	return func(key ref.CabalKey) (protocol.Engine, error) {
		engineLogger := logger.With("cabal", key.Short())
		var store protocol.Store
		switch cfg.Store {
		case config.StoreDisk:
			disk, err := protocol.OpenDiskStore(filepath.Join(cfg.DataDir, "cabals", key.String()), engineLogger)
			if err != nil {
				return nil, fmt.Errorf("opening post store: %w", err)
			}
			store = disk
		default:
			store = protocol.NewMemoryStore()
		}
		return protocol.NewGossip(protocol.GossipConfig{
			Signer:        signer,
			Store:         store,
			Clock:         c,
			Logger:        engineLogger,
			HistoryWindow: cfg.HistoryWindow,
		})
	}
}

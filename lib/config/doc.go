// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for cabin.
//
// Configuration comes from a single file named by the --config flag
// (via [LoadFile]) or the CABIN_CONFIG environment variable (via
// [Load]). There is no search path. When neither is given, [Load]
// returns [Default]. A path that is given but cannot be read is an
// error, never a silent fallback.
//
// Path fields (data_dir, log_file) accept a leading ~ and ${VAR} or
// ${VAR:-default} references; ${CABIN_DATA_DIR} in log_file refers to
// the resolved data directory. Durations use Go syntax ("5s", "336h").
//
// Key exports:
//
//   - [Config] with timing, storage and startup fields
//   - [Endpoint] for the listen/connect startup lists
//   - [Default], [Load], [LoadFile] and [Config.Validate]
package config

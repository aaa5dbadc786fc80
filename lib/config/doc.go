// Copyright 2026 The sixfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML and flag-driven configuration loading
// for sixfs mount profiles.
//
// Configuration can be loaded from a YAML file specified by either the
// SIXFS_CONFIG environment variable (via [Load]) or an explicit path
// (via [LoadFile]). There are no fallbacks and no automatic file
// search: if neither is set, callers fall back to [Default] plus
// command-line flags. This keeps mount configuration deterministic and
// auditable.
//
// Variable expansion is performed on the Dir field after loading:
// ${HOME} and ${VAR:-default} patterns are expanded, matching the
// convention used across the corpus this package is drawn from.
//
// Key exports:
//
//   - [Config] -- master struct: Dir, MaxSize, KeyFile, PunchHoles, Backend, Log
//   - [Default] -- returns a Config with conservative defaults
//   - [Load] and [LoadFile] -- the two entry points for loading a file
//   - [Config.ParsedMaxSize] -- resolves the human-readable MaxSize string
//
// This package depends on no other sixfs packages besides lib/secret,
// which it uses to hold the loaded encryption key.
package config

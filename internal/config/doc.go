// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for backroom.
//
// TOML, YAML and JSON files are supported, with defaults, environment
// variable overrides, validation, and hot reload of the model catalog.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - EngineConfig: Roster, system message, turn timeout, busy policy
//   - StorageConfig: Conversation backend (file, sqlite, redis, memory)
//   - CredentialsConfig: API key backend (sqlite, mysql, env, memory)
//   - Watcher: fsnotify-based reloader
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (BACKROOM_*)
//   - ~/.backroom/config.toml
//   - ~/.backroom/config.yaml
//   - ~/.backroom/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := config.Watch(path, 0, func(next *config.Config) {
//	    reg.Replace(next.Models, next.Engine.Roster)
//	})
//	defer w.Close()
package config

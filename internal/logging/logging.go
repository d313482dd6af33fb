// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide standard logger.
//
// Log lines follow the EVENT_NAME | key=value convention used throughout
// backroom, for example:
//
//	TURN_COMMITTED | session=... model=gpt-4o index=0 duration=1.2s
//
// Setup routes output to stderr, a log file, or both.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/jeranaias/backroom/internal/config"
)

// Flags are the standard logger flags used by backroom.
const Flags = log.LstdFlags | log.LUTC

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures the standard logger from cfg. The returned closer releases
// the log file, if one was opened; it is never nil.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	return setup(cfg, os.Stderr)
}

func setup(cfg config.LoggingConfig, stderr io.Writer) (io.Closer, error) {
	log.SetFlags(Flags)
	log.SetPrefix("")

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, stderr)
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return closer, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return closer, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}
	return closer, nil
}

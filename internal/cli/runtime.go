// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/jeranaias/backroom/internal/config"
	"github.com/jeranaias/backroom/internal/credentials"
	"github.com/jeranaias/backroom/internal/engine"
	"github.com/jeranaias/backroom/internal/registry"
	"github.com/jeranaias/backroom/internal/storage"
	"github.com/jeranaias/backroom/internal/telemetry"
)

// =============================================================================
// RUNTIME
// =============================================================================

// Runtime holds the components built from one configuration.
type Runtime struct {
	Config   *config.Config
	Store    storage.Store
	Creds    credentials.Store
	Registry *registry.Registry
	Engine   *engine.Engine
	Stats    *telemetry.Stats

	closers []io.Closer
}

// NewRuntime opens the configured backends and wires the engine.
// Close releases everything opened here.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Stats: telemetry.NewStats()}

	store, err := rt.openStorage(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	rt.Store = store

	creds, err := rt.openCredentials(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("credentials: %w", err)
	}
	rt.Creds = creds

	reg, err := registry.New(cfg.Models, cfg.Engine.Roster, creds)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("registry: %w", err)
	}
	rt.Registry = reg

	recorders := telemetry.Multi{rt.Stats}
	if cfg.Events.AMQPURL != "" {
		pub, err := telemetry.DialAMQP(cfg.Events.AMQPURL, cfg.Events.AMQPQueue)
		if err != nil {
			// Events are best effort; turns still run without a broker.
			log.Printf("EVENTS_DISABLED | error=%v", err)
		} else {
			rt.closers = append(rt.closers, pub)
			recorders = append(recorders, pub)
		}
	}

	rt.Engine = engine.New(reg, store).
		WithConfig(EngineConfig(cfg)).
		WithRecorder(recorders)
	return rt, nil
}

// EngineConfig converts the file configuration into engine settings.
func EngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		SystemMessage:      cfg.Engine.SystemMessage,
		TurnTimeout:        cfg.Engine.TurnTimeout.Duration,
		MaxTurnsPerRequest: cfg.Engine.MaxTurnsPerRequest,
		BusyPolicy:         cfg.Engine.BusyPolicy,
	}
}

// Reload applies a new configuration to the running registry and engine.
// Storage and credential backends are not reopened.
func (rt *Runtime) Reload(cfg *config.Config) error {
	if err := rt.Registry.Replace(cfg.Models, cfg.Engine.Roster); err != nil {
		return err
	}
	rt.Engine.SetConfig(EngineConfig(cfg))
	rt.Config = cfg
	return nil
}

// Close releases backends in reverse order of opening.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}

func (rt *Runtime) openStorage(ctx context.Context) (storage.Store, error) {
	sc := rt.Config.Storage
	switch sc.Backend {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil

	case config.StorageSQLite:
		path := sc.SQLitePath
		if path == "" {
			dir, err := config.ConfigDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "sessions.db")
		}
		s, err := storage.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s)
		return s, nil

	case config.StorageRedis:
		s, err := storage.OpenRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB, sc.RedisTTL.Duration)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s)
		return s, nil

	default:
		s, err := storage.NewFileStore(sc.Dir)
		if err != nil {
			return nil, err
		}
		s.MaxSessions = sc.MaxSessions
		return s, nil
	}
}

func (rt *Runtime) openCredentials(ctx context.Context) (credentials.Store, error) {
	cc := rt.Config.Credentials

	var primary credentials.Store
	switch cc.Backend {
	case config.CredentialsMemory:
		primary = credentials.NewMemoryStore()

	case config.CredentialsEnv:
		return credentials.NewEnvStore(rt.Config.Models), nil

	case config.CredentialsMySQL:
		s, err := credentials.OpenMySQL(ctx, cc.MySQLDSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s)
		if primary, err = rt.sealed(s); err != nil {
			return nil, err
		}

	default:
		path := cc.SQLitePath
		if path == "" {
			dir, err := config.ConfigDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "credentials.db")
		}
		s, err := credentials.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s)
		if primary, err = rt.sealed(s); err != nil {
			return nil, err
		}
	}

	if cc.EnvFallback {
		return credentials.Chain{primary, credentials.NewEnvStore(rt.Config.Models)}, nil
	}
	return primary, nil
}

// sealed attaches a Sealer when a passphrase is configured.
func (rt *Runtime) sealed(s *credentials.SQLStore) (credentials.Store, error) {
	if rt.Config.Credentials.Passphrase == "" {
		return s, nil
	}
	sealer, err := credentials.NewSealer(rt.Config.Credentials.Passphrase)
	if err != nil {
		return nil, err
	}
	return s.WithSealer(sealer), nil
}

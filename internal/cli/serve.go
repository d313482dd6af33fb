// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	ucli "github.com/urfave/cli/v3"

	"github.com/jeranaias/backroom/internal/config"
	"github.com/jeranaias/backroom/internal/server"
)

func (a *app) serveCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Flags: []ucli.Flag{
			&ucli.StringFlag{Name: "addr", Usage: "listen address (overrides server.addr)"},
			&ucli.BoolFlag{Name: "no-watch", Usage: "do not reload the config file on change"},
		},
		Action: a.runServe,
	}
}

func (a *app) runServe(ctx context.Context, cmd *ucli.Command) error {
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = rt.Config.Server.Addr
	}
	srv := newServer(addr, rt)

	if path := a.configPath(); path != "" && !cmd.Bool("no-watch") {
		w, err := config.Watch(path, config.DefaultDebounce, func(cfg *config.Config) {
			if err := rt.Reload(cfg); err != nil {
				log.Printf("CONFIG_APPLY_FAILED | error=%v", err)
			}
		})
		if err != nil {
			log.Printf("CONFIG_WATCH_ERROR | path=%s error=%v", path, err)
		} else {
			defer w.Close()
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(stdout(cmd), "%s listening on %s\n", TitleStyle.Render("backroom"), srv.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		return err
	}
	return <-errCh
}

// newServer builds the HTTP server from the [server] section.
func newServer(addr string, rt *Runtime) *server.Server {
	sc := rt.Config.Server
	cors := server.DefaultCORSConfig()
	cors.AllowedOrigins = sc.CORSOrigins

	var limiter *server.RateLimiter
	if sc.RatePerSec > 0 {
		limiter = server.NewRateLimiter(sc.RatePerSec, sc.RateBurst)
	}

	return server.NewServer(addr, rt.Engine).
		WithCatalog(rt.Registry).
		WithStats(rt.Stats).
		WithAuth(&server.AuthConfig{
			Enabled:     sc.AuthEnabled,
			BearerToken: sc.BearerToken,
			Tokens:      sc.Tokens,
		}).
		WithCORS(cors).
		WithRateLimiter(limiter).
		WithMaxBody(sc.MaxBodyBytes)
}

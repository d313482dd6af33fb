// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	ucli "github.com/urfave/cli/v3"

	"github.com/jeranaias/backroom/internal/config"
	"github.com/jeranaias/backroom/internal/logging"
)

// Version information, set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app carries state shared by every command of one invocation.
type app struct {
	cfgPath string
	cfg     *config.Config
	logs    io.Closer
}

// NewApp builds the backroom command tree.
//
// Errors are returned from Run rather than terminating the process; the
// caller decides the exit code.
func NewApp() *ucli.Command {
	a := &app{}
	return &ucli.Command{
		Name:    "backroom",
		Usage:   "let several language models talk to each other",
		Version: Version,
		Flags: []ucli.Flag{
			&ucli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a config file (toml, yaml or json)",
				Sources:     ucli.EnvVars("BACKROOM_CONFIG"),
				Destination: &a.cfgPath,
			},
			&ucli.StringFlag{
				Name:  "log-file",
				Usage: "also write logs to this file",
			},
			&ucli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "suppress log output on stderr",
			},
		},
		Commands: []*ucli.Command{
			a.serveCommand(),
			a.turnCommand(),
			a.chatCommand(),
			a.keysCommand(),
			a.sessionsCommand(),
			a.configCommand(),
			versionCommand(),
		},
		After: func(ctx context.Context, cmd *ucli.Command) error {
			if a.logs != nil {
				return a.logs.Close()
			}
			return nil
		},
		ExitErrHandler: func(context.Context, *ucli.Command, error) {},
	}
}

// Run executes the command tree with args and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	if err := NewApp().Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// config loads the configuration once per invocation and sets up logging.
func (a *app) config(cmd *ucli.Command) (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}

	var cfg *config.Config
	var err error
	if a.cfgPath != "" {
		cfg, err = config.LoadFromPath(a.cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	root := cmd.Root()
	if f := root.String("log-file"); f != "" {
		cfg.Logging.File = f
	}
	if root.Bool("quiet") {
		cfg.Logging.Quiet = true
	}
	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a.logs = closer
	a.cfg = cfg
	config.SetGlobal(cfg)
	return cfg, nil
}

// runtime loads the configuration and opens every backend.
func (a *app) runtime(ctx context.Context, cmd *ucli.Command) (*Runtime, error) {
	cfg, err := a.config(cmd)
	if err != nil {
		return nil, err
	}
	return NewRuntime(ctx, cfg)
}

// configPath returns the file a running server should watch, or "".
func (a *app) configPath() string {
	if a.cfgPath != "" {
		return a.cfgPath
	}
	path, err := config.FindConfigFile()
	if err != nil {
		return ""
	}
	return path
}

func stdout(cmd *ucli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stdin(cmd *ucli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}

func versionCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "version",
		Usage: "print version information",
		Action: func(ctx context.Context, cmd *ucli.Command) error {
			fmt.Fprintf(stdout(cmd), "backroom %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}

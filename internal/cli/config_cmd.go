// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ucli "github.com/urfave/cli/v3"

	"github.com/jeranaias/backroom/internal/config"
)

func (a *app) configCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "config",
		Usage: "show, validate or create the configuration",
		Commands: []*ucli.Command{
			{
				Name:  "show",
				Usage: "print the effective configuration (secrets redacted)",
				Action: func(ctx context.Context, cmd *ucli.Command) error {
					cfg, err := a.config(cmd)
					if err != nil {
						return err
					}
					fmt.Fprintln(stdout(cmd), cfg.String())
					return nil
				},
			},
			{
				Name:   "validate",
				Usage:  "check the configuration and report every problem",
				Action: a.runConfigValidate,
			},
			{
				Name:  "init",
				Usage: "write a default configuration file",
				Flags: []ucli.Flag{
					&ucli.StringFlag{Name: "path", Usage: "destination (default ~/.backroom/config.toml)"},
					&ucli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: a.runConfigInit,
			},
		},
	}
}

func (a *app) runConfigValidate(ctx context.Context, cmd *ucli.Command) error {
	w := stdout(cmd)
	_, err := a.config(cmd)
	if err == nil {
		fmt.Fprintln(w, SuccessStyle.Render("configuration is valid"))
		return nil
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		for _, v := range verrs {
			fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("x"), v.Error())
		}
		return fmt.Errorf("%d configuration problem(s)", len(verrs))
	}
	return err
}

func (a *app) runConfigInit(ctx context.Context, cmd *ucli.Command) error {
	path := cmd.String("path")
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = config.SaveJSON(cfg, path)
	case ".yaml", ".yml":
		err = config.SaveYAML(cfg, path)
	default:
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "%s wrote %s\n", SuccessStyle.Render("OK"), path)
	return nil
}

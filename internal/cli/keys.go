// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	ucli "github.com/urfave/cli/v3"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/session"
)

func (a *app) keysCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "keys",
		Usage: "manage per-user API keys",
		Commands: []*ucli.Command{
			{
				Name:   "set",
				Usage:  "store a key (read from stdin, hidden on a terminal)",
				Flags:  []ucli.Flag{userFlag(), modelFlag()},
				Action: a.runKeysSet,
			},
			{
				Name:   "list",
				Usage:  "list which models have a key",
				Flags:  []ucli.Flag{userFlag()},
				Action: a.runKeysList,
			},
			{
				Name:   "delete",
				Usage:  "remove a stored key",
				Flags:  []ucli.Flag{userFlag(), modelFlag()},
				Action: a.runKeysDelete,
			},
		},
	}
}

func userFlag() ucli.Flag {
	return &ucli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "user id", Value: session.DefaultUser}
}

func modelFlag() ucli.Flag {
	return &ucli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model id", Required: true}
}

func (a *app) runKeysSet(ctx context.Context, cmd *ucli.Command) error {
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	user, modelID := cmd.String("user"), cmd.String("model")
	if !rt.Registry.Has(modelID) {
		return fmt.Errorf("unknown model %q", modelID)
	}

	secret, err := readSecret(stdout(cmd), stdin(cmd), fmt.Sprintf("API key for %s: ", modelID))
	if err != nil {
		return err
	}
	if secret == "" {
		return errors.New("no key entered")
	}
	if err := rt.Creds.Put(ctx, user, modelID, secret); err != nil {
		return err
	}

	fp := model.NewCredential(user, modelID, secret).Fingerprint()
	fmt.Fprintf(stdout(cmd), "%s stored key for %s/%s (%s)\n", SuccessStyle.Render("OK"), user, modelID, fp)
	return nil
}

func (a *app) runKeysList(ctx context.Context, cmd *ucli.Command) error {
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.Creds.List(ctx, cmd.String("user"))
	if err != nil {
		return err
	}
	w := stdout(cmd)
	if len(entries) == 0 {
		fmt.Fprintln(w, DimStyle.Render("no keys stored"))
		return nil
	}
	for _, e := range entries {
		updated := "-"
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s %-12s %s\n", RenderLabel(e.ModelID, 24), e.Source, DimStyle.Render(updated))
	}
	return nil
}

func (a *app) runKeysDelete(ctx context.Context, cmd *ucli.Command) error {
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	user, modelID := cmd.String("user"), cmd.String("model")
	if err := rt.Creds.Delete(ctx, user, modelID); err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "%s removed key for %s/%s\n", SuccessStyle.Render("OK"), user, modelID)
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ucli "github.com/urfave/cli/v3"

	"github.com/jeranaias/backroom/internal/storage"
	"github.com/jeranaias/backroom/internal/util"
)

// Column widths for `sessions list`.
const (
	colSession  = 36
	colMessages = 6
	colUpdated  = 16
)

func (a *app) sessionsCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "sessions",
		Usage: "inspect stored conversations",
		Commands: []*ucli.Command{
			{
				Name:   "list",
				Usage:  "list sessions, most recent first",
				Flags:  []ucli.Flag{userFlag()},
				Action: a.runSessionsList,
			},
			{
				Name:      "show",
				Usage:     "print a session's transcript",
				ArgsUsage: "ID",
				Flags:     []ucli.Flag{userFlag()},
				Action:    a.runSessionsShow,
			},
			{
				Name:      "clear",
				Usage:     "delete a session's conversation",
				ArgsUsage: "ID",
				Flags:     []ucli.Flag{userFlag()},
				Action:    a.runSessionsClear,
			},
		},
	}
}

func (a *app) runSessionsList(ctx context.Context, cmd *ucli.Command) error {
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	metas, err := rt.Engine.Sessions(ctx, cmd.String("user"))
	if err != nil {
		return err
	}
	w := stdout(cmd)
	if len(metas) == 0 {
		fmt.Fprintln(w, DimStyle.Render("no sessions stored"))
		return nil
	}
	fmt.Fprintln(w, formatSessionHeader())
	for _, m := range metas {
		fmt.Fprintln(w, formatSessionRow(m, GetTerminalWidth()))
	}
	return nil
}

func formatSessionHeader() string {
	return DimStyle.Render(util.PadRight("SESSION", colSession) + " " +
		util.PadRight("MSGS", colMessages) + " " +
		util.PadRight("UPDATED", colUpdated) + " PREVIEW")
}

// formatSessionRow lays out one session in width columns.
func formatSessionRow(m storage.Meta, width int) string {
	previewWidth := width - colSession - colMessages - colUpdated - 3
	if previewWidth < 10 {
		previewWidth = 10
	}
	updated := "-"
	if !m.UpdatedAt.IsZero() {
		updated = m.UpdatedAt.Local().Format("2006-01-02 15:04")
	}
	return strings.Join([]string{
		util.PadRight(util.TruncateWidth(m.SessionID, colSession), colSession),
		util.PadRight(fmt.Sprintf("%d", m.MessageCount), colMessages),
		util.PadRight(updated, colUpdated),
		util.TruncateWidth(util.OneLine(m.Preview), previewWidth),
	}, " ")
}

func sessionArg(cmd *ucli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", errors.New("session id required")
	}
	return id, nil
}

func (a *app) runSessionsShow(ctx context.Context, cmd *ucli.Command) error {
	id, err := sessionArg(cmd)
	if err != nil {
		return err
	}
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	conv, err := rt.Engine.Transcript(ctx, cmd.String("user"), id)
	if err != nil {
		return err
	}
	printTranscript(stdout(cmd), conv.Messages(), rt.Engine.Roster())
	return nil
}

func (a *app) runSessionsClear(ctx context.Context, cmd *ucli.Command) error {
	id, err := sessionArg(cmd)
	if err != nil {
		return err
	}
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Engine.Clear(ctx, cmd.String("user"), id); err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "%s cleared %s\n", SuccessStyle.Render("OK"), id)
	return nil
}

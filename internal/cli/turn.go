// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	ucli "github.com/urfave/cli/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/backroom/internal/engine"
	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// DefaultCLISession is the session used when --session is not given.
const DefaultCLISession = "cli"

// turnOutput is the --json form of a turn run.
type turnOutput struct {
	OK        bool          `json:"ok"`
	SessionID string        `json:"session_id"`
	Turns     []engine.Turn `json:"turns"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Status    int           `json:"status,omitempty"`
}

func (a *app) turnCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "turn",
		Usage: "run one or more turns and print the replies",
		Flags: []ucli.Flag{
			&ucli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "operator text", Required: true},
			&ucli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "talk to one model instead of the roster"},
			&ucli.IntFlag{Name: "turns", Aliases: []string{"n"}, Usage: "number of turns", Value: 1},
			&ucli.IntFlag{Name: "max-tokens", Usage: "reply length cap"},
			&ucli.FloatFlag{Name: "temperature", Usage: "sampling temperature (0-2)"},
			&ucli.StringFlag{Name: "system", Usage: "system message override"},
			&ucli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "session id", Value: DefaultCLISession},
			&ucli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "user id for key lookup", Value: "local"},
			&ucli.BoolFlag{Name: "json", Usage: "print JSON"},
		},
		Action: a.runTurn,
	}
}

func (a *app) runTurn(ctx context.Context, cmd *ucli.Command) error {
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	params := model.GenerationParams{
		MaxTokens:      cmd.Int("max-tokens"),
		SystemOverride: cmd.String("system"),
	}
	if cmd.IsSet("temperature") {
		params.Temperature = model.Float(cmd.Float("temperature"))
	}

	req := engine.TurnRequest{
		SessionID: cmd.String("session"),
		UserID:    cmd.String("user"),
		UserText:  norm.NFC.String(cmd.String("prompt")),
		ModelID:   cmd.String("model"),
		TurnCount: cmd.Int("turns"),
		Params:    params,
	}
	report, runErr := rt.Engine.RunTurns(ctx, req)

	w := stdout(cmd)
	if cmd.Bool("json") {
		out := turnOutput{OK: runErr == nil, SessionID: req.SessionID, Turns: report.Turns}
		if runErr != nil {
			out.ErrorKind = turnerr.KindOf(runErr).String()
			out.Message = turnerr.MessageOf(runErr)
			out.Status = turnerr.StatusOf(runErr)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		return runErr
	}

	printTurns(w, report.Turns, rt.Registry.Roster(), nil)
	if runErr != nil {
		return fmt.Errorf("%s: %s", turnerr.KindOf(runErr), turnerr.MessageOf(runErr))
	}
	return nil
}

// printTurns writes each turn as a speaker header followed by the reply.
func printTurns(w io.Writer, turns []engine.Turn, roster []string, md markdownFunc) {
	for _, t := range turns {
		fmt.Fprintln(w, SpeakerStyle(rosterIndex(roster, t.ModelID)).Render("["+t.ModelID+"]"))
		reply := t.ReplyText
		if md != nil {
			reply = md(reply)
		}
		fmt.Fprintln(w, reply)
		fmt.Fprintln(w)
	}
}

type markdownFunc func(string) string

func rosterIndex(roster []string, modelID string) int {
	for i, id := range roster {
		if id == modelID {
			return i
		}
	}
	return len(roster)
}

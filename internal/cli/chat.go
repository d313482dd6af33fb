// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	ucli "github.com/urfave/cli/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/backroom/internal/config"
	"github.com/jeranaias/backroom/internal/engine"
	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
	"github.com/jeranaias/backroom/internal/util"
)

const chatHelp = `Commands:
  /turns N       turns per message (1-%d)
  /model ID      talk to one model; /model auto returns to the roster
  /history       show the stored conversation
  /clear         start over
  /help          show this help
  /quit          leave (also Ctrl+D)`

func (a *app) chatCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "chat",
		Usage: "interactive conversation with the roster",
		Flags: []ucli.Flag{
			&ucli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "start with one model instead of the roster"},
			&ucli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "session id", Value: DefaultCLISession},
			&ucli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "user id for key lookup", Value: "local"},
			&ucli.IntFlag{Name: "turns", Aliases: []string{"n"}, Usage: "turns per message", Value: 1},
		},
		Action: a.runChat,
	}
}

// =============================================================================
// REPL STATE
// =============================================================================

// repl holds one interactive session. It is driven line by line so the
// command handling does not depend on a terminal.
type repl struct {
	engine   *engine.Engine
	out      io.Writer
	session  string
	user     string
	modelID  string
	turns    int
	maxTurns int
	markdown markdownFunc
}

// errQuit ends the loop.
var errQuit = errors.New("quit")

// handle processes one input line.
func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return r.command(ctx, line)
	}
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return errQuit
	}
	return r.send(ctx, line)
}

func (r *repl) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return errQuit

	case "/help", "/?":
		fmt.Fprintf(r.out, chatHelp+"\n", r.maxTurns)

	case "/turns":
		if len(args) != 1 {
			return fmt.Errorf("usage: /turns N")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > r.maxTurns {
			return fmt.Errorf("turns must be between 1 and %d", r.maxTurns)
		}
		r.turns = n
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("%d turn(s) per message", n)))

	case "/model":
		if len(args) != 1 {
			return fmt.Errorf("usage: /model ID|auto")
		}
		if strings.EqualFold(args[0], "auto") {
			r.modelID = ""
			fmt.Fprintln(r.out, DimStyle.Render("roster: "+strings.Join(r.engine.Roster(), ", ")))
			return nil
		}
		r.modelID = args[0]
		fmt.Fprintln(r.out, DimStyle.Render("talking to "+r.modelID))

	case "/history":
		conv, err := r.engine.Transcript(ctx, r.user, r.session)
		if err != nil {
			return err
		}
		printTranscript(r.out, conv.Messages(), r.engine.Roster())

	case "/clear":
		if err := r.engine.Clear(ctx, r.user, r.session); err != nil {
			return err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Conversation cleared."))

	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

func (r *repl) send(ctx context.Context, text string) error {
	report, err := r.engine.RunTurns(ctx, engine.TurnRequest{
		SessionID: r.session,
		UserID:    r.user,
		UserText:  norm.NFC.String(text),
		ModelID:   r.modelID,
		TurnCount: r.turns,
	})
	printTurns(r.out, report.Turns, r.engine.Roster(), r.markdown)
	if err != nil {
		return errors.New(turnerr.MessageOf(err))
	}
	return nil
}

// printTranscript writes every stored message with its speaker.
func printTranscript(w io.Writer, msgs []model.Message, roster []string) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(empty conversation)"))
		return
	}
	for _, m := range msgs {
		speaker := m.Role.DisplayName()
		style := DimStyle
		if m.Role == model.RoleAssistant {
			speaker = m.ModelID
			style = SpeakerStyle(rosterIndex(roster, m.ModelID))
		}
		fmt.Fprintf(w, "%s %s\n", style.Render(util.PadRight(speaker, 12)), m.Content)
	}
}

// =============================================================================
// LOOP
// =============================================================================

func (a *app) runChat(ctx context.Context, cmd *ucli.Command) error {
	if !IsTTY() {
		return &TTYRequiredError{Operation: "chat"}
	}
	rt, err := a.runtime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	r := &repl{
		engine:   rt.Engine,
		out:      stdout(cmd),
		session:  cmd.String("session"),
		user:     cmd.String("user"),
		modelID:  cmd.String("model"),
		turns:    cmd.Int("turns"),
		maxTurns: rt.Engine.Config().MaxTurnsPerRequest,
	}
	if md := newMarkdownRenderer(GetTerminalWidth() - 4); md != nil {
		r.markdown = func(s string) string { return renderMarkdown(md, s) }
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	history := historyPath()
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(history, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
		line.Close()
	}()

	fmt.Fprintln(r.out, TitleStyle.Render("backroom chat"))
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("session %s, roster %s. /help for commands.",
		r.session, strings.Join(rt.Engine.Roster(), ", "))))

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal all end the session.
			fmt.Fprintln(r.out)
			return nil
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		err = r.handle(ctx, input)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(r.out, ErrorStyle.Render("[Error]"), err)
		}
	}
}

func historyPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	_ = os.MkdirAll(dir, 0700)
	return filepath.Join(dir, "chat_history")
}

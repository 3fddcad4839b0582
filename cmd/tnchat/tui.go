package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/terminalnexus/tnchat/internal/api"
	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/session"
)

const historyLimit = 50

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Chat in a full-screen terminal interface",
		Long: `Chat in a full-screen terminal interface.

Tab toggles between the public and the anonymous room, Ctrl+C exits.
Logs go to --log-file only, the screen belongs to the interface.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg, nil)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			s, client, err := startSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			room := cfg.DefaultRoom
			if room == "" {
				room = core.RoomPublic
			}
			return newChatUI(s, client, room, logger).run(ctx)
		},
	}
}

// input is a line or a room switch queued for the session, in the order typed.
type input struct {
	text string
	room string
}

type chatUI struct {
	session *session.Session
	client  *api.Client
	logger  *zerolog.Logger
	room    string

	app          *tview.Application
	conversation *tview.TextView
	online       *tview.TextView
	status       *tview.TextView
	field        *tview.InputField

	inputs chan input
}

func newChatUI(s *session.Session, client *api.Client, room string, logger *zerolog.Logger) *chatUI {
	ui := &chatUI{
		session: s,
		client:  client,
		logger:  logger,
		room:    room,
		app:     tview.NewApplication(),
		inputs:  make(chan input, 64),
	}

	ui.conversation = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true).
		ScrollToEnd()
	ui.conversation.SetBorder(true).SetTitle(" " + room + " ")

	ui.online = tview.NewTextView().SetDynamicColors(true)
	ui.online.SetBorder(true).SetTitle(" Online ")

	ui.status = tview.NewTextView().SetDynamicColors(true)
	ui.status.SetText("[gray]connected as " + tview.Escape(s.Nickname()))

	ui.field = tview.NewInputField().
		SetLabel(s.Nickname() + " > ").
		SetFieldWidth(0).
		SetAcceptanceFunc(tview.InputFieldMaxLength(1024))
	ui.field.SetDoneFunc(ui.onDone)

	body := tview.NewFlex().
		AddItem(ui.conversation, 0, 1, false).
		AddItem(ui.online, 24, 0, false)
	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(ui.status, 1, 0, false).
		AddItem(ui.field, 1, 0, true)

	ui.app.SetRoot(layout, true).SetFocus(ui.field)
	ui.app.SetInputCapture(ui.onKey)
	return ui
}

func (ui *chatUI) run(ctx context.Context) error {
	ui.writeHistory(ui.room, ui.loadHistory(ctx, ui.room))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ui.send(ctx)
	go ui.pump()

	return ui.app.Run()
}

// send hands queued input to the session one item at a time.
func (ui *chatUI) send(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-ui.inputs:
			// Failures come back as notice events.
			if in.room != "" {
				_ = ui.session.SwitchRoom(ctx, in.room)
			} else {
				_ = ui.session.Submit(ctx, in.text)
			}
		}
	}
}

// pump moves session events onto the UI goroutine and stops the UI when the
// session ends.
func (ui *chatUI) pump() {
	for ev := range ui.session.Events() {
		ui.app.QueueUpdateDraw(func() { ui.apply(ev) })
	}
	ui.app.Stop()
}

func (ui *chatUI) apply(ev core.Event) {
	switch ev.Kind {
	case core.EventRoomSwitched:
		ui.room = ev.Room
		ui.conversation.Clear()
		ui.conversation.SetTitle(" " + ev.Room + " ")
		ui.online.Clear()
		go ui.refreshHistory(ev.Room)
	case core.EventPresence:
		names := make([]string, len(ev.Users))
		for i, u := range ev.Users {
			names[i] = tview.Escape(u)
		}
		ui.online.SetText(strings.Join(names, "\n"))
	case core.EventState:
		ui.status.SetText("[gray]" + tview.Escape(ev.State))
	default:
		if l, ok := describe(ev, ui.session.Nickname()); ok {
			ui.writeLine(l)
		}
	}
}

func (ui *chatUI) writeLine(l line) {
	fmt.Fprintf(ui.conversation, "[%s]%s[-]\n", l.color, tview.Escape(l.text))
	ui.conversation.ScrollToEnd()
}

func (ui *chatUI) loadHistory(ctx context.Context, room string) []api.Message {
	messages, err := ui.client.History(ctx, room, historyLimit, 0)
	if err != nil {
		ui.logger.Warn().Err(err).Str("room", room).Msg("load history")
		return nil
	}
	return messages
}

func (ui *chatUI) refreshHistory(room string) {
	messages := ui.loadHistory(context.Background(), room)
	ui.app.QueueUpdateDraw(func() { ui.writeHistory(room, messages) })
}

func (ui *chatUI) writeHistory(room string, messages []api.Message) {
	if room != ui.room {
		return
	}
	for _, m := range messages {
		msg := core.MessageFromPayload(m.ChatMessage)
		if l, ok := describe(core.Event{Kind: core.EventMessage, Room: room, Message: msg}, ui.session.Nickname()); ok {
			l.color = "gray"
			ui.writeLine(l)
		}
	}
}

func (ui *chatUI) onDone(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	text := strings.TrimSpace(ui.field.GetText())
	ui.field.SetText("")
	switch {
	case text == "":
	case text == ":quit" || text == ":q":
		ui.app.Stop()
	case strings.HasPrefix(text, ":room "):
		ui.queue(input{room: strings.TrimSpace(strings.TrimPrefix(text, ":room "))})
	default:
		ui.queue(input{text: text})
	}
}

func (ui *chatUI) onKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC:
		ui.app.Stop()
		return nil
	case tcell.KeyTab:
		next := core.RoomAnonymous
		if ui.room == core.RoomAnonymous {
			next = core.RoomPublic
		}
		ui.queue(input{room: next})
		return nil
	}
	return event
}

func (ui *chatUI) queue(in input) {
	select {
	case ui.inputs <- in:
	default:
		ui.writeLine(line{text: "! too much input, slow down", color: "red"})
	}
}

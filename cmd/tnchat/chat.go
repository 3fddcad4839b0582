package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/terminalnexus/tnchat/internal/core"
	"github.com/terminalnexus/tnchat/internal/session"
)

const chatHelp = `:room <id>   switch room (public, anonymous or any room id)
:who         list users online in the current room
:quit        leave and exit
/w <user> <text>, /whisper <user> <text>, /r <text>   private messages`

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in line mode over stdin and stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			s, _, err := startSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			out := &lockedWriter{w: cmd.OutOrStdout()}
			fmt.Fprintf(out, "connected as %s, type :help for commands\n", s.Nickname())

			quit := runInput(ctx, out, s, readLines(cmd.InOrStdin()))
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-quit:
					return nil
				case ev, ok := <-s.Events():
					if !ok {
						return nil
					}
					printEvent(out, ev, s.Nickname())
				}
			}
		},
	}
}

// runInput executes input lines in order on its own goroutine so the event
// reader is never waiting on the session. The returned channel is closed on
// :quit or end of input.
func runInput(ctx context.Context, out io.Writer, s *session.Session, input <-chan string) <-chan struct{} {
	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for text := range input {
			if runLine(ctx, out, s, text) {
				return
			}
		}
	}()
	return quit
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// runLine executes one line of input and reports whether the user asked to quit.
func runLine(ctx context.Context, out io.Writer, s *session.Session, text string) bool {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return false
	case text == ":quit" || text == ":q":
		return true
	case text == ":help":
		fmt.Fprintln(out, chatHelp)
	case text == ":who":
		users, err := s.Online(ctx)
		if err != nil {
			fmt.Fprintln(out, "!", err)
			return false
		}
		fmt.Fprintln(out, "online:", formatUsers(users))
	// Session command failures arrive as notice events.
	case strings.HasPrefix(text, ":room"):
		room := strings.TrimSpace(strings.TrimPrefix(text, ":room"))
		if room == "" {
			fmt.Fprintln(out, "usage: :room <id>")
			return false
		}
		_ = s.SwitchRoom(ctx, room)
	default:
		_ = s.Submit(ctx, text)
	}
	return false
}

func printEvent(out io.Writer, ev core.Event, self string) {
	if ev.Kind == core.EventRoomSwitched {
		fmt.Fprintf(out, "== %s ==\n", ev.Room)
		return
	}
	if l, ok := describe(ev, self); ok {
		fmt.Fprintln(out, l.text)
	}
}

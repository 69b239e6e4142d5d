package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"rollcall/internal/apiclient"
	"rollcall/internal/events"
	"rollcall/internal/livefeed"
	"rollcall/internal/session"
	"rollcall/pkg/interfaces"
)

const consoleHelp = `Commands:
  list              show the roster
  toggle <id>       flip a student's presence
  status            show the code and time left
  extend            add time (only in the last 10 seconds)
  cancel            end the session early
  refresh           reload the roster
  quit              leave; a running session keeps running on the server
`

func newRunCommand(opts *options, stdin io.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   "run <group-id>",
		Short: "Start an attendance session for a group and manage it interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group id %q", args[0])
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			client, err := opts.client(cfg)
			if err != nil {
				return err
			}

			sessionOpts := session.Options{
				TickInterval:  cfg.Session.TickInterval,
				AlertDuration: cfg.Session.AlertDuration,
				FadeDuration:  cfg.Session.FadeDuration,
				CallTimeout:   cfg.API.Timeout,
			}
			if cfg.API.LiveFeed {
				feed, err := livefeed.New(cfg.API.BaseURL, apiclient.TokenSourceFor(cfg.API.Token, cfg.API.TokenFile))
				if err != nil {
					return err
				}
				sessionOpts.Feed = feed
			}

			return runConsole(cmd.Context(), client, client, sessionOpts, groupID, stdin, cmd.OutOrStdout())
		},
	}
}

// syncWriter serializes writes from the command loop and the event printer
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runConsole starts a session for groupID and executes commands read from in
// until the session ends, input runs out or the lecturer quits
func runConsole(ctx context.Context, sessions interfaces.SessionAPI, rosterAPI interfaces.RosterAPI, opts session.Options, groupID int64, in io.Reader, out io.Writer) error {
	w := &syncWriter{w: out}

	bus := events.NewBus(256)
	if err := bus.Start(ctx); err != nil {
		return err
	}
	notices, _ := events.Subscribe(bus, events.Notices, 32)
	transitions, _ := events.Subscribe(bus, events.Transitions, 32)

	ended := make(chan struct{})
	printed := make(chan struct{})
	go printEvents(w, notices, transitions, ended, printed)

	ctrl := session.NewController(sessions, rosterAPI, bus, opts)
	defer func() {
		ctrl.Close()
		ctrl.Wait()
		if err := bus.Stop(); err != nil {
			log.Printf("console: %v", err)
		}
		<-printed
	}()

	if err := ctrl.Start(groupID); err != nil {
		return err
	}
	if err := awaitStart(ctx, ctrl); err != nil {
		return err
	}
	if err := ctrl.RefreshRoster(ctx); err != nil {
		fmt.Fprintf(w, "Roster unavailable: %v\n", err)
	}
	printStatus(w, ctrl)
	fmt.Fprint(w, consoleHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ended:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := execute(ctx, ctrl, w, line); quit {
				return nil
			}
		}
	}
}

// awaitStart waits for the create call to settle
func awaitStart(ctx context.Context, ctrl *session.Controller) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch ctrl.State().Phase {
		case session.Starting:
		case session.Idle:
			return errors.New("attendance session did not start")
		default:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// execute runs one console command and reports whether the console should exit
func execute(ctx context.Context, ctrl *session.Controller, w io.Writer, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "list", "ls":
		printRoster(w, ctrl)
	case "toggle", "t":
		err = toggle(ctx, ctrl, fields[1:])
	case "status":
		printStatus(w, ctrl)
	case "extend":
		err = ctrl.Extend()
	case "cancel":
		err = ctrl.Cancel()
	case "refresh":
		err = ctrl.RefreshRoster(ctx)
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprint(w, consoleHelp)
	default:
		fmt.Fprintf(w, "Unknown command %q, type help\n", fields[0])
	}

	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		fmt.Fprintf(w, "%s is not possible right now (%s)\n", fields[0], ctrl.State().Phase)
	case err != nil:
		fmt.Fprintf(w, "%s failed: %v\n", fields[0], err)
	}
	return false
}

func toggle(ctx context.Context, ctrl *session.Controller, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: toggle <student-id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid student id %q", args[0])
	}
	for _, s := range ctrl.Students() {
		if s.ID == id {
			return ctrl.Toggle(ctx, id, s.IsPresent)
		}
	}
	return fmt.Errorf("student %d is not on the roster", id)
}

func printStatus(w io.Writer, ctrl *session.Controller) {
	st := ctrl.State()
	if st.Session == nil {
		fmt.Fprintf(w, "No session (%s)\n", st.Phase)
		return
	}
	fmt.Fprintf(w, "Session %d for %s: code %s, %s left (%s)\n",
		st.Session.ID, st.Session.GroupName, st.Session.Code,
		time.Duration(st.Remaining)*time.Second, st.Phase)
}

func printRoster(w io.Writer, ctrl *session.Controller) {
	students := ctrl.Students()
	present := 0
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRESENT")
	for _, s := range students {
		mark := ""
		if s.IsPresent {
			mark = "yes"
			present++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.FullName(), mark)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d of %d present\n", present, len(students))
}

// printEvents echoes notices and phase changes until both subscriptions close
// ended is closed the first time the session returns to idle after starting.
func printEvents(w io.Writer, notices <-chan events.Notice, transitions <-chan events.Transition, ended, done chan<- struct{}) {
	defer close(done)
	var endOnce sync.Once

	for notices != nil || transitions != nil {
		select {
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			if n.Detail != "" {
				fmt.Fprintf(w, "[%s] %s: %s\n", n.Level, n.Title, n.Detail)
			} else {
				fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Title)
			}
		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			switch tr.To {
			case "near_expiry":
				fmt.Fprintln(w, "Less than 10 seconds left, type extend to add time")
			case "expiring":
				fmt.Fprintln(w, "Attendance time is up")
			case "idle":
				if tr.From != "starting" {
					fmt.Fprintln(w, "Session ended")
					endOnce.Do(func() { close(ended) })
				}
			}
		}
	}
}

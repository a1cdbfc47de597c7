// Package interactive provides the command shell of viss-client.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/viss-protocol/viss-go/pkg/client"
	"github.com/viss-protocol/viss-go/pkg/filter"
	"github.com/viss-protocol/viss-go/pkg/wire"
)

// Shell runs commands against one connected client.
type Shell struct {
	client  *client.Client
	rl      *readline.Instance
	timeout time.Duration

	mu      sync.Mutex
	streams map[string]*client.Stream
}

// New creates a shell for c.
func New(c *client.Client, timeout time.Duration) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "viss> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{
		client:  c,
		rl:      rl,
		timeout: timeout,
		streams: make(map[string]*client.Stream),
	}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()
		case "get", "g":
			s.cmdGet(ctx, args)
		case "set", "s":
			s.cmdSet(ctx, args)
		case "subscribe", "sub":
			s.cmdSubscribe(ctx, args)
		case "unsubscribe", "unsub":
			s.cmdUnsubscribe(ctx, args)
		case "unsubscribeall", "unsuball":
			s.cmdUnsubscribeAll(ctx)
		case "pause":
			s.cmdPause(ctx, args)
		case "resume":
			s.cmdResume(ctx, args)
		case "list", "ls":
			s.cmdList()
		case "reconnect":
			s.cmdReconnect(ctx)
		case "session":
			fmt.Fprintf(s.rl.Stdout(), "Session: %s\n", s.client.SessionID())
		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
VISS Client Commands:
  Data:
    get <path>                - Read a signal or branch (wildcards allowed)
    set <path> <value>        - Write an actuator target

  Subscriptions:
    subscribe <path> [filter] - Subscribe; filter is one of
                                minchange:<delta> range:<lo>,<hi>
                                curation timing:<duration>
    unsubscribe <id>          - Cancel a subscription
    unsubscribeall            - Cancel every subscription of the session
    pause <id>                - Suspend deliveries
    resume <id>               - Resume deliveries
    list                      - List local subscriptions

  Session:
    session                   - Show the session id
    reconnect                 - Drop the link and resume the session
    quit                      - Exit`)
}

func (s *Shell) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Shell) cmdGet(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: get <path>")
		return
	}
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()

	value, ts, err := s.client.Get(rctx, args[0])
	if err != nil {
		s.printError(err)
		return
	}
	fmt.Fprint(s.rl.Stdout(), FormatValue(value, ts))
}

func (s *Shell) cmdSet(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: set <path> <value>")
		return
	}
	value := ParseValue(strings.Join(args[1:], " "))

	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	if err := s.client.Set(rctx, args[0], value); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "OK: %s = %v\n", args[0], value)
}

func (s *Shell) cmdSubscribe(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: subscribe <path> [filter]")
		return
	}
	f := filter.None()
	if len(args) == 2 {
		parsed, err := ParseFilter(args[1])
		if err != nil {
			s.printError(err)
			return
		}
		f = parsed
	}

	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	stream, err := s.client.Subscribe(rctx, args[0], f)
	if err != nil {
		s.printError(err)
		return
	}

	s.mu.Lock()
	s.streams[stream.ID] = stream
	s.mu.Unlock()

	fmt.Fprintf(s.rl.Stdout(), "Subscribed %s to %s (%s)\n", stream.ID, stream.Path, f)
	go s.printStream(stream)
}

func (s *Shell) printStream(stream *client.Stream) {
	for n := range stream.C() {
		fmt.Fprint(s.rl.Stdout(), FormatNotification(n))
	}
	s.mu.Lock()
	delete(s.streams, stream.ID)
	s.mu.Unlock()
	fmt.Fprintf(s.rl.Stdout(), "Subscription %s ended\n", stream.ID)
}

func (s *Shell) cmdUnsubscribe(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: unsubscribe <id>")
		return
	}
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	if err := s.client.Unsubscribe(rctx, args[0]); err != nil {
		s.printError(err)
	}
}

func (s *Shell) cmdUnsubscribeAll(ctx context.Context) {
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	if err := s.client.UnsubscribeAll(rctx); err != nil {
		s.printError(err)
	}
}

func (s *Shell) cmdPause(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: pause <id>")
		return
	}
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	if err := s.client.Pause(rctx, args[0]); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Paused %s\n", args[0])
}

func (s *Shell) cmdResume(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: resume <id>")
		return
	}
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	if err := s.client.Resume(rctx, args[0]); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Resumed %s\n", args[0])
}

func (s *Shell) cmdList() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	streams := make([]*client.Stream, 0, len(ids))
	for _, id := range ids {
		streams = append(streams, s.streams[id])
	}
	s.mu.Unlock()

	if len(streams) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No subscriptions")
		return
	}
	for _, st := range streams {
		fmt.Fprintf(s.rl.Stdout(), "  %s  %-40s %s  dropped=%d\n", st.ID, st.Path, st.Filter, st.Dropped())
	}
}

func (s *Shell) cmdReconnect(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 10*s.timeout)
	defer cancel()
	if err := s.client.Reconnect(rctx); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Resumed session %s\n", s.client.SessionID())
}

func (s *Shell) printError(err error) {
	fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
}

// ParseFilter parses a filter argument of the form kind[:params].
func ParseFilter(s string) (filter.Filter, error) {
	kind, param, _ := strings.Cut(s, ":")
	switch strings.ToLower(kind) {
	case "none":
		return filter.None(), nil
	case "curation":
		return filter.Curation(), nil
	case "minchange":
		v, err := strconv.ParseFloat(param, 64)
		if err != nil {
			return filter.Filter{}, fmt.Errorf("invalid minchange threshold %q", param)
		}
		f := filter.MinChange(v)
		return f, f.Validate()
	case "range":
		lo, hi, ok := strings.Cut(param, ",")
		if !ok {
			return filter.Filter{}, fmt.Errorf("range needs <lo>,<hi>")
		}
		f := filter.Filter{Kind: filter.KindRange}
		if lo != "" {
			v, err := strconv.ParseFloat(lo, 64)
			if err != nil {
				return filter.Filter{}, fmt.Errorf("invalid range bound %q", lo)
			}
			f.Lower = &v
		}
		if hi != "" {
			v, err := strconv.ParseFloat(hi, 64)
			if err != nil {
				return filter.Filter{}, fmt.Errorf("invalid range bound %q", hi)
			}
			f.Upper = &v
		}
		return f, f.Validate()
	case "timing":
		d, err := time.ParseDuration(param)
		if err != nil {
			return filter.Filter{}, fmt.Errorf("invalid timing interval %q", param)
		}
		f := filter.Timing(d)
		return f, f.Validate()
	default:
		return filter.Filter{}, fmt.Errorf("unknown filter %q", kind)
	}
}

// ParseValue interprets a command argument as a JSON literal, falling back
// to a plain string.
func ParseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// FormatValue renders a get result. Branch reads return a path map.
func FormatValue(value any, ts time.Time) string {
	var b strings.Builder
	if m, ok := value.(map[string]any); ok {
		paths := make([]string, 0, len(m))
		for p := range m {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Fprintf(&b, "  %s = %v\n", p, m[p])
		}
		fmt.Fprintf(&b, "  (%d values, newest %s)\n", len(m), ts.Format(time.RFC3339Nano))
		return b.String()
	}
	fmt.Fprintf(&b, "  %v  (%s)\n", value, ts.Format(time.RFC3339Nano))
	return b.String()
}

// FormatNotification renders one notification line.
func FormatNotification(n *wire.Notification) string {
	if n.Error != nil {
		return fmt.Sprintf("[%s] error %d %s: %s\n", n.SubscriptionID, n.Error.Number, n.Error.Reason, n.Error.Message)
	}
	gap := ""
	if n.Gap {
		gap = " (gap)"
	}
	return fmt.Sprintf("[%s] %s %s = %v%s\n",
		n.SubscriptionID, n.Timestamp.Time().Format("15:04:05.000"), n.Path, n.Value, gap)
}

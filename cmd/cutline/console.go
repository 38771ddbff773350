package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cutline/internal/protocol"
	"cutline/internal/timeline"
	"cutline/internal/transport"
)

const defaultWait = 10 * time.Second

// errQuit ends the command loop without an error.
var errQuit = errors.New("quit")

type consoleCommand struct {
	usage string
	args  int
	run   func(ctx context.Context, c *console, args []string) error
}

// console reads transport commands line by line and prints notifications.
type console struct {
	session      *transport.Session
	in           io.Reader
	interactive  bool
	allPositions bool

	mu       sync.Mutex
	out      io.Writer
	lastWord string
	waiters  map[chan transport.Notification]transport.NotificationKind
	done     chan struct{}
}

func newConsole(s *transport.Session, in io.Reader, out io.Writer) *console {
	return &console{
		session: s,
		in:      in,
		out:     out,
		waiters: make(map[chan transport.Notification]transport.NotificationKind),
		done:    make(chan struct{}),
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// watch prints notifications until the session closes.
func (c *console) watch() {
	defer close(c.done)
	for n := range c.session.Notifications() {
		c.mu.Lock()
		if line := c.describe(n); line != "" {
			fmt.Fprintln(c.out, line)
		}
		for ch, kind := range c.waiters {
			if kind == n.Kind {
				ch <- n
				delete(c.waiters, ch)
			}
		}
		c.mu.Unlock()
	}
}

// describe renders n; it returns "" for positions that add nothing.
func (c *console) describe(n transport.Notification) string {
	switch n.Kind {
	case transport.NotifyLoaded:
		return fmt.Sprintf("loaded: %.3fs", n.DurationSec)
	case transport.NotifyState:
		if n.Playing {
			return "state: playing"
		}
		return "state: paused"
	case transport.NotifyPosition:
		word := ""
		if seg := n.Position.Segment; seg != nil && seg.Kind == protocol.SegmentWord {
			word = seg.ClipID + "/" + strconv.Itoa(seg.SegmentIndex) + " " + strconv.Quote(seg.Text)
		}
		if !c.allPositions && word == c.lastWord {
			return ""
		}
		c.lastWord = word
		line := fmt.Sprintf("position: %.3fs (source %.3fs)", n.Position.EditedSec, n.Position.OriginalSec)
		if n.Position.ClipID != "" {
			line += " clip " + n.Position.ClipID
		}
		if word != "" {
			line += " word " + word
		}
		return line
	case transport.NotifyEnded:
		return "ended"
	case transport.NotifyError:
		return "error: " + n.Message
	case transport.NotifyBackendRetrying:
		return fmt.Sprintf("backend: %s (attempt %d in %s)", n.Message, n.Attempt, n.RetryIn)
	case transport.NotifyBackendReady:
		return "backend: ready"
	case transport.NotifyBackendFailed:
		return "backend: " + n.Message + " (type reset to retry)"
	}
	return string(n.Kind)
}

func (c *console) load(ctx context.Context, path string) error {
	res, err := c.session.Load(ctx, path)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("load %s: %s", path, res.Error)
	}
	c.printf("load: %s (%d Hz, %d ch)\n", path, res.SampleRate, res.Channels)
	return nil
}

// run executes commands until EOF, quit or ctx is done. Command errors are
// printed and do not stop the loop.
func (c *console) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		if c.interactive {
			c.printf("> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	cmd, ok := consoleCommands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	if len(args) < cmd.args {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, c, args)
}

// wait blocks until a notification of kind arrives.
func (c *console) wait(ctx context.Context, kind transport.NotificationKind, timeout time.Duration) error {
	ch := make(chan transport.Notification, 1)
	c.mu.Lock()
	c.waiters[ch] = kind
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, ch)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("no %s within %s", kind, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *console) printSnapshot(ctx context.Context) error {
	snap, err := c.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	c.printf("transport %s\n", snap.TransportID)
	c.printf("  file %s (%.3fs) ready=%s playing=%s\n", snap.Path, snap.DurationSec, yesNo(snap.Ready), yesNo(snap.Playing))
	c.printf("  generation %d loaded %d\n", snap.Generation, snap.LoadedGeneration)
	c.printf("  revision %d applied %d applying=%s clips=%d\n", snap.Revision, snap.AppliedRevision, yesNo(snap.Applying), snap.Clips)
	c.printf("  position %.3fs recovering=%s\n", snap.Position.EditedSec, yesNo(snap.Recovering))
	return nil
}

func (c *console) printClips(ctx context.Context) error {
	clips, err := c.session.Timeline(ctx)
	if err != nil {
		return err
	}
	if len(clips) == 0 {
		c.printf("no timeline\n")
		return nil
	}
	rows := make([][]string, 0, len(clips))
	for i, clip := range clips {
		rows = append(rows, []string{
			strconv.Itoa(i),
			clip.ID,
			fmt.Sprintf("%.3f-%.3f", clip.OriginalStart, clip.OriginalEnd),
			strconv.Itoa(len(clip.Segments)),
			yesNo(clip.Deleted),
			clipText(clip),
		})
	}
	c.printf("%s\n", renderTable(
		[]column{
			{Title: "#", Numeric: true},
			{Title: "Clip"},
			{Title: "Source"},
			{Title: "Segments", Numeric: true},
			{Title: "Deleted"},
			{Title: "Text", Wrap: detailWrap},
		},
		rows,
	))
	return nil
}

func clipText(clip timeline.Clip) string {
	var words []string
	for _, seg := range clip.Segments {
		if seg.Kind != protocol.SegmentWord {
			continue
		}
		if seg.Deleted {
			words = append(words, "~"+seg.Text+"~")
		} else {
			words = append(words, seg.Text)
		}
	}
	return strings.Join(words, " ")
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func parseInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return v, nil
}

func simple(fn func(*transport.Session, context.Context) error) func(context.Context, *console, []string) error {
	return func(ctx context.Context, c *console, _ []string) error { return fn(c.session, ctx) }
}

func withFloat(fn func(*transport.Session, context.Context, float64) error) func(context.Context, *console, []string) error {
	return func(ctx context.Context, c *console, args []string) error {
		v, err := parseFloat(args[0])
		if err != nil {
			return err
		}
		return fn(c.session, ctx, v)
	}
}

func withClipIndex(fn func(*transport.Session, context.Context, string, int) error) func(context.Context, *console, []string) error {
	return func(ctx context.Context, c *console, args []string) error {
		i, err := parseInt(args[1])
		if err != nil {
			return err
		}
		return fn(c.session, ctx, args[0], i)
	}
}

func withClip(fn func(*transport.Session, context.Context, string) error) func(context.Context, *console, []string) error {
	return func(ctx context.Context, c *console, args []string) error { return fn(c.session, ctx, args[0]) }
}

var consoleCommands map[string]consoleCommand

func init() {
	consoleCommands = map[string]consoleCommand{
		"play":          {usage: "play", run: simple((*transport.Session).Play)},
		"pause":         {usage: "pause", run: simple((*transport.Session).Pause)},
		"stop":          {usage: "stop", run: simple((*transport.Session).Stop)},
		"query":         {usage: "query", run: simple((*transport.Session).QueryState)},
		"reset":         {usage: "reset", run: simple((*transport.Session).ResetBackend)},
		"seek":          {usage: "seek <seconds>", args: 1, run: withFloat((*transport.Session).Seek)},
		"seek-original": {usage: "seek-original <seconds>", args: 1, run: withFloat((*transport.Session).SeekOriginal)},
		"word":          {usage: "word <clip> <index>", args: 2, run: withClipIndex((*transport.Session).SeekToWord)},
		"rate":          {usage: "rate <0.25-4>", args: 1, run: withFloat((*transport.Session).SetRate)},
		"stretch":       {usage: "stretch <0.25-4>", args: 1, run: withFloat((*transport.Session).SetTimeStretch)},
		"volume":        {usage: "volume <0-2>", args: 1, run: withFloat((*transport.Session).SetVolume)},
		"delete-clip":   {usage: "delete-clip <clip>", args: 1, run: withClip((*transport.Session).DeleteClip)},
		"restore-clip":  {usage: "restore-clip <clip>", args: 1, run: withClip((*transport.Session).RestoreClip)},
		"delete-word":   {usage: "delete-word <clip> <index>", args: 2, run: withClipIndex((*transport.Session).DeleteWord)},
		"restore-word":  {usage: "restore-word <clip> <index>", args: 2, run: withClipIndex((*transport.Session).RestoreWord)},
		"reorder": {usage: "reorder <from> <to>", args: 2, run: func(ctx context.Context, c *console, args []string) error {
			from, err := parseInt(args[0])
			if err != nil {
				return err
			}
			to, err := parseInt(args[1])
			if err != nil {
				return err
			}
			return c.session.ReorderClips(ctx, from, to)
		}},
		"split": {usage: "split <clip> <segment>", args: 2, run: func(ctx context.Context, c *console, args []string) error {
			i, err := parseInt(args[1])
			if err != nil {
				return err
			}
			id, err := c.session.SplitClip(ctx, args[0], i)
			if err != nil {
				return err
			}
			c.printf("split: new clip %s\n", id)
			return nil
		}},
		"merge": {usage: "merge <first> <second>", args: 2, run: func(ctx context.Context, c *console, args []string) error {
			return c.session.MergeClips(ctx, args[0], args[1])
		}},
		"load": {usage: "load <file.wav>", args: 1, run: func(ctx context.Context, c *console, args []string) error {
			return c.load(ctx, args[0])
		}},
		"state": {usage: "state", run: func(ctx context.Context, c *console, _ []string) error {
			return c.printSnapshot(ctx)
		}},
		"clips": {usage: "clips", run: func(ctx context.Context, c *console, _ []string) error {
			return c.printClips(ctx)
		}},
		"wait": {usage: "wait <loaded|state|position|ended|error> [timeout]", args: 1, run: func(ctx context.Context, c *console, args []string) error {
			timeout := defaultWait
			if len(args) > 1 {
				d, err := time.ParseDuration(args[1])
				if err != nil {
					return fmt.Errorf("invalid timeout %q", args[1])
				}
				timeout = d
			}
			return c.wait(ctx, transport.NotificationKind(args[0]), timeout)
		}},
		"sleep": {usage: "sleep <duration>", args: 1, run: func(ctx context.Context, _ *console, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration %q", args[0])
			}
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		"quit": {usage: "quit", run: func(context.Context, *console, []string) error { return errQuit }},
		"help": {usage: "help", run: func(_ context.Context, c *console, _ []string) error {
			names := make([]string, 0, len(consoleCommands))
			for name := range consoleCommands {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				c.printf("  %s\n", consoleCommands[name].usage)
			}
			return nil
		}},
	}
	consoleCommands["exit"] = consoleCommands["quit"]
}

// Package console is a line-oriented operator shell for the emulator.
package console

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/attribute"
	"github.com/jwoglom/fakecadence/pkg/dispatch"
	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/state"
)

// Prompt is written before each command.
const Prompt = "cadence> "

// Peripheral is the part of *peripheral.Peripheral the console drives.
type Peripheral interface {
	Snapshot(ctx context.Context) (peripheral.Snapshot, error)
	StartAdvertising(ctx context.Context) error
	StopAdvertising(ctx context.Context) error
	Update(ctx context.Context, key attribute.Key, value []byte) ([]dispatch.Notification, error)
}

// Console reads commands from in and writes results to out.
type Console struct {
	p     Peripheral
	state *state.CaseState
	in    io.Reader
	out   io.Writer
}

// New creates a console.
func New(p Peripheral, caseState *state.CaseState, in io.Reader, out io.Writer) *Console {
	return &Console{p: p, state: caseState, in: in, out: out}
}

var errQuit = errors.New("quit")

// Run serves commands until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("%s", Prompt)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return errors.Wrap(err, "read console")
		case line := <-lines:
			err := c.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				c.printf("bye\n")
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
			c.printf("%s", Prompt)
		}
	}
}

func (c *Console) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		log.Debugf("console write: %v", err)
	}
}

// Exec runs a single command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "open":
		return c.state.SetOpen(true)
	case "close":
		return c.state.SetOpen(false)
	case "toggle":
		open, err := c.state.Toggle()
		if err != nil {
			return err
		}
		c.printf("case %s\n", caseWord(open))
		return nil
	case "detect":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return errors.New("usage: detect on|off")
		}
		return c.state.SetDetected(args[0] == "on")
	case "status":
		return c.status(ctx)
	case "messages":
		for i, m := range c.state.GetMessages() {
			c.printf("%d: %s\n", i+1, m)
		}
		c.printf("text: %s\n", c.state.Text())
		return nil
	case "clear":
		c.state.ClearMessages()
		return nil
	case "advertise":
		if len(args) != 1 {
			return errors.New("usage: advertise start|stop")
		}
		switch args[0] {
		case "start":
			return c.p.StartAdvertising(ctx)
		case "stop":
			return c.p.StopAdvertising(ctx)
		default:
			return errors.New("usage: advertise start|stop")
		}
	case "set":
		if len(args) != 2 {
			return errors.New("usage: set <characteristic> <hex>")
		}
		return c.set(ctx, args[0], args[1])
	case "help", "?":
		c.printf("%s", helpText)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return errors.Errorf("unknown command %q, try help", fields[0])
	}
}

func (c *Console) status(ctx context.Context) error {
	snap, err := c.p.Snapshot(ctx)
	if err != nil {
		return err
	}
	cs := c.state.Snapshot()

	c.printf("case: %s (opened %d times)\n", caseWord(cs.Open), cs.OpenCount)
	c.printf("blister pack: %s\n", detectWord(cs.BlisterDetected))
	c.printf("advertising: %s as %q\n", snap.Advertising.State, snap.Advertising.Name)
	for _, ch := range snap.Characteristics {
		c.printf("  %-26s %-20s %s subs=%d\n", ch.Name, ch.Properties, ch.Value, len(ch.Subscribers))
	}
	c.printf("messages: %d\n", len(cs.Messages))
	return nil
}

func (c *Console) set(ctx context.Context, name, value string) error {
	data, err := hex.DecodeString(value)
	if err != nil {
		return errors.Wrap(err, "invalid hex data")
	}
	snap, err := c.p.Snapshot(ctx)
	if err != nil {
		return err
	}
	ch, ok := snap.Find(name)
	if !ok {
		return errors.Wrapf(attribute.ErrNotFound, "characteristic %s", name)
	}
	notes, err := c.p.Update(ctx, ch.Key, data)
	if err != nil {
		return err
	}
	c.printf("%s set, notified %d\n", name, len(notes))
	return nil
}

func caseWord(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

func detectWord(detected bool) string {
	if detected {
		return "detected"
	}
	return "absent"
}

const helpText = `commands:
  open | close | toggle          change the case lid
  detect on|off                  blister pack detection
  status                         show case and attribute state
  messages                       show strings written by centrals
  clear                          clear the message log
  advertise start|stop           control advertising
  set <characteristic> <hex>     set a value and notify subscribers
  help                           this text
  quit                           leave the console
`

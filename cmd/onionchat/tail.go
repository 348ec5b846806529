package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"onionchat/internal/models"
	"onionchat/internal/timeline"
	"onionchat/internal/viewport"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail <onion-id>",
	Short: "Follow a conversation in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.start(ctx); err != nil {
		return err
	}

	views, cancel, err := eng.session.Watch(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := eng.session.SetActiveContact(ctx, args[0]); err != nil {
		return err
	}

	printer := newViewPrinter(cmd.OutOrStdout(), time.Local)
	for {
		select {
		case <-ctx.Done():
			return nil
		case view, ok := <-views:
			if !ok {
				return nil
			}
			if view.ContactID == args[0] {
				printer.print(view)
			}
		}
	}
}

// viewPrinter writes each message of a view stream once, with a day header
// whenever the day changes.
type viewPrinter struct {
	out       io.Writer
	loc       *time.Location
	now       func() time.Time
	seen      map[string]bool
	lastDay   time.Time
	lastError string
}

func newViewPrinter(out io.Writer, loc *time.Location) *viewPrinter {
	return &viewPrinter{out: out, loc: loc, now: time.Now, seen: make(map[string]bool)}
}

func (p *viewPrinter) print(view models.View) {
	for _, band := range timeline.Bands(view.Messages, p.loc) {
		for _, m := range view.Messages[band.Start:band.End] {
			key := messageKey(m)
			if p.seen[key] {
				continue
			}
			p.seen[key] = true

			if !band.Day.Equal(p.lastDay) {
				p.lastDay = band.Day
				fmt.Fprintf(p.out, "-- %s --\n", viewport.FormatDayLabel(band.Day, p.now(), p.loc))
			}
			fmt.Fprintln(p.out, formatMessage(m, p.loc))
		}
	}

	if view.LastError != "" && view.LastError != p.lastError {
		fmt.Fprintf(p.out, "! %s\n", view.LastError)
	}
	p.lastError = view.LastError
}

// messageKey identifies a message across views. A local send is printed
// again when its state changes.
func messageKey(m models.Message) string {
	if m.Optimistic {
		return "local:" + m.LocalRef + ":" + string(m.SendState)
	}
	return strconv.FormatInt(m.ID, 10)
}

func formatMessage(m models.Message, loc *time.Location) string {
	direction := ">"
	if m.IsIncoming {
		direction = "<"
	}

	var text string
	content := m.Content()
	switch {
	case m.HasError():
		text = "[error] " + m.ErrorText()
	case content.Type == models.BodyImage:
		text = fmt.Sprintf("[image %s, %d bytes]", content.MimeType, len(content.Image))
	default:
		text = content.Text
	}

	switch m.SendState {
	case models.SendStatePending:
		text += " (sending)"
	case models.SendStateFailed:
		text += fmt.Sprintf(" (not delivered: %s, ref %s)", m.SendError, m.LocalRef)
	}

	return fmt.Sprintf("%s %s %s", m.Time(loc).Format("15:04"), direction, text)
}

// waitForSend follows views until the send identified by ref has been
// replaced by the daemon's copy or was rejected. Views from reloads applied
// before the send (generation <= afterGen) cannot settle it.
func waitForSend(ctx context.Context, views <-chan models.View, ref string, afterGen uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case view, ok := <-views:
			if !ok {
				return fmt.Errorf("chat session stopped before the send settled")
			}
			found := false
			for _, m := range view.Messages {
				if m.LocalRef != ref {
					continue
				}
				found = true
				if m.IsDeliveryFailed() {
					return fmt.Errorf("message not delivered: %s", m.SendError)
				}
			}
			if !found && view.Generation > afterGen {
				return nil
			}
		}
	}
}

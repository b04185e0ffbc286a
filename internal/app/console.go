package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/christophersiem/little-moments/internal/decision"
	"github.com/christophersiem/little-moments/internal/feed"
	"github.com/christophersiem/little-moments/internal/session"
	"github.com/christophersiem/little-moments/internal/timer"
)

// consoleCommands maps the short words typed at the prompt to feed command
// names.
var consoleCommands = map[string]string{
	"start":   "start",
	"stop":    "stop",
	"save":    decision.SaveSelected.String(),
	"discard": decision.DiscardSelected.String(),
	"confirm": decision.DiscardConfirmed.String(),
	"cancel":  decision.DiscardCanceled.String(),
	"back":    decision.ChoiceDismissed.String(),
	"reopen":  "reopen",
	"retry":   "retry",
	"over":    "start-over",
	"another": "record-another",
}

const consoleHelp = `commands:
  start    begin recording
  stop     stop recording
  save     upload the recording
  discard  throw the recording away (asks to confirm)
  confirm  confirm discard
  cancel   keep the recording
  back     hide the save/discard prompt
  reopen   show the prompt again
  retry    upload the kept recording again
  over     start over after an error
  another  record another moment
  status   show the current state
  quit     leave`

// Console drives a session from line-oriented terminal input and prints a
// line whenever the session changes state.
type Console struct {
	sess feed.Session
	snap func() session.Snapshot
	in   io.Reader
	out  io.Writer
	log  *slog.Logger
}

// NewConsole returns a console for a's session reading commands from in and
// writing to out.
func NewConsole(a *App, in io.Reader, out io.Writer) *Console {
	return &Console{
		sess: a.session,
		snap: a.session.Snapshot,
		in:   in,
		out:  out,
		log:  a.log,
	}
}

// Run prints the prompt and processes commands until "quit", end of input,
// ctx cancellation or the session closing.
func (c *Console) Run(ctx context.Context) error {
	updates, cancel := c.sess.Subscribe()
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintln(c.out, "Record a moment. Type \"help\" for commands.")

	var shown string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("app: read input: %w", err)
			}
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if line := Describe(snap); line != shown {
				shown = line
				fmt.Fprintln(c.out, line)
			}
		case line := <-lines:
			quit, err := c.handle(strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(c.out, "! %s\n", consoleError(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *Console) handle(word string) (quit bool, err error) {
	switch strings.ToLower(word) {
	case "":
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "status":
		snap := c.snap()
		fmt.Fprintf(c.out, "%s (%s)\n", Describe(snap), timer.Format(snap.Elapsed))
		return false, nil
	}
	name, ok := consoleCommands[strings.ToLower(word)]
	if !ok {
		return false, fmt.Errorf("%w %q, type \"help\"", feed.ErrUnknownCommand, word)
	}
	c.log.Debug("app: console command", "command", name)
	return false, feed.Dispatch(c.sess, name)
}

// consoleError turns controller errors into short prompts.
func consoleError(err error) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "busy, wait for the current step to finish"
	case errors.Is(err, session.ErrInvalidPhase):
		return "not available right now, type \"status\""
	case errors.Is(err, session.ErrNoArtifact):
		return "No recording found to save."
	default:
		return err.Error()
	}
}

// Describe renders the user-facing line for a snapshot. The elapsed clock is
// only part of the stopped line so ticking does not reprint the recording
// line.
func Describe(s session.Snapshot) string {
	switch s.Phase {
	case session.Idle:
		if s.Opening {
			return "Waiting for the microphone..."
		}
		return "Ready. Type \"start\" to record."
	case session.Recording:
		return "Recording. Type \"stop\" when you are done."
	case session.Stopped:
		switch s.Decision {
		case decision.Choice:
			return fmt.Sprintf("Recording stopped (%s). Save this recording? [save / discard / back]", timer.Format(s.Elapsed))
		case decision.ConfirmDiscard:
			return "Discard this recording? This action cannot be undone. [confirm / cancel]"
		default:
			return fmt.Sprintf("Recording stopped (%s). Type \"reopen\" to choose save or discard.", timer.Format(s.Elapsed))
		}
	case session.Saving:
		return "Saving your moment... We are transcribing and storing your entry."
	case session.Saved:
		head, preview := "Saved.", "Your transcript was saved."
		if r := s.Result; r != nil {
			if r.Title != "" {
				head = fmt.Sprintf("Saved: %s.", r.Title)
			}
			if p := strings.TrimSpace(r.TranscriptPreview); p != "" {
				preview = fmt.Sprintf("%q", p)
			}
		}
		return fmt.Sprintf("%s %s Type \"another\" to record another.", head, preview)
	case session.Error:
		msg := s.ErrorMessage
		if msg == "" {
			msg = "Could not save your moment."
		}
		if s.HasArtifact {
			return fmt.Sprintf("Could not save moment: %s [retry / over]", msg)
		}
		return fmt.Sprintf("Could not save moment: %s [over]", msg)
	}
	return s.Phase.String()
}

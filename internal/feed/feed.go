// Package feed streams session state to browsers over a WebSocket and
// accepts the same commands the terminal recorder offers.
//
// Every state change is sent as one JSON text frame ([Message]). Clients
// may send {"command": "..."} frames; a rejected command is answered with a
// frame carrying only "error".
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/christophersiem/little-moments/internal/decision"
	"github.com/christophersiem/little-moments/internal/memories"
	"github.com/christophersiem/little-moments/internal/session"
	"github.com/christophersiem/little-moments/internal/timer"
)

const writeTimeout = 5 * time.Second

// Session is the part of [session.Controller] the feed drives.
type Session interface {
	Subscribe() (<-chan session.Snapshot, func())
	Start() error
	Stop() error
	Decide(decision.Event) error
	Reopen() error
	Retry() error
	StartOver() error
	RecordAnother() error
}

var _ Session = (*session.Controller)(nil)

// Message is one state frame.
type Message struct {
	SessionID     string                 `json:"sessionId,omitempty"`
	Phase         session.Phase          `json:"phase"`
	Prompt        string                 `json:"prompt"`
	ChoiceVisible bool                   `json:"choiceVisible"`
	Opening       bool                   `json:"opening,omitempty"`
	Elapsed       int                    `json:"elapsedSeconds"`
	Clock         string                 `json:"clock"`
	HasRecording  bool                   `json:"hasRecording"`
	Result        *memories.CreateResult `json:"result,omitempty"`
	ErrorKind     string                 `json:"errorKind,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// NewMessage renders a snapshot as a frame.
func NewMessage(s session.Snapshot) Message {
	m := Message{
		SessionID:     s.SessionID,
		Phase:         s.Phase,
		Prompt:        s.Decision.String(),
		ChoiceVisible: s.ChoiceVisible(),
		Opening:       s.Opening,
		Elapsed:       s.Elapsed,
		Clock:         timer.Format(s.Elapsed),
		HasRecording:  s.HasArtifact,
		Result:        s.Result,
	}
	if s.Phase == session.Error {
		m.ErrorKind = s.ErrorKind.String()
		m.Error = s.ErrorMessage
	}
	return m
}

// Command is a client frame.
type Command struct {
	Command string `json:"command"`
}

type reply struct {
	Error string `json:"error"`
}

// ErrUnknownCommand is returned by [Dispatch] for unrecognised names.
var ErrUnknownCommand = errors.New("feed: unknown command")

// Dispatch runs the named command against s. Prompt commands use the
// decision event names ("save-selected", "discard-confirmed", ...).
func Dispatch(s Session, name string) error {
	switch name {
	case "start":
		return s.Start()
	case "stop":
		return s.Stop()
	case "reopen":
		return s.Reopen()
	case "retry":
		return s.Retry()
	case "start-over":
		return s.StartOver()
	case "record-another":
		return s.RecordAnother()
	}
	ev, err := decision.ParseEvent(name)
	if err != nil || ev == decision.RecordingStopped {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return s.Decide(ev)
}

// Handler upgrades requests to WebSocket connections bound to one session.
type Handler struct {
	sess    Session
	log     *slog.Logger
	origins []string
}

// Option configures a [Handler].
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// New returns a feed for sess.
func New(sess Session, opts ...Option) *Handler {
	h := &Handler{sess: sess, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Debug("feed: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	updates, cancel := h.sess.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	cmds := make(chan string)
	go h.readCommands(ctx, conn, cmds, stop)

	h.log.Debug("feed: client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := h.write(ctx, conn, NewMessage(snap)); err != nil {
				h.log.Debug("feed: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		case name := <-cmds:
			if err := Dispatch(h.sess, name); err != nil {
				h.log.Debug("feed: command rejected", "command", name, "err", err)
				if werr := h.write(ctx, conn, reply{Error: err.Error()}); werr != nil {
					return
				}
			}
		}
	}
}

// readCommands forwards client frames until the connection fails, then
// calls stop.
func (h *Handler) readCommands(ctx context.Context, conn *websocket.Conn, cmds chan<- string, stop context.CancelFunc) {
	defer stop()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var c Command
		if err := json.Unmarshal(data, &c); err != nil {
			h.log.Debug("feed: malformed command", "err", err)
			continue
		}
		select {
		case cmds <- c.Command:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("feed: marshal: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

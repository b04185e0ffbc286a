// Package session orchestrates one voice note from microphone to upload.
//
// A [Controller] owns the recording phase machine
// (idle → recording → stopped → saving → saved | error), the retained
// recording, the elapsed timer and the save/discard prompt. All state lives
// on a single event-loop goroutine; user commands, microphone results, timer
// ticks and upload completions are messages on its inbox. Work that can
// block (opening the microphone, uploading) runs on its own goroutine and
// reports back with the session ID and upload attempt it was started for, so
// results that arrive after the session moved on are dropped.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/christophersiem/little-moments/internal/capture"
	"github.com/christophersiem/little-moments/internal/decision"
	"github.com/christophersiem/little-moments/internal/memories"
	"github.com/christophersiem/little-moments/internal/observe"
	"github.com/christophersiem/little-moments/internal/timer"
	"github.com/christophersiem/little-moments/pkg/audio"
)

// Uploader sends a finished recording to the memories service.
type Uploader interface {
	Create(ctx context.Context, a capture.Artifact) (memories.CreateResult, error)
}

var _ Uploader = (*memories.Client)(nil)

// Config holds the dependencies of a [Controller].
type Config struct {
	// Microphone is the capture backend. Required.
	Microphone audio.Microphone

	// Uploader receives saved recordings. Required.
	Uploader Uploader

	// Clock drives the elapsed timer. Defaults to [timer.RealClock].
	Clock timer.Clock

	// Metrics, when set, receives recording and upload metrics.
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Now stamps artifacts. Defaults to [time.Now].
	Now func() time.Time
}

// Snapshot is an immutable view of a session.
type Snapshot struct {
	// SessionID identifies the current recording attempt. Empty in [Idle].
	SessionID string `json:"sessionId,omitempty"`

	Phase    Phase          `json:"phase"`
	Decision decision.State `json:"-"`

	// Opening is true while a Start is waiting for the microphone.
	Opening bool `json:"opening"`

	// Elapsed is the tick count of the current or last recording.
	Elapsed int `json:"elapsedSeconds"`

	// HasArtifact reports whether a recording is retained.
	HasArtifact bool `json:"hasArtifact"`

	// ArtifactBytes is the size of the retained recording.
	ArtifactBytes int `json:"artifactBytes,omitempty"`

	// Result is the upload result in [Saved].
	Result *memories.CreateResult `json:"result,omitempty"`

	// Err, ErrorKind and ErrorMessage describe the failure in [Error].
	Err          error     `json:"-"`
	ErrorKind    ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// ChoiceVisible reports whether the save/discard prompt is showing.
func (s Snapshot) ChoiceVisible() bool {
	return s.Phase == Stopped && s.Decision != decision.Hidden
}

// Controller runs one recording session at a time. All exported methods
// are safe for concurrent use.
type Controller struct {
	up      Uploader
	capture *capture.Controller
	timer   *timer.ElapsedTimer
	metrics *observe.Metrics
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox chan any
	ticks chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	last      atomic.Pointer[Snapshot]
	live      atomic.Value // session ID seen by the capture callback

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int

	// Loop-owned state. Only the event loop touches these.
	st state
}

type state struct {
	phase      Phase
	decision   decision.State
	sessionID  string
	attempt    int
	opening    bool
	artifact   *capture.Artifact
	result     *memories.CreateResult
	err        error
	startReply chan error
	uploadedAt time.Time
}

// New creates a controller and starts its event loop. Call
// [Controller.Close] to release the microphone and stop the loop.
func New(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timer.RealClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		up:      cfg.Uploader,
		metrics: cfg.Metrics,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan any),
		ticks:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		subs:    make(map[int]chan Snapshot),
	}

	c.timer = timer.New(
		timer.WithClock(clock),
		timer.WithOnTick(func(int) {
			select {
			case c.ticks <- struct{}{}:
			default:
			}
		}),
	)
	c.capture = capture.New(cfg.Microphone,
		capture.WithLogger(log),
		capture.WithNow(cfg.Now),
		capture.WithOnEnd(func(err error) {
			// Runs on the capture pump, which Stop waits for.
			id, _ := c.live.Load().(string)
			go c.post(captureEnded{sessionID: id, err: err})
		}),
		capture.WithOnChunk(func(n int) {
			if c.metrics != nil {
				c.metrics.CapturedBytes.Add(c.ctx, int64(n))
			}
		}),
	)

	snap := Snapshot{Phase: Idle}
	c.last.Store(&snap)
	c.live.Store("")

	go c.loop()
	return c
}

// ─── Commands ─────────────────────────────────────────────────────────────────

type (
	cmdStart        struct{ reply chan error }
	cmdStop         struct{ reply chan error }
	cmdDecide       struct {
		event decision.Event
		reply chan error
	}
	cmdReopen        struct{ reply chan error }
	cmdRetry         struct{ reply chan error }
	cmdStartOver     struct{ reply chan error }
	cmdRecordAnother struct{ reply chan error }
	cmdClose         struct{ reply chan error }

	captureOpened struct {
		sessionID string
		err       error
	}
	captureEnded struct {
		sessionID string
		err       error
	}
	uploadDone   struct {
		sessionID string
		attempt   int
		result    memories.CreateResult
		err       error
	}
)

// Start acquires the microphone and begins a new recording. It returns once
// the microphone is held or has been refused; a refusal moves the session to
// [Error] and is returned. Start fails with [ErrBusy] while a recording or
// upload is running. Starting from [Saved] or [Error] discards what was
// there.
func (c *Controller) Start() error {
	return c.call(func(r chan error) any { return cmdStart{r} })
}

// Stop ends the recording, releases the microphone and opens the
// save/discard prompt.
func (c *Controller) Stop() error {
	return c.call(func(r chan error) any { return cmdStop{r} })
}

// Decide feeds a prompt event. Undefined event/state pairs leave the
// session unchanged.
func (c *Controller) Decide(ev decision.Event) error {
	return c.call(func(r chan error) any { return cmdDecide{ev, r} })
}

// Save is Decide([decision.SaveSelected]).
func (c *Controller) Save() error { return c.Decide(decision.SaveSelected) }

// Discard is Decide([decision.DiscardSelected]).
func (c *Controller) Discard() error { return c.Decide(decision.DiscardSelected) }

// ConfirmDiscard is Decide([decision.DiscardConfirmed]).
func (c *Controller) ConfirmDiscard() error { return c.Decide(decision.DiscardConfirmed) }

// CancelDiscard is Decide([decision.DiscardCanceled]).
func (c *Controller) CancelDiscard() error { return c.Decide(decision.DiscardCanceled) }

// Dismiss hides the prompt without deciding. The recording stays retained.
func (c *Controller) Dismiss() error { return c.Decide(decision.ChoiceDismissed) }

// Reopen shows the prompt again after [Controller.Dismiss].
func (c *Controller) Reopen() error {
	return c.call(func(r chan error) any { return cmdReopen{r} })
}

// Retry uploads the retained recording again. It fails with [ErrNoArtifact]
// and leaves the session unchanged when nothing is retained.
func (c *Controller) Retry() error {
	return c.call(func(r chan error) any { return cmdRetry{r} })
}

// StartOver discards any retained recording and returns to [Idle].
func (c *Controller) StartOver() error {
	return c.call(func(r chan error) any { return cmdStartOver{r} })
}

// RecordAnother leaves [Saved] for [Idle].
func (c *Controller) RecordAnother() error {
	return c.call(func(r chan error) any { return cmdRecordAnother{r} })
}

// Snapshot returns the state after the most recently handled event.
func (c *Controller) Snapshot() Snapshot {
	return *c.last.Load()
}

// Subscribe returns a channel that receives a snapshot after every change.
// Slow readers only see the latest snapshot. The channel is closed by
// cancel or by [Controller.Close].
func (c *Controller) Subscribe() (updates <-chan Snapshot, cancel func()) {
	ch := make(chan Snapshot, 1)
	ch <- c.Snapshot()

	c.subMu.Lock()
	select {
	case <-c.done:
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close releases the microphone, stops the timer and the event loop, and
// drops the retained recording. Results of in-flight work are discarded.
// Close is idempotent.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		reply := make(chan error, 1)
		select {
		case c.inbox <- cmdClose{reply}:
			err = <-reply
		case <-c.done:
		}
	})
	return err
}

// Done is closed when the event loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) call(mk func(chan error) any) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- mk(reply):
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		// The loop answers pending calls before exiting.
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// post delivers an event from a worker goroutine. Events posted after the
// loop exited are dropped.
func (c *Controller) post(msg any) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

// ─── Event loop ───────────────────────────────────────────────────────────────

func (c *Controller) loop() {
	defer close(c.done)

	for {
		select {
		case msg := <-c.inbox:
			if c.handle(msg) {
				c.publish()
				c.closeSubscribers()
				return
			}
		case <-c.ticks:
		}
		c.publish()
	}
}

// handle applies one message. It reports true when the loop must exit.
func (c *Controller) handle(msg any) (exit bool) {
	switch m := msg.(type) {
	case cmdStart:
		c.handleStart(m.reply)
	case captureOpened:
		c.handleOpened(m)
	case cmdStop:
		c.respond(m.reply, c.handleStop())
	case captureEnded:
		c.handleCaptureEnded(m)
	case cmdDecide:
		c.respond(m.reply, c.handleDecide(m.event))
	case cmdReopen:
		c.respond(m.reply, c.handleReopen())
	case cmdRetry:
		c.respond(m.reply, c.handleRetry())
	case uploadDone:
		c.handleUploaded(m)
	case cmdStartOver:
		if c.st.phase != Error {
			m.reply <- ErrInvalidPhase
			return false
		}
		c.reset()
		c.respond(m.reply, nil)
	case cmdRecordAnother:
		if c.st.phase != Saved {
			m.reply <- ErrInvalidPhase
			return false
		}
		c.reset()
		c.respond(m.reply, nil)
	case cmdClose:
		m.reply <- c.teardown()
		return true
	default:
		c.log.Error("session: unknown message", "type", msg)
	}
	return false
}

func (c *Controller) handleStart(reply chan error) {
	switch {
	case c.st.opening, c.st.phase == Recording, c.st.phase == Saving:
		reply <- ErrBusy
		return
	case c.st.phase == Stopped:
		reply <- ErrInvalidPhase
		return
	}

	c.reset()
	id := uuid.NewString()
	c.st.sessionID = id
	c.live.Store(id)
	c.st.opening = true
	c.st.startReply = reply

	c.log.Debug("session: starting", "session_id", id)
	go func() {
		err := c.capture.Start(c.ctx)
		c.post(captureOpened{sessionID: id, err: err})
	}()
}

func (c *Controller) handleOpened(m captureOpened) {
	if m.sessionID != c.st.sessionID || !c.st.opening {
		// Superseded: whatever the worker acquired goes back. A live
		// recording holds the only stream, so it is never this one.
		if m.err == nil && c.st.phase != Recording {
			c.capture.Stop()
		}
		c.log.Debug("session: dropping stale microphone open", "session_id", m.sessionID)
		return
	}
	c.st.opening = false
	reply := c.st.startReply
	c.st.startReply = nil

	if m.err != nil {
		err := m.err
		var re *capture.ResourceError
		if !errors.As(err, &re) {
			err = &StartFailure{Err: err}
		}
		c.fail(err)
		c.log.Warn("session: microphone unavailable", "session_id", c.st.sessionID, "err", err)
		c.respond(reply, err)
		return
	}

	c.st.phase = Recording
	c.timer.Begin()
	if c.metrics != nil {
		c.metrics.RecordRecordingStarted(c.ctx)
	}
	c.log.Info("session: recording started", "session_id", c.st.sessionID)
	c.respond(reply, nil)
}

func (c *Controller) handleStop() error {
	if c.st.phase != Recording {
		return ErrInvalidPhase
	}
	c.finishRecording()
	return nil
}

func (c *Controller) handleCaptureEnded(m captureEnded) {
	if c.st.phase != Recording || m.sessionID != c.st.sessionID {
		c.log.Debug("session: dropping stale stream end", "session_id", m.sessionID)
		return
	}
	c.log.Warn("session: microphone stream ended, keeping what was recorded",
		"session_id", c.st.sessionID,
		"err", m.err,
	)
	c.finishRecording()
}

// finishRecording moves recording → stopped with the prompt open.
func (c *Controller) finishRecording() {
	c.timer.End()
	a, _ := c.capture.Stop()
	if c.metrics != nil {
		c.metrics.RecordRecordingEnded(c.ctx, c.timer.Elapsed())
	}

	c.st.artifact = &a
	c.st.phase = Stopped
	c.st.decision = decision.Hidden
	c.st.decision = decision.Transition(c.st.decision, decision.RecordingStopped).State

	c.log.Info("session: recording stopped",
		"session_id", c.st.sessionID,
		"elapsed", c.timer.Elapsed(),
		"bytes", a.Size(),
		"mime_type", a.MimeType,
	)
}

func (c *Controller) handleDecide(ev decision.Event) error {
	if c.st.phase != Stopped {
		return ErrInvalidPhase
	}
	if ev == decision.ChoiceDismissed {
		if c.st.decision == decision.Choice {
			c.st.decision = decision.Hidden
		}
		return nil
	}

	r := decision.Transition(c.st.decision, ev)
	c.st.decision = r.State

	switch {
	case r.ShouldUpload:
		c.beginUpload()
	case r.ShouldDeleteLocalAudio:
		c.log.Info("session: recording discarded", "session_id", c.st.sessionID)
		if c.metrics != nil {
			c.metrics.RecordingsDiscarded.Add(c.ctx, 1)
		}
		c.reset()
	}
	return nil
}

func (c *Controller) handleReopen() error {
	if c.st.phase != Stopped {
		return ErrInvalidPhase
	}
	if c.st.decision == decision.Hidden {
		c.st.decision = decision.Transition(c.st.decision, decision.RecordingStopped).State
	}
	return nil
}

func (c *Controller) handleRetry() error {
	if c.st.phase != Error {
		return ErrInvalidPhase
	}
	if c.st.artifact == nil {
		return ErrNoArtifact
	}
	c.log.Info("session: retrying upload", "session_id", c.st.sessionID, "attempt", c.st.attempt+1)
	c.beginUpload()
	return nil
}

// beginUpload sends the retained recording. The recording stays retained
// until the upload succeeds.
func (c *Controller) beginUpload() {
	c.st.phase = Saving
	c.st.err = nil
	c.st.attempt++
	c.st.uploadedAt = time.Now()

	id, attempt, a := c.st.sessionID, c.st.attempt, *c.st.artifact
	go func() {
		res, err := c.up.Create(c.ctx, a)
		c.post(uploadDone{sessionID: id, attempt: attempt, result: res, err: err})
	}()
}

func (c *Controller) handleUploaded(m uploadDone) {
	if m.sessionID != c.st.sessionID || m.attempt != c.st.attempt || c.st.phase != Saving {
		c.log.Debug("session: dropping stale upload result",
			"session_id", m.sessionID,
			"attempt", m.attempt,
		)
		return
	}

	elapsed := time.Since(c.st.uploadedAt).Seconds()
	switch {
	case m.err != nil:
		c.fail(m.err)
		c.recordUpload(observe.OutcomeTransport, elapsed)
		c.log.Warn("session: upload failed", "session_id", m.sessionID, "attempt", m.attempt, "err", m.err)
	case m.result.Status == memories.StatusFailed:
		c.fail(&ApplicationFailure{Result: m.result})
		c.recordUpload(observe.OutcomeFailed, elapsed)
		c.log.Warn("session: transcription failed",
			"session_id", m.sessionID,
			"memory_id", m.result.ID,
			"reason", m.result.ErrorMessage,
		)
	default:
		res := m.result
		c.st.phase = Saved
		c.st.result = &res
		c.st.artifact = nil
		c.recordUpload(observe.OutcomeSaved, elapsed)
		c.log.Info("session: memory saved",
			"session_id", m.sessionID,
			"memory_id", res.ID,
			"status", res.Status,
		)
	}
}

func (c *Controller) recordUpload(outcome string, seconds float64) {
	if c.metrics != nil {
		c.metrics.RecordUpload(c.ctx, outcome, seconds)
	}
}

// fail moves the session to Error. A retained recording is kept.
func (c *Controller) fail(err error) {
	c.st.phase = Error
	c.st.decision = decision.Hidden
	c.st.err = err
}

// reset returns to Idle, dropping the recording, result and error.
func (c *Controller) reset() {
	c.timer.Reset()
	c.st.phase = Idle
	c.st.decision = decision.Hidden
	c.st.sessionID = ""
	c.live.Store("")
	c.st.artifact = nil
	c.st.result = nil
	c.st.err = nil
}

func (c *Controller) teardown() error {
	wasRecording := c.st.phase == Recording
	c.timer.End()
	c.cancel()
	err := c.capture.Close()
	if wasRecording && c.metrics != nil {
		c.metrics.RecordRecordingEnded(context.Background(), c.timer.Elapsed())
	}
	if c.st.startReply != nil {
		c.st.startReply <- ErrClosed
		c.st.startReply = nil
	}
	c.st.opening = false
	c.st.artifact = nil
	c.log.Debug("session: controller closed", "was_recording", wasRecording)
	if errors.Is(err, capture.ErrClosed) {
		err = nil
	}
	return err
}

// ─── Snapshots ────────────────────────────────────────────────────────────────

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		SessionID:   c.st.sessionID,
		Phase:       c.st.phase,
		Decision:    c.st.decision,
		Opening:     c.st.opening,
		Elapsed:     c.timer.Elapsed(),
		HasArtifact: c.st.artifact != nil,
		Result:      c.st.result,
		Err:         c.st.err,
	}
	if c.st.artifact != nil {
		s.ArtifactBytes = c.st.artifact.Size()
	}
	if c.st.err != nil {
		s.ErrorKind, s.ErrorMessage = classify(c.st.err)
	}
	return s
}

func (c *Controller) publish() {
	s := c.snapshot()
	c.last.Store(&s)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		// Keep only the newest snapshot for slow readers.
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// respond publishes the current state before answering a caller, so a
// Snapshot taken after the call returns already reflects it.
func (c *Controller) respond(reply chan<- error, err error) {
	c.publish()
	reply <- err
}

func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

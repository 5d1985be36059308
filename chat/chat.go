// Package chat runs request/response scripts against the line oriented
// byte stream of a modem.
//
// A Chat is attached to a Transport. Received bytes are framed into lines
// on a configurable delimiter and every line is resolved against three
// match tables, in order: the abort matches of the running script, the
// response matches of its current step, and the unsolicited matches of
// the chat. The first Match whose prefix starts the line wins; the line is
// split into arguments and handed to the match callback.
//
// A Script is a list of ScriptChat steps. Each step writes its request
// and waits for a non partial response match before the next step starts.
// A script ends with ResultSuccess after its last step, ResultAbort when an
// abort match fires or Abort is called, and ResultTimeout when its deadline
// passes. The script callback fires exactly once, after the chat has gone
// back to idle, so it may start the next script right away.
//
// Usage:
//
//	c, err := chat.New(config)
//	if err != nil { return err }
//	if err := c.Attach(ctx, port); err != nil { return err }
//	defer c.Release()
//
//	err = c.Run(ctx, &chat.Script{
//		Name:        "ping",
//		ScriptChats: []chat.ScriptChat{chat.NewScriptChat("AT", chat.NewMatch("OK", "", nil))},
//		Timeout:     time.Second,
//	})
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Chat is a chat script engine bound to at most one transport at a time.
// It is safe for concurrent use.
type Chat struct {
	logger    *slog.Logger
	userData  any
	delimiter []byte
	unsol     []Match

	// argv is the argument scratch table. Only the receive loop touches it.
	argv []string

	mu        sync.Mutex
	framer    *framer
	transport Transport
	cancel    context.CancelFunc
	done      chan struct{}
	run       *scriptRun
}

// scriptRun is the state of one script run. A run is current while it is
// referenced by Chat.run; timers and lines holding a stale run are ignored.
type scriptRun struct {
	script      *Script
	step        int
	started     time.Time
	scriptTimer *time.Timer
	stepTimer   *time.Timer
	// done receives the result of runs started by Run.
	done chan<- ScriptResult
}

func (r *scriptRun) stopTimers() {
	if r.scriptTimer != nil {
		r.scriptTimer.Stop()
	}
	r.stopStepTimer()
}

func (r *scriptRun) stopStepTimer() {
	if r.stepTimer != nil {
		r.stepTimer.Stop()
		r.stepTimer = nil
	}
}

func (r *scriptRun) responseMatches() []Match {
	if r.step >= len(r.script.ScriptChats) {
		return nil
	}
	return r.script.ScriptChats[r.step].ResponseMatches
}

func noop() {}

// New creates a Chat from config. The chat is idle and detached.
func New(config Config) (*Chat, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prompts := make([][]byte, 0, len(config.Prompts))
	for _, p := range config.Prompts {
		prompts = append(prompts, []byte(p))
	}

	return &Chat{
		logger:    logger,
		userData:  config.UserData,
		delimiter: []byte(config.Delimiter),
		unsol:     config.UnsolMatches,
		argv:      make([]string, 0, config.ArgvSize),
		framer:    newFramer(config.ReceiveBufSize, []byte(config.Delimiter), []byte(config.Filter), prompts),
	}, nil
}

// UserData returns the user data the chat was configured with.
func (c *Chat) UserData() any {
	return c.userData
}

// Attach binds the chat to transport and starts receiving from it. The
// receive loop runs until ctx is cancelled, Release is called or the
// transport fails.
//
// A transport is read by one goroutine for as long as it works, across
// attachments, so it may be attached again after Release. It returns an
// error wrapping ErrAlreadyAttached while another chat is attached to
// transport.
func (c *Chat) Attach(ctx context.Context, transport Transport) error {
	if transport == nil {
		return fmt.Errorf("nil transport: %w", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return ErrAlreadyAttached
	}

	s := newSink()
	if err := attachReader(transport, s); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.transport = transport
	c.cancel = cancel
	c.done = make(chan struct{})
	c.framer.reset()

	go c.loop(loopCtx, transport, s, c.done)
	return nil
}

// Release aborts the running script, if any, stops the receive loop and
// detaches the transport. It must not be called from a chat callback.
func (c *Chat) Release() {
	c.mu.Lock()
	if c.transport == nil {
		c.mu.Unlock()
		return
	}

	notify := noop
	if c.run != nil {
		notify = c.stopLocked(ResultAbort)
	}
	cancel, done := c.cancel, c.done
	c.transport = nil
	c.cancel = nil
	c.done = nil
	c.framer.reset()
	c.mu.Unlock()

	notify()
	cancel()
	<-done
}

// IsRunning reports whether a script is running.
func (c *Chat) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// RunAsync starts script and returns immediately. The outcome is delivered
// to the script callback.
//
// It returns an error wrapping ErrInvalidScript if the script does not
// validate, ErrNotAttached without a transport and ErrBusy while another
// script runs. RunAsync may be called from a chat callback.
func (c *Chat) RunAsync(script *Script) error {
	_, err := c.start(script, nil)
	return err
}

// Run starts script and blocks until it ends. It returns nil on success
// and an error wrapping ErrScriptFailed on abort or timeout. When ctx is
// done first the script is aborted and the context error is returned,
// unless the script succeeded in the meantime.
//
// The script callback, if any, still fires. Run must not be called from a
// chat callback.
func (c *Chat) Run(ctx context.Context, script *Script) error {
	done := make(chan ScriptResult, 1)
	run, err := c.start(script, done)
	if err != nil {
		return err
	}

	select {
	case result := <-done:
		if result != ResultSuccess {
			return fmt.Errorf("script %q ended with %s: %w", script.Name, result, ErrScriptFailed)
		}
		return nil
	case <-ctx.Done():
		c.stop(run, ResultAbort)
		if result := <-done; result == ResultSuccess {
			return nil
		}
		return fmt.Errorf("script %q: %w", script.Name, ctx.Err())
	}
}

// Abort ends the running script with ResultAbort. It does nothing when the
// chat is idle.
func (c *Chat) Abort() {
	c.mu.Lock()
	if c.run == nil {
		c.mu.Unlock()
		return
	}
	notify := c.stopLocked(ResultAbort)
	c.mu.Unlock()
	notify()
}

func (c *Chat) start(script *Script, done chan<- ScriptResult) (*scriptRun, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.transport == nil {
		c.mu.Unlock()
		return nil, ErrNotAttached
	}
	if c.run != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}

	run := &scriptRun{
		script:  script,
		started: time.Now(),
		done:    done,
	}
	c.run = run
	c.framer.reset()

	if script.Timeout > 0 {
		run.scriptTimer = time.AfterFunc(script.Timeout, func() {
			c.stop(run, ResultTimeout)
		})
	}

	c.logger.Debug("chat script started", "script", script.Name, "steps", len(script.ScriptChats))

	notify := c.startStepLocked()
	c.mu.Unlock()
	notify()
	return run, nil
}

// startStepLocked sends the request of the current step and arms its
// timer. Steps which expect no response and have no delay are passed
// through. The returned function delivers the result if the script ended.
func (c *Chat) startStepLocked() func() {
	run := c.run
	run.stopStepTimer()

	for {
		if run.step == len(run.script.ScriptChats) {
			return c.stopLocked(ResultSuccess)
		}

		sc := &run.script.ScriptChats[run.step]
		if err := c.sendLocked(sc.Request); err != nil {
			c.logger.Warn("failed to send chat request",
				"script", run.script.Name, "step", run.step, "error", err)
			return c.stopLocked(ResultAbort)
		}

		if sc.expectsResponse() || sc.Timeout > 0 {
			if sc.Timeout > 0 {
				step := run.step
				run.stepTimer = time.AfterFunc(sc.Timeout, func() {
					c.onStepTimer(run, step)
				})
			}
			return noop
		}

		run.step++
	}
}

func (c *Chat) sendLocked(request string) error {
	if request == "" {
		return nil
	}

	wire := make([]byte, 0, len(request)+len(c.delimiter))
	wire = append(wire, request...)
	wire = append(wire, c.delimiter...)

	c.logger.Debug("chat request", "request", request)
	if _, err := c.transport.Write(wire); err != nil {
		return fmt.Errorf("write request %q: %w", request, err)
	}
	return nil
}

// stopLocked returns the chat to idle and returns the function delivering
// the result, to be called once the lock is released.
func (c *Chat) stopLocked(result ScriptResult) func() {
	run := c.run
	c.run = nil
	run.stopTimers()

	c.logger.Debug("chat script stopped",
		"script", run.script.Name,
		"result", result.String(),
		"step", run.step,
		"elapsed", time.Since(run.started))

	return func() {
		if cb := run.script.Callback; cb != nil {
			cb(c, result, c.userData)
		}
		if run.done != nil {
			run.done <- result
		}
	}
}

// stop ends run with result unless it already ended.
func (c *Chat) stop(run *scriptRun, result ScriptResult) {
	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		return
	}
	notify := c.stopLocked(result)
	c.mu.Unlock()
	notify()
}

// next moves run past its current step.
func (c *Chat) next(run *scriptRun) {
	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		return
	}
	run.step++
	notify := c.startStepLocked()
	c.mu.Unlock()
	notify()
}

func (c *Chat) onStepTimer(run *scriptRun, step int) {
	c.mu.Lock()
	if c.run != run || run.step != step {
		c.mu.Unlock()
		return
	}

	var notify func()
	if run.script.ScriptChats[step].expectsResponse() {
		c.logger.Debug("chat step timed out", "script", run.script.Name, "step", step)
		notify = c.stopLocked(ResultTimeout)
	} else {
		run.step++
		notify = c.startStepLocked()
	}
	c.mu.Unlock()
	notify()
}

// loop is the receive loop. It is the only goroutine dispatching lines, so
// lines are handled in arrival order.
func (c *Chat) loop(ctx context.Context, transport Transport, s *sink, done chan<- struct{}) {
	defer close(done)
	defer detachReader(transport, s)

	for {
		select {
		case <-ctx.Done():
			return

		case chunk := <-s.chunks:
			c.receive(chunk)

		case err := <-s.errs:
			for drained := false; !drained; {
				select {
				case chunk := <-s.chunks:
					c.receive(chunk)
				default:
					drained = true
				}
			}
			c.onTransportError(err)
			return
		}
	}
}

func (c *Chat) onTransportError(err error) {
	if errors.Is(err, io.EOF) {
		c.logger.Info("chat transport closed")
	} else {
		c.logger.Warn("chat transport read failed", "error", err)
	}

	c.mu.Lock()
	if c.run == nil {
		c.mu.Unlock()
		return
	}
	notify := c.stopLocked(ResultAbort)
	c.mu.Unlock()
	notify()
}

func (c *Chat) receive(p []byte) {
	c.mu.Lock()
	overflows := c.framer.overflows
	lines := c.framer.feed(p)
	if c.framer.overflows != overflows {
		c.logger.Warn("chat receive buffer overrun, line dropped",
			"size", cap(c.framer.buf), "dropped", c.framer.overflows-overflows)
	}
	run := c.run
	c.mu.Unlock()

	for _, line := range lines {
		c.processLine(line, run)
	}
}

type matchKind int

const (
	matchUnsol matchKind = iota
	matchAbort
	matchResponse
)

// processLine resolves line and invokes its match. run is the script that
// was current when the line was framed; the script tables only apply while
// it still is.
func (c *Chat) processLine(line []byte, run *scriptRun) {
	c.mu.Lock()
	var match *Match
	kind := matchUnsol
	if run != nil && c.run == run {
		if m := findMatch(run.script.AbortMatches, line); m != nil {
			match, kind = m, matchAbort
		} else if m := findMatch(run.responseMatches(), line); m != nil {
			match, kind = m, matchResponse
		}
	}
	if match == nil {
		match = findMatch(c.unsol, line)
	}
	c.mu.Unlock()

	if match == nil {
		if len(line) > 0 {
			c.logger.Debug("chat line not matched", "line", string(line))
		}
		return
	}

	c.argv = tokenize(line, match, c.argv)
	if match.Callback != nil {
		match.Callback(c, c.argv, c.userData)
	}

	switch kind {
	case matchAbort:
		c.logger.Debug("chat abort match", "line", string(line))
		c.stop(run, ResultAbort)
	case matchResponse:
		if !match.Partial {
			c.next(run)
		}
	}
}

package chat

import (
	"fmt"
	"time"
)

// MaxRequestSize is the longest request accepted by SetRequest.
const MaxRequestSize = 65535

// ScriptResult is the outcome of a script run.
type ScriptResult int

const (
	// ResultSuccess means the last script chat received its response.
	ResultSuccess ScriptResult = iota
	// ResultAbort means an abort match fired, the transport failed or the
	// script was aborted by the caller.
	ResultAbort
	// ResultTimeout means the script deadline or a step timeout elapsed.
	ResultTimeout
)

func (r ScriptResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultAbort:
		return "abort"
	case ResultTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ScriptResult(%d)", int(r))
	}
}

// ScriptCallback is invoked exactly once per script run, after the chat has
// returned to idle.
type ScriptCallback func(c *Chat, result ScriptResult, userData any)

// ScriptChat is one request/response exchange of a Script.
type ScriptChat struct {
	// Request is written to the transport followed by the chat delimiter.
	// An empty request makes the step listen only.
	Request string
	// ResponseMatches completes the step on the first non partial match.
	// Without response matches the step waits Timeout and moves on.
	ResponseMatches []Match
	// Timeout bounds the wait for a response. Zero leaves it to the script
	// timeout.
	Timeout time.Duration
}

// NewScriptChat returns a step sending request and waiting for one of
// matches.
func NewScriptChat(request string, matches ...Match) ScriptChat {
	return ScriptChat{Request: request, ResponseMatches: matches}
}

// NewScriptChatNone returns a step sending request and then waiting
// timeout without expecting any response.
func NewScriptChatNone(request string, timeout time.Duration) ScriptChat {
	return ScriptChat{Request: request, Timeout: timeout}
}

// SetRequest sets the request.
func (sc *ScriptChat) SetRequest(request string) error {
	if len(request) > MaxRequestSize {
		return fmt.Errorf("request of %d bytes: %w", len(request), ErrInvalidArgument)
	}
	sc.Request = request
	return nil
}

// SetResponseMatches sets the response matches. At least one is required.
func (sc *ScriptChat) SetResponseMatches(matches []Match) error {
	if len(matches) == 0 {
		return fmt.Errorf("no response matches: %w", ErrInvalidArgument)
	}
	sc.ResponseMatches = matches
	return nil
}

// SetTimeout sets the step timeout.
func (sc *ScriptChat) SetTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return fmt.Errorf("negative timeout %s: %w", timeout, ErrInvalidArgument)
	}
	sc.Timeout = timeout
	return nil
}

func (sc *ScriptChat) expectsResponse() bool {
	return len(sc.ResponseMatches) > 0
}

// Script is an ordered list of script chats run to completion, abort or
// timeout.
type Script struct {
	// Name shows up in logs.
	Name        string
	ScriptChats []ScriptChat
	// AbortMatches are checked against every line while the script runs,
	// before the response matches of the current step.
	AbortMatches []Match
	// Callback is optional.
	Callback ScriptCallback
	// Timeout is the deadline of the whole script, measured from its start
	// and not reset between steps. Zero means no deadline.
	Timeout time.Duration
}

// SetName sets the name.
func (s *Script) SetName(name string) error {
	if name == "" {
		return fmt.Errorf("empty script name: %w", ErrInvalidArgument)
	}
	s.Name = name
	return nil
}

// SetScriptChats sets the steps of s. At least one is required.
func (s *Script) SetScriptChats(chats []ScriptChat) error {
	if len(chats) == 0 {
		return fmt.Errorf("no script chats: %w", ErrInvalidArgument)
	}
	s.ScriptChats = chats
	return nil
}

// SetAbortMatches sets the abort matches. An empty table disables them.
func (s *Script) SetAbortMatches(matches []Match) error {
	for i := range matches {
		if err := matches[i].validate(); err != nil {
			return err
		}
	}
	s.AbortMatches = matches
	return nil
}

// SetCallback sets the script callback.
func (s *Script) SetCallback(cb ScriptCallback) error {
	if cb == nil {
		return fmt.Errorf("nil script callback: %w", ErrInvalidArgument)
	}
	s.Callback = cb
	return nil
}

// SetTimeout sets the script deadline.
func (s *Script) SetTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return fmt.Errorf("negative timeout %s: %w", timeout, ErrInvalidArgument)
	}
	s.Timeout = timeout
	return nil
}

// Validate checks s and all of its matches.
func (s *Script) Validate() error {
	if s == nil {
		return fmt.Errorf("nil script: %w", ErrInvalidScript)
	}
	if len(s.ScriptChats) == 0 {
		return fmt.Errorf("script %q has no script chats: %w", s.Name, ErrInvalidScript)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("script %q has a negative timeout: %w", s.Name, ErrInvalidScript)
	}
	for i := range s.AbortMatches {
		if err := s.AbortMatches[i].validate(); err != nil {
			return fmt.Errorf("script %q abort match %d: %w: %w", s.Name, i, ErrInvalidScript, err)
		}
	}
	for i := range s.ScriptChats {
		sc := &s.ScriptChats[i]
		if len(sc.Request) > MaxRequestSize {
			return fmt.Errorf("script %q chat %d request too long: %w", s.Name, i, ErrInvalidScript)
		}
		if sc.Timeout < 0 {
			return fmt.Errorf("script %q chat %d has a negative timeout: %w", s.Name, i, ErrInvalidScript)
		}
		for u := range sc.ResponseMatches {
			if err := sc.ResponseMatches[u].validate(); err != nil {
				return fmt.Errorf("script %q chat %d match %d: %w: %w", s.Name, i, u, ErrInvalidScript, err)
			}
		}
	}
	return nil
}

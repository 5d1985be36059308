package chat

import "errors"

var (
	// ErrInvalidArgument is returned by the Match, ScriptChat and Script
	// setters when an argument is empty where a value is required, or
	// exceeds the supported size.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfig is returned by New and ConfigBuilder.Build when the
	// configuration lacks a receive buffer, delimiter or argv table, or is
	// otherwise inconsistent.
	ErrInvalidConfig = errors.New("invalid chat config")

	// ErrInvalidScript is returned when a script handed to RunAsync or Run
	// fails validation. The script is not started.
	ErrInvalidScript = errors.New("invalid chat script")

	// ErrBusy is returned when a script is started while another script is
	// running on the same chat.
	//
	// The running script is not affected.
	ErrBusy = errors.New("chat script already running")

	// ErrNotAttached is returned when a script is started on a chat that has
	// no transport attached.
	ErrNotAttached = errors.New("chat not attached")

	// ErrAlreadyAttached is returned by Attach when the chat is already
	// attached to a transport. Release it first.
	ErrAlreadyAttached = errors.New("chat already attached")

	// ErrScriptFailed is returned by Run when the script ended with
	// ResultAbort or ResultTimeout.
	//
	// Callers that need to tell the two apart should use RunAsync and
	// inspect the ScriptResult passed to the script callback.
	ErrScriptFailed = errors.New("chat script failed")
)

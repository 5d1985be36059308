package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/modemchat/at"
	"i4.energy/across/modemchat/chat"
	"i4.energy/across/modemchat/modem"
)

// portChat is a chat attached to a serial port.
type portChat struct {
	*chat.Chat
	transport modem.Transport
}

// openPortChat opens the configured serial port and attaches a chat to it.
// unsol receives every line which is not part of a running script.
func openPortChat(ctx context.Context, config *Config, logger *slog.Logger, unsol chat.MatchCallback) (*portChat, error) {
	dialer := modem.SerialDialer{
		PortName: config.SerialPort,
		BaudRate: config.BaudRate,
	}
	transport, err := dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	chatConfig, err := chat.NewConfigBuilder().
		WithReceiveBufSize(512).
		WithPrompts(at.Prompt).
		WithUnsolMatches(chat.AnyMatch("", unsol)).
		WithLogger(logger.With("component", "chat")).
		Build()
	if err != nil {
		transport.Close()
		return nil, err
	}

	c, err := chat.New(chatConfig)
	if err != nil {
		transport.Close()
		return nil, err
	}
	if err := c.Attach(context.WithoutCancel(ctx), transport); err != nil {
		transport.Close()
		return nil, err
	}

	logger.Debug("Serial port opened", "port", config.SerialPort, "baud_rate", config.BaudRate)
	return &portChat{Chat: c, transport: transport}, nil
}

// Close releases the chat and closes the port.
func (p *portChat) Close() error {
	p.Release()
	return p.transport.Close()
}

// lineOf rebuilds the received line from the argv of a match without
// separators.
func lineOf(argv []string) string {
	return strings.Join(argv, "")
}

// formatArgv renders the argv of a match with separators as
// "<prefix><arg>,<arg>,...".
func formatArgv(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0] + strings.Join(argv[1:], ",")
}

// commandScript turns one console line into a single step script that
// reports every response line to print and completes on OK or the SMS
// input prompt. A trailing "^Z" is sent as Ctrl-Z, which submits an SMS
// body typed after the prompt.
func commandScript(line string, timeout time.Duration, print chat.MatchCallback) (*chat.Script, error) {
	request := strings.TrimSpace(line)
	if body, ok := strings.CutSuffix(request, "^Z"); ok {
		request = body + at.CtrlZ
	}
	if request == "" {
		return nil, fmt.Errorf("empty command: %w", chat.ErrInvalidArgument)
	}

	script := &chat.Script{
		Name: "console",
		ScriptChats: []chat.ScriptChat{
			chat.NewScriptChat(request,
				chat.NewMatch(at.OK, "", print),
				chat.NewMatch(at.Prompt, "", print),
				chat.NewPartialMatch("", "", print),
			),
		},
		AbortMatches: []chat.Match{
			chat.NewMatch(at.ERROR, "", print),
			chat.NewMatch(at.CmeError, "", print),
			chat.NewMatch(at.CmsError, "", print),
			chat.NewMatch(at.NoCarrier, "", print),
		},
		Timeout: timeout,
	}
	return script, script.Validate()
}

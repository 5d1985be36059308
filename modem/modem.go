// Package modem drives a GSM/3G/4G cellular modem with AT command chat
// scripts.
//
// Every operation runs as a chat.Script on one chat.Chat attached to the
// modem transport; operations are serialized. Registration changes and
// other unsolicited result codes are handled by the unsolicited match table
// of the chat and forwarded to the URC channel.
package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"i4.energy/across/modemchat/at"
	"i4.energy/across/modemchat/chat"
)

const (
	receiveBufSize = 512
	argvSize       = 32
)

var okMatch = chat.NewMatch(at.OK, "", nil)

// network indexes the registration state of one access technology.
type network int

const (
	netGSM network = iota
	netGPRS
	netEPS
	netCount
)

// Info identifies the modem. It is queried once during initialization.
type Info struct {
	IMEI         string
	Model        string
	Manufacturer string
	Revision     string
}

// RegistrationStatus is the network registration state reported by
// +CREG, +CGREG and +CEREG.
type RegistrationStatus int

const (
	RegNotRegistered RegistrationStatus = 0
	RegHome          RegistrationStatus = 1
	RegSearching     RegistrationStatus = 2
	RegDenied        RegistrationStatus = 3
	RegUnknown       RegistrationStatus = 4
	RegRoaming       RegistrationStatus = 5
)

// IsRegistered reports whether the modem is attached to a home or
// roaming network.
func (s RegistrationStatus) IsRegistered() bool {
	return s == RegHome || s == RegRoaming
}

func (s RegistrationStatus) String() string {
	switch s {
	case RegNotRegistered:
		return "not registered"
	case RegHome:
		return "registered, home"
	case RegSearching:
		return "searching"
	case RegDenied:
		return "registration denied"
	case RegUnknown:
		return "unknown"
	case RegRoaming:
		return "registered, roaming"
	default:
		return fmt.Sprintf("RegistrationStatus(%d)", int(s))
	}
}

// Modem represents a GSM/3G/4G cellular modem that communicates via AT commands.
// It is safe for concurrent use.
type Modem struct {
	config    Config
	logger    *slog.Logger
	transport Transport
	chat      *chat.Chat

	// mu serializes scripts on chat.
	mu sync.Mutex

	// stateMu guards the fields below, which are also written from chat
	// callbacks.
	stateMu      sync.Mutex
	closed       bool
	info         Info
	registration [netCount]RegistrationStatus

	// urcChan receives Unsolicited Result Codes from the modem
	urcChan chan string
}

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// New creates a new Modem instance with the given configuration.
// It dials the transport, attaches a chat to it and runs the
// initialization scripts: echo off, verbose errors, SIM PIN if needed,
// SMS text mode, registration reports and identification.
//
// ctx bounds dialing and initialization only. Returns an error if the
// transport connection or modem initialization fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if config.Dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}

	m := &Modem{
		config:    config,
		logger:    config.Logger.With("component", "modem"),
		transport: transport,
		urcChan:   make(chan string, config.URCBufferSize),
	}

	chatConfig, err := chat.NewConfigBuilder().
		WithReceiveBufSize(receiveBufSize).
		WithDelimiter(at.CR).
		WithFilter(at.LF).
		WithPrompts(at.Prompt).
		WithArgvSize(argvSize).
		WithUnsolMatches(m.unsolMatches()...).
		WithLogger(config.Logger.With("component", "chat")).
		Build()
	if err == nil {
		m.chat, err = chat.New(chatConfig)
	}
	if err == nil {
		err = m.chat.Attach(context.WithoutCancel(ctx), transport)
	}
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("create chat: %w", err)
	}

	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}

	if err := m.init(initCtx); err != nil {
		m.chat.Release()
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	m.logger.Info("modem initialized",
		"imei", m.info.IMEI,
		"model", m.info.Model,
		"manufacturer", m.info.Manufacturer,
		"revision", m.info.Revision)
	return m, nil
}

func (m *Modem) unsolMatches() []chat.Match {
	return []chat.Match{
		chat.NewMatch(at.UrcRegistration+" ", ",", m.registrationHandler(netGSM, true)),
		chat.NewMatch(at.UrcGPRSReg+" ", ",", m.registrationHandler(netGPRS, true)),
		chat.NewMatch(at.UrcEPSReg+" ", ",", m.registrationHandler(netEPS, true)),
		chat.NewMatch(at.UrcNewMsg+" ", ",", m.onURC),
		chat.NewMatch(at.UrcMessageReport+" ", ",", m.onURC),
		chat.NewMatch(at.UrcCall, "", m.onURC),
	}
}

// registrationHandler records the status of a +CxREG line. The status is
// the only argument of the unsolicited form and the second one of the
// query response, which also comes with location and access technology
// in its long form.
func (m *Modem) registrationHandler(n network, forward bool) chat.MatchCallback {
	return func(c *chat.Chat, argv []string, userData any) {
		if forward {
			defer m.onURC(c, argv, userData)
		}

		var raw string
		switch len(argv) {
		case 2:
			raw = argv[1]
		case 3, 6:
			raw = argv[2]
		default:
			return
		}

		status, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			m.logger.Debug("ignoring registration status", "value", raw)
			return
		}

		m.stateMu.Lock()
		m.registration[n] = RegistrationStatus(status)
		m.stateMu.Unlock()
		m.logger.Debug("registration changed", "status", RegistrationStatus(status).String())
	}
}

// onURC forwards an unsolicited line to the URC channel. Lines are dropped
// when the channel is full.
func (m *Modem) onURC(_ *chat.Chat, argv []string, _ any) {
	line := argv[0] + strings.Join(argv[1:], ",")
	select {
	case m.urcChan <- line:
	default:
		m.logger.Warn("URC channel full, dropping", "urc", line)
	}
}

// URC returns a read-only channel that receives Unsolicited Result Codes.
// These are asynchronous notifications from the modem (e.g., incoming SMS,
// network status changes, etc.). The channel is buffered, but may drop
// some URC if not consumed fast enough. It is closed by Close.
func (m *Modem) URC() <-chan string {
	return m.urcChan
}

// Info returns the identification read during initialization.
func (m *Modem) Info() Info {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.info
}

// Registration returns the current registration status. A registered
// status of any access technology wins, LTE first.
func (m *Modem) Registration() RegistrationStatus {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	for _, n := range []network{netEPS, netGPRS, netGSM} {
		if m.registration[n].IsRegistered() {
			return m.registration[n]
		}
	}
	return m.registration[netGSM]
}

// Close shuts down the modem and releases all resources.
// It aborts a running command, stops the chat, closes the transport
// connection and the URC channel. After calling Close(), the modem cannot
// be reused.
func (m *Modem) Close() error {
	m.stateMu.Lock()
	if m.closed {
		m.stateMu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	m.stateMu.Unlock()

	m.chat.Release()
	err := m.transport.Close()
	close(m.urcChan)
	return err
}

func (m *Modem) isClosed() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.closed
}

// run executes chats as one script bounded by timeout. Error result codes
// abort the script and are included in the returned error.
func (m *Modem) run(ctx context.Context, name string, timeout time.Duration, chats ...chat.ScriptChat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chat == nil {
		return ErrNotInitialized
	}
	if m.isClosed() {
		return ErrAlreadyClosed
	}

	var reply string
	onError := func(_ *chat.Chat, argv []string, _ any) {
		reply = strings.Join(argv, "")
	}

	script := &chat.Script{
		Name:        name,
		ScriptChats: chats,
		AbortMatches: []chat.Match{
			chat.NewMatch(at.ERROR, "", onError),
			chat.NewMatch(at.CmeError, "", onError),
			chat.NewMatch(at.CmsError, "", onError),
		},
		Timeout: timeout,
	}

	err := m.chat.Run(ctx, script)
	if errors.Is(err, chat.ErrNotAttached) {
		return ErrAlreadyClosed
	}
	if err != nil && reply != "" {
		return fmt.Errorf("%s: modem replied %q: %w", name, reply, err)
	}
	return err
}

// timeout is the script timeout for n AT commands.
func (m *Modem) timeout(n int) time.Duration {
	return time.Duration(n) * m.config.ATTimeout
}

func okChat(request string) chat.ScriptChat {
	return chat.NewScriptChat(request, okMatch)
}

// valueChat sends request and stores the value following prefix, or the
// whole line for an empty prefix. It must be followed by a chat waiting
// for OK.
func valueChat(request, prefix string, value *string) chat.ScriptChat {
	return chat.NewScriptChat(request, chat.NewMatch(prefix, "", func(_ *chat.Chat, argv []string, _ any) {
		if len(argv) > 1 {
			*value = strings.TrimSpace(argv[1])
		}
	}))
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	var sim string
	err := m.run(ctx, "init", m.timeout(4),
		okChat(at.CmdAt),
		okChat(at.CmdEchoOff),
		okChat(at.CmdVerboseErrors),
		valueChat(at.CmdSimStatus, "+CPIN: ", &sim),
		okChat(""),
	)
	if err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	switch sim {
	case at.SimReady:
		// OK

	case at.SimPin:
		if m.config.SimPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.run(ctx, "enter PIN", m.timeout(1), okChat(fmt.Sprintf(`AT+CPIN="%s"`, m.config.SimPIN))); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := m.waitForSIMReady(ctx, m.config.SimPoll); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state %q: %w", sim, ErrInvalidResponse)
	}

	var info Info
	err = m.run(ctx, "setup", m.timeout(7),
		okChat(at.CmdSetTextMode),
		okChat(at.CmdRegUnsol),
		valueChat(at.CmdIMEI, "", &info.IMEI),
		okChat(""),
		valueChat(at.CmdModel, "", &info.Model),
		okChat(""),
		valueChat(at.CmdManufacturer, "", &info.Manufacturer),
		okChat(""),
		valueChat(at.CmdRevision, "", &info.Revision),
		okChat(""),
		chat.NewScriptChat(at.CmdRegStatus,
			chat.NewMatch(at.UrcRegistration+" ", ",", m.registrationHandler(netGSM, false))),
		okChat(""),
	)
	if err != nil {
		return fmt.Errorf("set up modem: %w", err)
	}

	m.stateMu.Lock()
	m.info = info
	m.stateMu.Unlock()
	return nil
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational. Uses configurable polling interval
// and retry limits to avoid infinite waiting.
func (m *Modem) waitForSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}

			var sim string
			err := m.run(ctx, "SIM status", m.timeout(1), valueChat(at.CmdSimStatus, "+CPIN: ", &sim), okChat(""))
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if sim == at.SimReady {
				return nil
			}
		}
	}
}

// SignalQuality returns the received signal strength in dBm.
func (m *Modem) SignalQuality(ctx context.Context) (int, error) {
	var raw string
	err := m.run(ctx, "signal quality", m.timeout(1),
		chat.NewScriptChat(at.CmdSignalQuality,
			chat.NewMatch(at.UrcSignalStrength+" ", ",", func(_ *chat.Chat, argv []string, _ any) {
				if len(argv) > 1 {
					raw = argv[1]
				}
			})),
		okChat(""),
	)
	if err != nil {
		return 0, err
	}

	csq, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || csq < 0 || csq > 31 {
		return 0, fmt.Errorf("signal quality %q: %w", raw, ErrInvalidResponse)
	}
	return -113 + 2*csq, nil
}

// Exec sends an arbitrary AT command and returns the lines of its response,
// without the final OK.
func (m *Modem) Exec(ctx context.Context, cmd string) ([]string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil, fmt.Errorf("empty command: %w", ErrInvalidArgument)
	}

	var lines []string
	err := m.run(ctx, cmd, m.timeout(1),
		chat.NewScriptChat(cmd,
			okMatch,
			chat.NewPartialMatch("", "", func(_ *chat.Chat, argv []string, _ any) {
				lines = append(lines, strings.Join(argv, ""))
			}),
		),
	)
	return lines, err
}

package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/modemchat/at"
	"i4.energy/across/modemchat/chat"
)

// Message storage states accepted by ListSMS and reported in SMS.Status.
const (
	StatusUnread = "REC UNREAD"
	StatusRead   = "REC READ"
	StatusUnsent = "STO UNSENT"
	StatusSent   = "STO SENT"
	StatusAll    = "ALL"
)

// SMS represents a text message stored on the modem.
type SMS struct {
	Index  int
	Status string // "REC UNREAD", "REC READ", "STO UNSENT", "STO SENT"
	Sender string
	Time   string
	Text   string
}

// SendSMS sends a text message to the specified recipient and returns the
// message reference assigned by the network.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+1234567890").
//
// This method blocks until the message is accepted by the network or an error
// occurs. Network delivery (to the final recipient) happens asynchronously.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (int, error) {
	if recipient == "" || strings.ContainsAny(recipient, "\"\r\n") {
		return 0, fmt.Errorf("recipient %q: %w", recipient, ErrInvalidArgument)
	}
	if strings.ContainsAny(message, at.CtrlZ+"\x1b") {
		return 0, fmt.Errorf("message contains control characters: %w", ErrInvalidArgument)
	}

	// The body is only written once the prompt was received.
	var ref string
	err := m.run(ctx, "send SMS", m.config.SMSTimeout,
		chat.NewScriptChat(fmt.Sprintf(`AT+CMGS="%s"`, recipient), chat.NewMatch(at.Prompt, "", nil)),
		chat.NewScriptChat(message+at.CtrlZ,
			chat.NewPartialMatch("+CMGS: ", "", func(_ *chat.Chat, argv []string, _ any) {
				if len(argv) > 1 {
					ref = argv[1]
				}
			}),
			okMatch,
		),
	)
	if err != nil {
		return 0, fmt.Errorf("SMS send failed: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(ref))
	if err != nil {
		return 0, fmt.Errorf("message reference %q: %w", ref, ErrInvalidResponse)
	}

	m.logger.Debug("SMS sent", "recipient", recipient, "reference", n)
	return n, nil
}

// ListSMS returns the stored messages in status, one of the Status
// constants.
func (m *Modem) ListSMS(ctx context.Context, status string) ([]SMS, error) {
	if status == "" || strings.ContainsAny(status, "\"\r\n") {
		return nil, fmt.Errorf("status %q: %w", status, ErrInvalidArgument)
	}

	var (
		messages []SMS
		bodies   [][]string
		current  = -1
	)
	onHeader := func(_ *chat.Chat, argv []string, _ any) {
		sms, err := parseListHeader(argv)
		if err != nil {
			m.logger.Warn("skipping message", "error", err)
			current = -1
			return
		}
		messages = append(messages, sms)
		bodies = append(bodies, nil)
		current = len(messages) - 1
	}
	// Blank lines belong to the body. Those ending it are trimmed below.
	onBody := func(_ *chat.Chat, argv []string, _ any) {
		if current < 0 {
			return
		}
		bodies[current] = append(bodies[current], strings.Join(argv[1:], ""))
	}

	err := m.run(ctx, "list SMS", m.timeout(2),
		chat.NewScriptChat(fmt.Sprintf(`AT+CMGL="%s"`, status),
			okMatch,
			chat.NewPartialMatch("+CMGL: ", ",", onHeader),
			chat.Match{Partial: true, EmptyLines: true, Callback: onBody},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("list SMS: %w", err)
	}

	for i, body := range bodies {
		for len(body) > 0 && body[len(body)-1] == "" {
			body = body[:len(body)-1]
		}
		messages[i].Text = strings.Join(body, "\n")
	}
	return messages, nil
}

// parseListHeader parses the fields of
//
//	+CMGL: <index>,<stat>,<oa/da>,[<alpha>],[<scts>]
//
// where the timestamp itself contains a comma.
func parseListHeader(argv []string) (SMS, error) {
	if len(argv) < 3 {
		return SMS{}, fmt.Errorf("short +CMGL line: %w", ErrInvalidResponse)
	}

	index, err := strconv.Atoi(strings.TrimSpace(argv[1]))
	if err != nil {
		return SMS{}, fmt.Errorf("message index %q: %w", argv[1], ErrInvalidResponse)
	}

	sms := SMS{
		Index:  index,
		Status: unquote(argv[2]),
	}
	if len(argv) > 3 {
		sms.Sender = unquote(argv[3])
	}
	if len(argv) > 5 {
		sms.Time = unquote(strings.Join(argv[5:], ","))
	}
	return sms, nil
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// DeleteSMS deletes the message stored at index.
func (m *Modem) DeleteSMS(ctx context.Context, index int) error {
	if index < 0 {
		return fmt.Errorf("message index %d: %w", index, ErrInvalidArgument)
	}
	if err := m.run(ctx, "delete SMS", m.timeout(1), okChat(fmt.Sprintf("AT+CMGD=%d", index))); err != nil {
		return fmt.Errorf("delete SMS %d: %w", index, err)
	}
	return nil
}

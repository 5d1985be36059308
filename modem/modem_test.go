package modem_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"i4.energy/across/modemchat/chat"
	"i4.energy/across/modemchat/chat/chattest"
	"i4.energy/across/modemchat/modem"
)

// newFailingModem runs New against transactions that make it fail and
// returns the error.
func newFailingModem(t *testing.T, transactions []chattest.Transaction, opts ...func(*modem.ConfigBuilder)) error {
	t.Helper()

	ctrl := gomock.NewController(t)
	mockTransport := modem.NewMockTransport(ctrl)
	mockDialer := modem.NewMockDialer(ctrl)

	pipe := chattest.NewPipe()
	pipe.Prime(transactions...)
	pipeTransport(mockTransport, pipe)

	gomock.InOrder(
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
		mockTransport.EXPECT().Close().DoAndReturn(pipe.Close),
	)

	builder := modem.NewConfigBuilder().WithDialer(mockDialer)
	for _, opt := range opts {
		opt(builder)
	}
	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if m != nil {
		t.Error("New() should return nil modem when error occurs")
	}
	if err == nil {
		t.Fatal("expected error from New()")
	}
	return err
}

func TestModemNew(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		m, _ := newTestModem(t, initSequence())

		info := m.Info()
		if info.IMEI != "862030012345678" {
			t.Errorf("unexpected IMEI: %q", info.IMEI)
		}
		if info.Model != "SIMCOM_SIM800L" {
			t.Errorf("unexpected model: %q", info.Model)
		}
		if info.Manufacturer != "SIMCOM_Ltd" {
			t.Errorf("unexpected manufacturer: %q", info.Manufacturer)
		}
		if info.Revision != "Revision:1418B05SIM800L24" {
			t.Errorf("unexpected revision: %q", info.Revision)
		}
		if got := m.Registration(); got != modem.RegHome {
			t.Errorf("expected home registration, got %s", got)
		}
	})

	t.Run("SIM PIN entered and polled", func(t *testing.T) {
		sequence := NewMockSequence().
			AT().
			EchoOff().
			VerboseErrors().
			SimPinRequired().
			EnterPIN("1234").
			SimPinRequired().
			SimReady().
			Setup().
			Build()

		m, _ := newTestModem(t, sequence, func(b *modem.ConfigBuilder) {
			b.WithSimPIN("1234").WithSimPoll(modem.PollConfig{Interval: 10 * time.Millisecond, MaxRetries: 5})
		})
		if m.Info().IMEI == "" {
			t.Error("expected identification after SIM unlock")
		}
	})

	t.Run("ErrSIMPinRequired when SIM PIN is required but not provided", func(t *testing.T) {
		sequence := NewMockSequence().
			AT().
			EchoOff().
			VerboseErrors().
			SimPinRequired().
			Build()

		err := newFailingModem(t, sequence)
		if !errors.Is(err, modem.ErrSIMPinRequired) {
			t.Errorf("expected ErrSIMPinRequired, got: %v", err)
		}
	})

	t.Run("Unsupported SIM state", func(t *testing.T) {
		sequence := NewMockSequence().
			AT().
			EchoOff().
			VerboseErrors().
			Reply("AT+CPIN?", "\r\n+CPIN: SIM PUK\r\n\r\nOK\r\n").
			Build()

		err := newFailingModem(t, sequence)
		if !errors.Is(err, modem.ErrInvalidResponse) {
			t.Errorf("expected ErrInvalidResponse, got: %v", err)
		}
	})

	t.Run("Modem error during initialization", func(t *testing.T) {
		sequence := NewMockSequence().
			AT().
			EchoOff().
			Reply("AT+CMEE=2", "\r\nERROR\r\n").
			Build()

		err := newFailingModem(t, sequence)
		if !errors.Is(err, chat.ErrScriptFailed) {
			t.Errorf("expected ErrScriptFailed, got: %v", err)
		}
		if !strings.Contains(err.Error(), `"ERROR"`) {
			t.Errorf("expected modem reply in error, got: %v", err)
		}
	})

	t.Run("Modem not responding", func(t *testing.T) {
		err := newFailingModem(t, nil, func(b *modem.ConfigBuilder) {
			b.WithATTimeout(20 * time.Millisecond)
		})
		if !errors.Is(err, chat.ErrScriptFailed) {
			t.Errorf("expected ErrScriptFailed, got: %v", err)
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()

		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		ctx := context.Background()
		m, err := modem.New(ctx, config)

		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if m != nil {
			t.Error("New() should return nil modem when dialer fails")
		}
	})

	t.Run("ErrNoDialer without dialer", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem without dialer")
		}
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Closes underlying transport successfully", func(t *testing.T) {
		m, _ := newTestModem(t, initSequence())

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
		if _, ok := <-m.URC(); ok {
			t.Error("expected URC channel to be closed")
		}
	})

	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		pipe := chattest.NewPipe()
		pipe.Prime(initSequence()...)
		pipeTransport(mockTransport, pipe)

		closeError := errors.New("transport close failed")
		gomock.InOrder(
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			mockTransport.EXPECT().Close().DoAndReturn(func() error {
				pipe.Close()
				return closeError
			}),
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != closeError {
			t.Errorf("expected transport error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		m, _ := newTestModem(t, initSequence())

		// First close should succeed
		if err := m.Close(); err != nil {
			t.Errorf("first close should succeed, got error: %v", err)
		}

		// Second close should return ErrAlreadyClosed
		if err := m.Close(); err != modem.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed on second close, got: %v", err)
		}
	})

	t.Run("Operations fail after close", func(t *testing.T) {
		m, _ := newTestModem(t, initSequence())
		m.Close()

		if _, err := m.SignalQuality(context.Background()); !errors.Is(err, modem.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
		if err := m.DeleteSMS(context.Background(), 1); !errors.Is(err, modem.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
	})
}

func TestModemURC(t *testing.T) {
	t.Run("Dispatch URCs to the designated channel", func(t *testing.T) {
		m, pipe := newTestModem(t, initSequence())

		pipe.Put("\r\n+CMTI: \"SM\",1\r\n")

		select {
		case urc := <-m.URC():
			if urc != `+CMTI: "SM",1` {
				t.Errorf("unexpected URC: %q", urc)
			}
		case <-time.After(time.Second):
			t.Error("expected URC to be received within timeout")
		}
	})

	t.Run("Registration changes", func(t *testing.T) {
		m, pipe := newTestModem(t, initSequence())

		pipe.Put("\r\n+CREG: 5\r\n")

		select {
		case urc := <-m.URC():
			if urc != "+CREG: 5" {
				t.Errorf("unexpected URC: %q", urc)
			}
		case <-time.After(time.Second):
			t.Fatal("expected registration URC")
		}
		if got := m.Registration(); got != modem.RegRoaming {
			t.Errorf("expected roaming, got %s", got)
		}

		pipe.Put("\r\n+CREG: 2\r\n\r\n+CEREG: 1\r\n")
		<-m.URC()
		<-m.URC()
		if got := m.Registration(); got != modem.RegHome {
			t.Errorf("expected LTE registration to win, got %s", got)
		}
	})

	t.Run("Full channel drops URCs", func(t *testing.T) {
		m, pipe := newTestModem(t, initSequence(), func(b *modem.ConfigBuilder) {
			b.WithURCBufferSize(1)
		})

		pipe.Put("RING\r\nRING\r\n")
		pipe.Prime(chattest.Transaction{Get: "AT+CSQ\r", Put: "\r\n+CSQ: 10,0\r\n\r\nOK\r\n"})

		// A completed command proves both lines were dispatched.
		if _, err := m.SignalQuality(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if urc := <-m.URC(); urc != "RING" {
			t.Errorf("unexpected URC: %q", urc)
		}
		select {
		case urc := <-m.URC():
			t.Errorf("expected dropped URC, got %q", urc)
		default:
		}
	})
}

func TestSignalQuality(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    int
		wantErr error
	}{
		{"strong", "\r\n+CSQ: 31,0\r\n\r\nOK\r\n", -51, nil},
		{"weak", "\r\n+CSQ: 2,99\r\n\r\nOK\r\n", -109, nil},
		{"unknown", "\r\n+CSQ: 99,99\r\n\r\nOK\r\n", 0, modem.ErrInvalidResponse},
		{"error", "\r\n+CME ERROR: SIM not inserted\r\n", 0, chat.ErrScriptFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, pipe := newTestModem(t, initSequence())
			pipe.Prime(chattest.Transaction{Get: "AT+CSQ\r", Put: tt.reply})

			got, err := m.SignalQuality(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d dBm, got %d", tt.want, got)
			}
		})
	}
}

func TestExec(t *testing.T) {
	m, pipe := newTestModem(t, initSequence())
	pipe.Prime(chattest.Transaction{Get: "AT+COPS?\r", Put: "\r\n+COPS: 0,0,\"Telekom.de\"\r\n\r\nOK\r\n"})

	lines, err := m.Exec(context.Background(), " AT+COPS? ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0] != `+COPS: 0,0,"Telekom.de"` {
		t.Errorf("unexpected lines: %q", lines)
	}

	if _, err := m.Exec(context.Background(), "  "); !errors.Is(err, modem.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got: %v", err)
	}
}

func TestRegistrationStatusString(t *testing.T) {
	if !modem.RegRoaming.IsRegistered() || modem.RegSearching.IsRegistered() {
		t.Error("unexpected IsRegistered result")
	}
	if got := modem.RegistrationStatus(9).String(); got != "RegistrationStatus(9)" {
		t.Errorf("unexpected string: %q", got)
	}
}

func TestModemNotInitialized(t *testing.T) {
	var m modem.Modem

	if _, err := m.SignalQuality(context.Background()); !errors.Is(err, modem.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got: %v", err)
	}
	if err := m.DeleteSMS(context.Background(), 1); !errors.Is(err, modem.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got: %v", err)
	}
}

package modem_test

import (
	"context"
	"fmt"
	"testing"

	gomock "go.uber.org/mock/gomock"

	"i4.energy/across/modemchat/chat/chattest"
	"i4.energy/across/modemchat/modem"
)

// MockSequenceBuilder builds the request/reply transactions a modem
// answers with, in order.
type MockSequenceBuilder struct {
	transactions []chattest.Transaction
}

func NewMockSequence() *MockSequenceBuilder {
	return &MockSequenceBuilder{}
}

// Reply answers request with reply. The request delimiter is added.
func (b *MockSequenceBuilder) Reply(request, reply string) *MockSequenceBuilder {
	b.transactions = append(b.transactions, chattest.Transaction{Get: request + "\r", Put: reply})
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	// Echo is still on.
	return b.Reply("AT", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Reply("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Reply("AT+CMEE=2", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Reply("AT+CPIN?", "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Reply("AT+CPIN?", "\r\n+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EnterPIN(pin string) *MockSequenceBuilder {
	return b.Reply(fmt.Sprintf(`AT+CPIN="%s"`, pin), "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Reply("AT+CMGF=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) RegistrationReports() *MockSequenceBuilder {
	return b.Reply("AT+CREG=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Identify() *MockSequenceBuilder {
	return b.
		Reply("AT+CGSN", "\r\n862030012345678\r\n\r\nOK\r\n").
		Reply("AT+CGMM", "\r\nSIMCOM_SIM800L\r\n\r\nOK\r\n").
		Reply("AT+CGMI", "\r\nSIMCOM_Ltd\r\n\r\nOK\r\n").
		Reply("AT+CGMR", "\r\nRevision:1418B05SIM800L24\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) RegistrationStatus(stat int) *MockSequenceBuilder {
	return b.Reply("AT+CREG?", fmt.Sprintf("\r\n+CREG: 1,%d\r\n\r\nOK\r\n", stat))
}

// Setup continues a sequence after the SIM is ready.
func (b *MockSequenceBuilder) Setup() *MockSequenceBuilder {
	return b.SMSTextMode().RegistrationReports().Identify().RegistrationStatus(1)
}

func (b *MockSequenceBuilder) Build() []chattest.Transaction {
	return b.transactions
}

// initSequence is a complete, successful initialization.
func initSequence() []chattest.Transaction {
	return NewMockSequence().
		AT().
		EchoOff().
		VerboseErrors().
		SimReady().
		Setup().
		Build()
}

// pipeTransport makes mockTransport read and write through pipe.
func pipeTransport(mockTransport *modem.MockTransport, pipe *chattest.Pipe) {
	mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(pipe.Read).AnyTimes()
	mockTransport.EXPECT().Write(gomock.Any()).DoAndReturn(pipe.Write).AnyTimes()
}

// newTestModem creates a modem answering the given transactions. Close is
// expected exactly once.
func newTestModem(t *testing.T, transactions []chattest.Transaction, opts ...func(*modem.ConfigBuilder)) (*modem.Modem, *chattest.Pipe) {
	t.Helper()

	ctrl := gomock.NewController(t)
	mockTransport := modem.NewMockTransport(ctrl)
	mockDialer := modem.NewMockDialer(ctrl)

	pipe := chattest.NewPipe()
	t.Cleanup(func() { pipe.Close() })
	pipe.Prime(transactions...)
	pipeTransport(mockTransport, pipe)

	mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
	mockTransport.EXPECT().Close().DoAndReturn(pipe.Close)

	builder := modem.NewConfigBuilder().WithDialer(mockDialer)
	for _, opt := range opts {
		opt(builder)
	}
	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	// Drop the initialization traffic.
	pipe.Get()
	return m, pipe
}

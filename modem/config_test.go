package modem_test

import (
	"testing"
	"time"

	"i4.energy/across/modemchat/modem"
)

func TestConfig(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := modem.NewConfigBuilder().Build()

		if err != modem.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Defaults applied", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().
			WithDialer(modem.SerialDialer{PortName: "/dev/ttyUSB2"}).
			Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if config.ATTimeout != 5*time.Second {
			t.Errorf("unexpected AT timeout: %s", config.ATTimeout)
		}
		if config.InitTimeout != 30*time.Second {
			t.Errorf("unexpected init timeout: %s", config.InitTimeout)
		}
		if config.MinSendInterval != 2*time.Second {
			t.Errorf("unexpected send interval: %s", config.MinSendInterval)
		}
		if config.URCBufferSize != 100 {
			t.Errorf("unexpected URC buffer size: %d", config.URCBufferSize)
		}
		if config.Logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("Overrides kept", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().
			WithDialer(modem.SerialDialer{PortName: "/dev/ttyUSB2"}).
			WithSimPIN("0000").
			WithATTimeout(time.Second).
			WithInitTimeout(time.Minute).
			WithSMSTimeout(2 * time.Minute).
			WithMinSendInterval(time.Second).
			Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if config.SimPIN != "0000" || config.ATTimeout != time.Second || config.InitTimeout != time.Minute ||
			config.SMSTimeout != 2*time.Minute || config.MinSendInterval != time.Second {
			t.Errorf("overrides not kept: %+v", config)
		}
	})
}
